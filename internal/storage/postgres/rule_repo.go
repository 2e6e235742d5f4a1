package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/open-apime/autoreply/internal/storage/model"
)

const ruleColumns = `id, instance_id, trigger_text, response, match_mode, case_sensitive, enabled, priority, COALESCE(category, ''), max_uses_per_day, current_uses_today, usage_window_start, last_used_at, created_at, updated_at`

type ruleRepo struct {
	db *DB
}

func NewRuleRepository(db *DB) *ruleRepo {
	return &ruleRepo{db: db}
}

func (r *ruleRepo) Create(ctx context.Context, rule model.AutoReplyRule) (model.AutoReplyRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.UsageWindowStart.IsZero() {
		rule.UsageWindowStart = now
	}

	query := `
		INSERT INTO auto_reply_rules (id, instance_id, trigger_text, response, match_mode, case_sensitive, enabled, priority, category, max_uses_per_day, current_uses_today, usage_window_start, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING ` + ruleColumns

	created, err := scanRule(r.db.Pool.QueryRow(ctx, query,
		rule.ID, rule.InstanceID, rule.Trigger, rule.Response, string(rule.MatchMode), rule.CaseSensitive, rule.Enabled,
		rule.Priority, nullIfEmpty(rule.Category), rule.MaxUsesPerDay, rule.CurrentUsesToday,
		rule.UsageWindowStart, rule.LastUsedAt, rule.CreatedAt, rule.UpdatedAt,
	))
	if err != nil {
		return model.AutoReplyRule{}, err
	}

	return created, nil
}

func (r *ruleRepo) GetByID(ctx context.Context, id string) (model.AutoReplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_reply_rules WHERE id = $1`

	rule, err := scanRule(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AutoReplyRule{}, ErrNotFound
	}
	if err != nil {
		return model.AutoReplyRule{}, err
	}
	return rule, nil
}

func (r *ruleRepo) ListByInstance(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_reply_rules WHERE instance_id = $1 ORDER BY priority DESC, id ASC`
	return r.list(ctx, query, instanceID)
}

func (r *ruleRepo) ListEnabledByInstance(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_reply_rules WHERE instance_id = $1 AND enabled ORDER BY priority DESC, id ASC`
	return r.list(ctx, query, instanceID)
}

func (r *ruleRepo) list(ctx context.Context, query string, args ...any) ([]model.AutoReplyRule, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AutoReplyRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (r *ruleRepo) Update(ctx context.Context, rule model.AutoReplyRule) (model.AutoReplyRule, error) {
	query := `
		UPDATE auto_reply_rules
		SET trigger_text = $2, response = $3, match_mode = $4, case_sensitive = $5, enabled = $6, priority = $7, category = $8, max_uses_per_day = $9, updated_at = $10
		WHERE id = $1
		RETURNING ` + ruleColumns

	updated, err := scanRule(r.db.Pool.QueryRow(ctx, query,
		rule.ID, rule.Trigger, rule.Response, string(rule.MatchMode), rule.CaseSensitive, rule.Enabled, rule.Priority,
		nullIfEmpty(rule.Category), rule.MaxUsesPerDay, time.Now().UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AutoReplyRule{}, ErrNotFound
	}
	if err != nil {
		return model.AutoReplyRule{}, err
	}

	return updated, nil
}

func (r *ruleRepo) IncrementUsage(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE auto_reply_rules
		SET current_uses_today = CASE WHEN usage_window_start <= $2 THEN 1 ELSE current_uses_today + 1 END,
			usage_window_start = CASE WHEN usage_window_start <= $2 THEN $3 ELSE usage_window_start END,
			last_used_at = $3,
			updated_at = $3
		WHERE id = $1
			AND (max_uses_per_day = 0 OR usage_window_start <= $2 OR current_uses_today < max_uses_per_day)
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, now.Add(-model.UsageWindow), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return model.ErrCapReached
}

func (r *ruleRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM auto_reply_rules WHERE id = $1`
	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ruleRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM auto_reply_rules WHERE instance_id = $1`, instanceID)
	return err
}

func scanRule(row pgx.Row) (model.AutoReplyRule, error) {
	var rule model.AutoReplyRule
	var matchMode string

	err := row.Scan(
		&rule.ID, &rule.InstanceID, &rule.Trigger, &rule.Response, &matchMode, &rule.CaseSensitive, &rule.Enabled,
		&rule.Priority, &rule.Category, &rule.MaxUsesPerDay, &rule.CurrentUsesToday,
		&rule.UsageWindowStart, &rule.LastUsedAt, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return model.AutoReplyRule{}, err
	}
	rule.MatchMode = model.MatchMode(matchMode)

	return rule, nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
