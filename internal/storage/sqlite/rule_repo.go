package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		rule.ID, rule.InstanceID, rule.Trigger, rule.Response, string(rule.MatchMode), rule.CaseSensitive, rule.Enabled,
		rule.Priority, nullIfEmpty(rule.Category), rule.MaxUsesPerDay, rule.CurrentUsesToday,
		formatTime(rule.UsageWindowStart), formatTimePtr(rule.LastUsedAt), formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt),
	)
	if err != nil {
		return model.AutoReplyRule{}, err
	}

	return rule, nil
}

func (r *ruleRepo) GetByID(ctx context.Context, id string) (model.AutoReplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_reply_rules WHERE id = ?`

	rule, err := scanRule(r.db.Conn.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.AutoReplyRule{}, mapError(err)
	}
	return rule, nil
}

func (r *ruleRepo) ListByInstance(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_reply_rules WHERE instance_id = ? ORDER BY priority DESC, id ASC`
	return r.list(ctx, query, instanceID)
}

func (r *ruleRepo) ListEnabledByInstance(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_reply_rules WHERE instance_id = ? AND enabled = 1 ORDER BY priority DESC, id ASC`
	return r.list(ctx, query, instanceID)
}

func (r *ruleRepo) list(ctx context.Context, query string, args ...any) ([]model.AutoReplyRule, error) {
	rows, err := r.db.Conn.QueryContext(ctx, query, args...)
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
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE auto_reply_rules
		SET trigger_text = ?, response = ?, match_mode = ?, case_sensitive = ?, enabled = ?, priority = ?, category = ?, max_uses_per_day = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Conn.ExecContext(ctx, query,
		rule.Trigger, rule.Response, string(rule.MatchMode), rule.CaseSensitive, rule.Enabled, rule.Priority,
		nullIfEmpty(rule.Category), rule.MaxUsesPerDay, formatTime(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		return model.AutoReplyRule{}, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return model.AutoReplyRule{}, mapError(sql.ErrNoRows)
	}

	return r.GetByID(ctx, rule.ID)
}

func (r *ruleRepo) IncrementUsage(ctx context.Context, id string, now time.Time) error {
	nowStr := formatTime(now)
	cutoff := formatTime(now.Add(-model.UsageWindow))

	query := `
		UPDATE auto_reply_rules
		SET current_uses_today = CASE WHEN usage_window_start <= ? THEN 1 ELSE current_uses_today + 1 END,
			usage_window_start = CASE WHEN usage_window_start <= ? THEN ? ELSE usage_window_start END,
			last_used_at = ?,
			updated_at = ?
		WHERE id = ?
			AND (max_uses_per_day = 0 OR usage_window_start <= ? OR current_uses_today < max_uses_per_day)
	`

	result, err := r.db.Conn.ExecContext(ctx, query, cutoff, cutoff, nowStr, nowStr, nowStr, id, cutoff)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return model.ErrCapReached
}

func (r *ruleRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM auto_reply_rules WHERE id = ?`
	result, err := r.db.Conn.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func (r *ruleRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	_, err := r.db.Conn.ExecContext(ctx, `DELETE FROM auto_reply_rules WHERE instance_id = ?`, instanceID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (model.AutoReplyRule, error) {
	var rule model.AutoReplyRule
	var matchMode, windowStart, createdAt, updatedAt string
	var lastUsedAt sql.NullString

	if err := row.Scan(
		&rule.ID, &rule.InstanceID, &rule.Trigger, &rule.Response, &matchMode, &rule.CaseSensitive, &rule.Enabled,
		&rule.Priority, &rule.Category, &rule.MaxUsesPerDay, &rule.CurrentUsesToday,
		&windowStart, &lastUsedAt, &createdAt, &updatedAt,
	); err != nil {
		return model.AutoReplyRule{}, err
	}

	rule.MatchMode = model.MatchMode(matchMode)
	rule.UsageWindowStart = parseTime(windowStart)
	rule.LastUsedAt = parseTimePtr(lastUsedAt)
	rule.CreatedAt = parseTime(createdAt)
	rule.UpdatedAt = parseTime(updatedAt)

	return rule, nil
}
