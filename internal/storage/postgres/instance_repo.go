package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/open-apime/autoreply/internal/storage/model"
)

const instanceColumns = `id, name, COALESCE(api_url, ''), api_token_enc, COALESCE(webhook_token_hash, ''), min_send_interval_ms, max_retries, backoff_base_ms, business_hours, sender_cooldown_ms, created_at, updated_at`

type instanceRepo struct {
	db *DB
}

func NewInstanceRepository(db *DB) *instanceRepo {
	return &instanceRepo{db: db}
}

func (r *instanceRepo) Create(ctx context.Context, inst model.Instance) (model.Instance, error) {
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	query := `
		INSERT INTO instances (id, name, api_url, api_token_enc, webhook_token_hash, min_send_interval_ms, max_retries, backoff_base_ms, business_hours, sender_cooldown_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + instanceColumns

	return scanInstance(r.db.Pool.QueryRow(ctx, query,
		inst.ID, inst.Name, nullIfEmpty(inst.APIURL), inst.APITokenEnc, nullIfEmpty(inst.WebhookTokenHash),
		inst.MinSendInterval.Milliseconds(), inst.MaxRetries, inst.BackoffBase.Milliseconds(),
		inst.BusinessHours, inst.SenderCooldown.Milliseconds(),
		inst.CreatedAt, inst.UpdatedAt,
	))
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`

	inst, err := scanInstance(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Instance{}, ErrNotFound
	}
	if err != nil {
		return model.Instance{}, err
	}

	return inst, nil
}

func (r *instanceRepo) List(ctx context.Context) ([]model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

func (r *instanceRepo) Update(ctx context.Context, inst model.Instance) (model.Instance, error) {
	inst.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE instances
		SET name = $2, api_url = $3, api_token_enc = $4, webhook_token_hash = $5, min_send_interval_ms = $6, max_retries = $7, backoff_base_ms = $8,
		    business_hours = $9, sender_cooldown_ms = $10, updated_at = $11
		WHERE id = $1
		RETURNING ` + instanceColumns

	updated, err := scanInstance(r.db.Pool.QueryRow(ctx, query,
		inst.ID, inst.Name, nullIfEmpty(inst.APIURL), inst.APITokenEnc, nullIfEmpty(inst.WebhookTokenHash),
		inst.MinSendInterval.Milliseconds(), inst.MaxRetries, inst.BackoffBase.Milliseconds(),
		inst.BusinessHours, inst.SenderCooldown.Milliseconds(), inst.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Instance{}, ErrNotFound
	}
	if err != nil {
		return model.Instance{}, err
	}

	return updated, nil
}

func (r *instanceRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM instances WHERE id = $1`
	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInstance(row pgx.Row) (model.Instance, error) {
	var inst model.Instance
	var minIntervalMs, backoffMs, cooldownMs int64

	// business_hours é JSONB; pgx decodifica direto no ponteiro e NULL vira nil.
	if err := row.Scan(
		&inst.ID, &inst.Name, &inst.APIURL, &inst.APITokenEnc, &inst.WebhookTokenHash,
		&minIntervalMs, &inst.MaxRetries, &backoffMs, &inst.BusinessHours, &cooldownMs,
		&inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		return model.Instance{}, err
	}

	inst.MinSendInterval = time.Duration(minIntervalMs) * time.Millisecond
	inst.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	inst.SenderCooldown = time.Duration(cooldownMs) * time.Millisecond

	return inst, nil
}
