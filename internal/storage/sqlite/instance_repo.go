package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

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

	hours, err := encodeBusinessHours(inst.BusinessHours)
	if err != nil {
		return model.Instance{}, err
	}

	query := `
		INSERT INTO instances (id, name, api_url, api_token_enc, webhook_token_hash, min_send_interval_ms, max_retries, backoff_base_ms, business_hours, sender_cooldown_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Conn.ExecContext(ctx, query,
		inst.ID, inst.Name, nullIfEmpty(inst.APIURL), inst.APITokenEnc, nullIfEmpty(inst.WebhookTokenHash),
		inst.MinSendInterval.Milliseconds(), inst.MaxRetries, inst.BackoffBase.Milliseconds(),
		hours, inst.SenderCooldown.Milliseconds(),
		formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt),
	)
	if err != nil {
		return model.Instance{}, err
	}

	return inst, nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = ?`

	inst, err := scanInstance(r.db.Conn.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return inst, nil
}

func (r *instanceRepo) List(ctx context.Context) ([]model.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at DESC`

	rows, err := r.db.Conn.QueryContext(ctx, query)
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

	hours, err := encodeBusinessHours(inst.BusinessHours)
	if err != nil {
		return model.Instance{}, err
	}

	query := `
		UPDATE instances
		SET name = ?, api_url = ?, api_token_enc = ?, webhook_token_hash = ?, min_send_interval_ms = ?, max_retries = ?, backoff_base_ms = ?,
		    business_hours = ?, sender_cooldown_ms = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Conn.ExecContext(ctx, query,
		inst.Name, nullIfEmpty(inst.APIURL), inst.APITokenEnc, nullIfEmpty(inst.WebhookTokenHash),
		inst.MinSendInterval.Milliseconds(), inst.MaxRetries, inst.BackoffBase.Milliseconds(),
		hours, inst.SenderCooldown.Milliseconds(),
		formatTime(inst.UpdatedAt), inst.ID,
	)
	if err != nil {
		return model.Instance{}, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return model.Instance{}, mapError(sql.ErrNoRows)
	}

	return inst, nil
}

func (r *instanceRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM instances WHERE id = ?`
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

func scanInstance(row rowScanner) (model.Instance, error) {
	var inst model.Instance
	var minIntervalMs, backoffMs, cooldownMs int64
	var hours sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&inst.ID, &inst.Name, &inst.APIURL, &inst.APITokenEnc, &inst.WebhookTokenHash,
		&minIntervalMs, &inst.MaxRetries, &backoffMs, &hours, &cooldownMs, &createdAt, &updatedAt,
	); err != nil {
		return model.Instance{}, err
	}

	if hours.Valid && hours.String != "" {
		inst.BusinessHours = &model.BusinessHours{}
		if err := json.Unmarshal([]byte(hours.String), inst.BusinessHours); err != nil {
			return model.Instance{}, fmt.Errorf("sqlite: business_hours: %w", err)
		}
	}
	inst.MinSendInterval = time.Duration(minIntervalMs) * time.Millisecond
	inst.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	inst.SenderCooldown = time.Duration(cooldownMs) * time.Millisecond
	inst.CreatedAt = parseTime(createdAt)
	inst.UpdatedAt = parseTime(updatedAt)

	return inst, nil
}

func encodeBusinessHours(b *model.BusinessHours) (any, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("sqlite: business_hours: %w", err)
	}
	return string(raw), nil
}
