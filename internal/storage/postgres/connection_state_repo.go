package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/open-apime/autoreply/internal/storage/model"
)

type connectionStateRepo struct {
	db *DB
}

func NewConnectionStateRepository(db *DB) *connectionStateRepo {
	return &connectionStateRepo{db: db}
}

func (r *connectionStateRepo) Get(ctx context.Context, instanceID string) (model.ConnectionState, error) {
	query := `
		SELECT instance_id, auth_state, last_send_at, consecutive_failures, updated_at
		FROM connection_states
		WHERE instance_id = $1
	`

	var state model.ConnectionState
	var authState string

	err := r.db.Pool.QueryRow(ctx, query, instanceID).Scan(
		&state.InstanceID, &authState, &state.LastSendAt, &state.ConsecutiveFailures, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ConnectionState{}, ErrNotFound
	}
	if err != nil {
		return model.ConnectionState{}, err
	}
	state.AuthState = model.AuthState(authState)

	return state, nil
}

func (r *connectionStateRepo) Save(ctx context.Context, state model.ConnectionState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO connection_states (instance_id, auth_state, last_send_at, consecutive_failures, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id) DO UPDATE SET
			auth_state = EXCLUDED.auth_state,
			last_send_at = EXCLUDED.last_send_at,
			consecutive_failures = EXCLUDED.consecutive_failures,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool.Exec(ctx, query,
		state.InstanceID, string(state.AuthState), state.LastSendAt, state.ConsecutiveFailures, state.UpdatedAt,
	)
	return err
}

func (r *connectionStateRepo) Delete(ctx context.Context, instanceID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM connection_states WHERE instance_id = $1`, instanceID)
	return err
}
