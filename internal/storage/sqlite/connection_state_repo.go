package sqlite

import (
	"context"
	"database/sql"
	"time"

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
		WHERE instance_id = ?
	`

	var state model.ConnectionState
	var authState, updatedAt string
	var lastSendAt sql.NullString

	err := r.db.Conn.QueryRowContext(ctx, query, instanceID).Scan(
		&state.InstanceID, &authState, &lastSendAt, &state.ConsecutiveFailures, &updatedAt,
	)
	if err != nil {
		return model.ConnectionState{}, mapError(err)
	}

	state.AuthState = model.AuthState(authState)
	state.LastSendAt = parseTimePtr(lastSendAt)
	state.UpdatedAt = parseTime(updatedAt)

	return state, nil
}

func (r *connectionStateRepo) Save(ctx context.Context, state model.ConnectionState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO connection_states (instance_id, auth_state, last_send_at, consecutive_failures, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			auth_state = excluded.auth_state,
			last_send_at = excluded.last_send_at,
			consecutive_failures = excluded.consecutive_failures,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		state.InstanceID, string(state.AuthState), formatTimePtr(state.LastSendAt), state.ConsecutiveFailures, formatTime(state.UpdatedAt),
	)
	return err
}

func (r *connectionStateRepo) Delete(ctx context.Context, instanceID string) error {
	_, err := r.db.Conn.ExecContext(ctx, `DELETE FROM connection_states WHERE instance_id = ?`, instanceID)
	return err
}
