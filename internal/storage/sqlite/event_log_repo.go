package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/autoreply/internal/storage/model"
)

type eventLogRepo struct {
	db *DB
}

func NewEventLogRepository(db *DB) *eventLogRepo {
	return &eventLogRepo{db: db}
}

func (r *eventLogRepo) Create(ctx context.Context, eventLog model.EventLog) (model.EventLog, error) {
	if eventLog.ID == "" {
		eventLog.ID = uuid.New().String()
	}
	if eventLog.CreatedAt.IsZero() {
		eventLog.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO event_logs (id, instance_id, message_id, chat_id, outcome, rule_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		eventLog.ID, eventLog.InstanceID, eventLog.MessageID, eventLog.ChatID, eventLog.Outcome,
		nullIfEmpty(eventLog.RuleID), nullIfEmpty(eventLog.Error), formatTime(eventLog.CreatedAt),
	)
	if err != nil {
		return model.EventLog{}, err
	}

	return eventLog, nil
}

func (r *eventLogRepo) ListByInstance(ctx context.Context, instanceID string) ([]model.EventLog, error) {
	query := `
		SELECT id, instance_id, message_id, chat_id, outcome, COALESCE(rule_id, ''), COALESCE(error, ''), created_at
		FROM event_logs
		WHERE instance_id = ?
		ORDER BY created_at DESC
		LIMIT 100
	`

	rows, err := r.db.Conn.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eventLogs []model.EventLog
	for rows.Next() {
		var eventLog model.EventLog
		var createdAt string

		if err := rows.Scan(
			&eventLog.ID, &eventLog.InstanceID, &eventLog.MessageID, &eventLog.ChatID, &eventLog.Outcome,
			&eventLog.RuleID, &eventLog.Error, &createdAt,
		); err != nil {
			return nil, err
		}

		eventLog.CreatedAt = parseTime(createdAt)
		eventLogs = append(eventLogs, eventLog)
	}

	return eventLogs, rows.Err()
}

func (r *eventLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Conn.ExecContext(ctx, `DELETE FROM event_logs WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *eventLogRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	query := `DELETE FROM event_logs WHERE instance_id = ?`
	_, err := r.db.Conn.ExecContext(ctx, query, instanceID)
	return err
}
