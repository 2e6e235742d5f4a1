package storage

import (
	"context"
	"time"

	"github.com/open-apime/autoreply/internal/storage/model"
)

var ErrNotFound = model.ErrNotFound

// ErrCapReached é devolvido por IncrementUsage quando a regra já atingiu o
// limite diário dentro da janela atual.
var ErrCapReached = model.ErrCapReached

type RuleRepository interface {
	Create(ctx context.Context, rule model.AutoReplyRule) (model.AutoReplyRule, error)
	GetByID(ctx context.Context, id string) (model.AutoReplyRule, error)
	ListByInstance(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error)
	ListEnabledByInstance(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error)
	Update(ctx context.Context, rule model.AutoReplyRule) (model.AutoReplyRule, error)
	// IncrementUsage avança a janela de uso se necessário e incrementa o
	// contador numa única instrução, sem ultrapassar MaxUsesPerDay.
	IncrementUsage(ctx context.Context, id string, now time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

type InstanceRepository interface {
	Create(ctx context.Context, instance model.Instance) (model.Instance, error)
	GetByID(ctx context.Context, id string) (model.Instance, error)
	List(ctx context.Context) ([]model.Instance, error)
	Update(ctx context.Context, instance model.Instance) (model.Instance, error)
	Delete(ctx context.Context, id string) error
}

type ConnectionStateRepository interface {
	Get(ctx context.Context, instanceID string) (model.ConnectionState, error)
	Save(ctx context.Context, state model.ConnectionState) error
	Delete(ctx context.Context, instanceID string) error
}

type EventLogRepository interface {
	Create(ctx context.Context, eventLog model.EventLog) (model.EventLog, error)
	ListByInstance(ctx context.Context, instanceID string) ([]model.EventLog, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}
