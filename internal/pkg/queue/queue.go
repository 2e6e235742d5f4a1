package queue

import (
	"context"
	"time"

	"github.com/open-apime/autoreply/internal/storage/model"
)

// Event é uma mensagem recebida aguardando processamento por um worker.
type Event struct {
	ID         string             `json:"id"`
	Message    model.InboundEvent `json:"message"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
}

type Queue interface {
	Enqueue(ctx context.Context, event Event) error
	// Dequeue devolve (nil, nil) quando o timeout expira sem eventos.
	Dequeue(ctx context.Context, timeout time.Duration) (*Event, error)
	Size(ctx context.Context) (int64, error)
	Close() error
}
