package ratelimiter

import (
	"context"
	"time"
)

// Reservation é o horário reservado para a próxima chamada de uma chave.
type Reservation struct {
	At   time.Time
	Wait time.Duration
}

// Limiter espaça chamadas por chave. Cada Reserve devolve um horário no mínimo
// interval depois do horário reservado anteriormente para a mesma chave; a
// reserva é atômica, então chamadas concorrentes nunca recebem o mesmo slot.
type Limiter interface {
	Reserve(ctx context.Context, key string, interval time.Duration) (*Reservation, error)
}

// Wait bloqueia até o horário reservado ou até o contexto ser cancelado.
func Wait(ctx context.Context, res *Reservation) error {
	if res == nil || res.Wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(res.Wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
