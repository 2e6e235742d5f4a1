// Package retry implementa backoff exponencial com jitter para chamadas ao
// provedor.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError marca um erro que encerra as tentativas imediatamente.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Policy descreve quantas vezes repetir e quanto esperar entre tentativas.
// MaxRetries conta apenas as repetições: MaxRetries=3 resulta em até 4
// tentativas.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Jitter     bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Base:       time.Second,
		Max:        30 * time.Second,
		Jitter:     true,
	}
}

// Attempts devolve o total de tentativas permitidas.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay devolve a espera antes da tentativa attempt+1, sendo attempt
// contado a partir de zero: Base * 2^attempt, limitado a Max, mais até 25%
// de jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := p.Base
	for i := 0; i < attempt; i++ {
		if p.Max > 0 && delay >= p.Max {
			break
		}
		if delay > time.Duration(1<<62) {
			break
		}
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	if p.Jitter && delay >= 4 {
		randMu.Lock()
		jitter := time.Duration(randSource.Int63n(int64(delay / 4)))
		randMu.Unlock()
		delay += jitter
	}
	return delay
}

// Sleep espera d ou até o contexto ser cancelado.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executa fn até ela ter sucesso, devolver um erro NonRetryable ou esgotar
// as tentativas. fn recebe o índice da tentativa a partir de zero. O último
// erro de fn é devolvido sem embrulho; se ctx for cancelado, Do devolve
// ctx.Err().
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := p.Attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt == attempts-1 {
			break
		}

		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
