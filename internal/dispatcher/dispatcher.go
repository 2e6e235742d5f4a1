// Package dispatcher envia respostas pelo provedor respeitando o estado da
// conexão, o intervalo mínimo entre envios e a política de repetição.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/metrics"
	"github.com/open-apime/autoreply/internal/pkg/ratelimiter"
	"github.com/open-apime/autoreply/internal/pkg/retry"
	"github.com/open-apime/autoreply/internal/provider/greenapi"
	"github.com/open-apime/autoreply/internal/service/instance"
	"github.com/open-apime/autoreply/internal/storage/model"
)

var (
	ErrInvalidPayload = errors.New("dispatcher: chatId e mensagem são obrigatórios")
	ErrNotAuthorized  = errors.New("dispatcher: instância não autorizada")
	ErrRateLimiter    = errors.New("dispatcher: falha ao reservar horário de envio")
)

// RetryableProviderError é devolvido quando todas as tentativas falharam com
// erros transitórios.
type RetryableProviderError struct {
	Attempts int
	Err      error
}

func (e *RetryableProviderError) Error() string {
	return fmt.Sprintf("dispatcher: envio falhou após %d tentativas: %v", e.Attempts, e.Err)
}

func (e *RetryableProviderError) Unwrap() error { return e.Err }

// FatalProviderError é devolvido quando o provedor recusou o envio de forma
// que repetir não resolve.
type FatalProviderError struct {
	Err error
}

func (e *FatalProviderError) Error() string {
	return fmt.Sprintf("dispatcher: envio recusado: %v", e.Err)
}

func (e *FatalProviderError) Unwrap() error { return e.Err }

type Sender interface {
	SendMessage(ctx context.Context, creds greenapi.Credentials, chatID, message string) (greenapi.SendMessageResponse, error)
}

type TargetResolver interface {
	Resolve(ctx context.Context, instanceID string) (instance.Target, error)
}

type StateTracker interface {
	Acquire(ctx context.Context, instanceID string) (func(), error)
	GetState(ctx context.Context, instanceID string) (model.ConnectionState, error)
	RecordSendResult(ctx context.Context, instanceID string, success bool) error
}

type Options struct {
	Sender     Sender
	Resolver   TargetResolver
	Tracker    StateTracker
	Limiter    ratelimiter.Limiter
	Metrics    *metrics.Metrics
	Log        *zap.Logger
	BackoffMax time.Duration
	NoJitter   bool
}

type Dispatcher struct {
	sender     Sender
	resolver   TargetResolver
	tracker    StateTracker
	limiter    ratelimiter.Limiter
	metrics    *metrics.Metrics
	log        *zap.Logger
	backoffMax time.Duration
	jitter     bool
	now        func() time.Time
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		sender:     opts.Sender,
		resolver:   opts.Resolver,
		tracker:    opts.Tracker,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		log:        opts.Log,
		backoffMax: opts.BackoffMax,
		jitter:     !opts.NoJitter,
		now:        time.Now,
	}
}

// Hooks são executados com a trava da instância segura, então enxergam um
// estado que nenhum outro envio da mesma instância pode alterar no meio.
type Hooks struct {
	// BeforeSend roda depois da verificação de autorização e antes da
	// primeira tentativa. Um erro cancela o envio e é devolvido sem contar
	// como falha da instância.
	BeforeSend func(ctx context.Context) error
	// AfterSuccess roda após a confirmação do provedor.
	AfterSuccess func(ctx context.Context)
}

// Send entrega body em chatID pela instância. Envios da mesma instância são
// serializados; cada tentativa respeita o intervalo mínimo configurado.
// Falhas só são contabilizadas no Tracker uma vez por chamada.
func (d *Dispatcher) Send(ctx context.Context, instanceID, chatID, body string) error {
	return d.SendWithHooks(ctx, instanceID, chatID, body, Hooks{})
}

func (d *Dispatcher) SendWithHooks(ctx context.Context, instanceID, chatID, body string, hooks Hooks) error {
	if strings.TrimSpace(chatID) == "" || strings.TrimSpace(body) == "" {
		return ErrInvalidPayload
	}

	release, err := d.tracker.Acquire(ctx, instanceID)
	if err != nil {
		return err
	}
	defer release()

	state, err := d.tracker.GetState(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("dispatcher: state: %w", err)
	}
	if state.AuthState != model.AuthStateAuthorized {
		return ErrNotAuthorized
	}

	target, err := d.resolver.Resolve(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("dispatcher: resolve instance: %w", err)
	}

	if hooks.BeforeSend != nil {
		if err := hooks.BeforeSend(ctx); err != nil {
			return err
		}
	}

	policy := retry.Policy{
		MaxRetries: target.MaxRetries,
		Base:       target.BackoffBase,
		Max:        d.backoffMax,
		Jitter:     d.jitter,
	}

	var earliest time.Time
	if state.LastSendAt != nil {
		earliest = state.LastSendAt.Add(target.MinSendInterval)
	}

	attempts := 0
	err = retry.Do(ctx, policy, func(attempt int) error {
		attempts = attempt + 1
		if attempt > 0 {
			d.metrics.Retry(instanceID)
		}

		if err := d.waitForSlot(ctx, instanceID, target.MinSendInterval, earliest); err != nil {
			return err
		}

		_, err := d.sender.SendMessage(ctx, target.Credentials, chatID, body)
		// A reserva do limiter pode ter ficado para trás quando o piso de
		// LastSendAt atrasou a chamada. O próximo envio conta a partir daqui.
		earliest = d.now().Add(target.MinSendInterval)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if greenapi.IsRetryable(err) {
			d.log.Warn("dispatcher: falha transitória",
				zap.String("instance_id", instanceID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return err
		}
		return retry.NonRetryable(err)
	})

	switch {
	case err == nil:
		d.record(ctx, instanceID, true)
		if hooks.AfterSuccess != nil {
			hooks.AfterSuccess(ctx)
		}
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ErrRateLimiter):
		return errors.Unwrap(err)
	case retry.IsNonRetryable(err):
		d.record(ctx, instanceID, false)
		return &FatalProviderError{Err: errors.Unwrap(err)}
	default:
		d.record(ctx, instanceID, false)
		return &RetryableProviderError{Attempts: attempts, Err: err}
	}
}

// waitForSlot reserva o próximo horário livre da instância e espera por ele.
// earliest é o piso vindo do último envio (confirmado ou tentado) e cobre
// reservas perdidas em reinícios.
func (d *Dispatcher) waitForSlot(ctx context.Context, instanceID string, interval time.Duration, earliest time.Time) error {
	if interval <= 0 {
		return nil
	}

	res, err := d.limiter.Reserve(ctx, instanceID, interval)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.NonRetryable(fmt.Errorf("%w: %w", ErrRateLimiter, err))
	}

	wait := res.Wait
	if !earliest.IsZero() {
		if untilFloor := earliest.Sub(d.now()); untilFloor > wait {
			wait = untilFloor
		}
	}
	d.metrics.RateWait(instanceID, wait)

	return ratelimiter.Wait(ctx, &ratelimiter.Reservation{At: d.now().Add(wait), Wait: wait})
}

func (d *Dispatcher) record(ctx context.Context, instanceID string, success bool) {
	if err := d.tracker.RecordSendResult(ctx, instanceID, success); err != nil {
		d.log.Error("dispatcher: erro ao registrar resultado",
			zap.String("instance_id", instanceID),
			zap.Bool("success", success),
			zap.Error(err),
		)
	}
}
