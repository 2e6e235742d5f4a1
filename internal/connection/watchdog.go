package connection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/provider/greenapi"
	"github.com/open-apime/autoreply/internal/service/instance"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

type StateFetcher interface {
	GetStateInstance(ctx context.Context, creds greenapi.Credentials) (model.AuthState, error)
}

type TargetResolver interface {
	Resolve(ctx context.Context, instanceID string) (instance.Target, error)
}

// Watchdog consulta o provedor e corrige o estado de autorização guardado no
// Tracker, cobrindo webhooks de estado perdidos.
type Watchdog struct {
	repo     storage.InstanceRepository
	resolver TargetResolver
	fetcher  StateFetcher
	tracker  *Tracker
	log      *zap.Logger
}

func NewWatchdog(repo storage.InstanceRepository, resolver TargetResolver, fetcher StateFetcher, tracker *Tracker, log *zap.Logger) *Watchdog {
	return &Watchdog{
		repo:     repo,
		resolver: resolver,
		fetcher:  fetcher,
		tracker:  tracker,
		log:      log,
	}
}

// CheckAll atualiza todas as instâncias cadastradas. Falhas em uma instância
// não interrompem as demais. Instâncias em error não são liberadas aqui; veja
// Tracker.ObserveAuthState.
func (w *Watchdog) CheckAll(ctx context.Context) {
	instances, err := w.repo.List(ctx)
	if err != nil {
		w.log.Error("watchdog: erro ao listar instâncias", zap.Error(err))
		return
	}

	for _, inst := range instances {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.poll(ctx, inst.ID); err != nil {
			w.log.Warn("watchdog: erro ao consultar estado",
				zap.String("instance_id", inst.ID),
				zap.Error(err),
			)
		}
	}
}

// Check consulta o estado de uma instância e o grava no Tracker. É a
// confirmação explícita do operador: authorized também limpa o estado error.
func (w *Watchdog) Check(ctx context.Context, instanceID string) (model.AuthState, error) {
	state, err := w.fetch(ctx, instanceID)
	if err != nil {
		return "", err
	}

	current, err := w.tracker.GetState(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if current.AuthState == state {
		return state, nil
	}
	if err := w.tracker.SetAuthState(ctx, instanceID, state); err != nil {
		return "", err
	}
	return state, nil
}

func (w *Watchdog) poll(ctx context.Context, instanceID string) (model.AuthState, error) {
	state, err := w.fetch(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return w.tracker.ObserveAuthState(ctx, instanceID, state)
}

func (w *Watchdog) fetch(ctx context.Context, instanceID string) (model.AuthState, error) {
	target, err := w.resolver.Resolve(ctx, instanceID)
	if err != nil {
		return "", fmt.Errorf("watchdog: resolve: %w", err)
	}
	return w.fetcher.GetStateInstance(ctx, target.Credentials)
}
