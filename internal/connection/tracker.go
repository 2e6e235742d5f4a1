// Package connection acompanha o estado de cada instância do provedor.
//
// O Tracker é o único dono de ConnectionState. Ele também guarda a trava por
// instância que serializa os envios: há no máximo um envio em andamento por
// instância e nenhuma trava entre instâncias diferentes.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/metrics"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

// DefaultFailureThreshold é quantos envios seguidos falhos levam a instância
// ao estado error.
const DefaultFailureThreshold = 3

type Tracker struct {
	repo      storage.ConnectionStateRepository
	log       *zap.Logger
	metrics   *metrics.Metrics
	threshold int
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	loaded bool
	state  model.ConnectionState
	gate   chan struct{}
}

func NewTracker(repo storage.ConnectionStateRepository, log *zap.Logger, m *metrics.Metrics, threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Tracker{
		repo:      repo,
		log:       log,
		metrics:   m,
		threshold: threshold,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
}

func (t *Tracker) entry(instanceID string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[instanceID]
	if !ok {
		e = &entry{gate: make(chan struct{}, 1)}
		t.entries[instanceID] = e
	}
	return e
}

// Acquire bloqueia até a trava da instância ficar livre ou ctx ser cancelado.
// A função devolvida libera a trava e deve ser chamada exatamente uma vez.
func (t *Tracker) Acquire(ctx context.Context, instanceID string) (func(), error) {
	e := t.entry(instanceID)
	select {
	case e.gate <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-e.gate })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetState devolve uma cópia do estado atual. Instâncias sem estado salvo
// começam como not_authorized.
func (t *Tracker) GetState(ctx context.Context, instanceID string) (model.ConnectionState, error) {
	e := t.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := t.load(ctx, instanceID, e); err != nil {
		return model.ConnectionState{}, err
	}
	return copyState(e.state), nil
}

// SetAuthState registra o estado informado pelo provedor. Voltar a
// authorized zera o contador de falhas. Usado pelo webhook
// stateInstanceChanged e pela atualização manual do operador.
func (t *Tracker) SetAuthState(ctx context.Context, instanceID string, state model.AuthState) error {
	e := t.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := t.load(ctx, instanceID, e); err != nil {
		return err
	}
	return t.apply(ctx, instanceID, e, state)
}

// ObserveAuthState registra um estado obtido por consulta periódica. O
// provedor responde authorized mesmo quando os envios estão falhando, então
// uma instância em error continua em error; as demais transições valem.
// Devolve o estado efetivo.
func (t *Tracker) ObserveAuthState(ctx context.Context, instanceID string, state model.AuthState) (model.AuthState, error) {
	e := t.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := t.load(ctx, instanceID, e); err != nil {
		return "", err
	}
	current := e.state.AuthState
	if current == state || (current == model.AuthStateError && state == model.AuthStateAuthorized) {
		return current, nil
	}
	if err := t.apply(ctx, instanceID, e, state); err != nil {
		return "", err
	}
	return state, nil
}

func (t *Tracker) apply(ctx context.Context, instanceID string, e *entry, state model.AuthState) error {
	previous := e.state.AuthState
	e.state.AuthState = state
	if state == model.AuthStateAuthorized {
		e.state.ConsecutiveFailures = 0
	}
	e.state.UpdatedAt = t.now().UTC()

	if previous != state {
		t.log.Info("connection: estado alterado",
			zap.String("instance_id", instanceID),
			zap.String("from", string(previous)),
			zap.String("to", string(state)),
		)
	}
	t.metrics.SetAuthorized(instanceID, state == model.AuthStateAuthorized)

	return t.persist(ctx, e)
}

// RecordSendResult deve ser chamado uma vez por envio concluído, não por
// tentativa.
func (t *Tracker) RecordSendResult(ctx context.Context, instanceID string, success bool) error {
	e := t.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := t.load(ctx, instanceID, e); err != nil {
		return err
	}

	now := t.now().UTC()
	if success {
		e.state.LastSendAt = &now
		e.state.ConsecutiveFailures = 0
	} else {
		e.state.ConsecutiveFailures++
		if e.state.ConsecutiveFailures >= t.threshold && e.state.AuthState != model.AuthStateError {
			t.log.Warn("connection: limite de falhas atingido",
				zap.String("instance_id", instanceID),
				zap.Int("failures", e.state.ConsecutiveFailures),
			)
			e.state.AuthState = model.AuthStateError
			t.metrics.SetAuthorized(instanceID, false)
		}
	}
	e.state.UpdatedAt = now

	return t.persist(ctx, e)
}

// Forget descarta o estado em memória de uma instância removida. A entrada
// continua no mapa porque um envio em andamento pode estar segurando a trava;
// removê-la deixaria o próximo Acquire criar uma trava nova e paralela.
func (t *Tracker) Forget(instanceID string) {
	t.mu.Lock()
	e, ok := t.entries[instanceID]
	t.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
	e.state = model.ConnectionState{}
}

func (t *Tracker) load(ctx context.Context, instanceID string, e *entry) error {
	if e.loaded {
		return nil
	}

	state, err := t.repo.Get(ctx, instanceID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		state = model.ConnectionState{
			InstanceID: instanceID,
			AuthState:  model.AuthStateNotAuthorized,
			UpdatedAt:  t.now().UTC(),
		}
	default:
		return fmt.Errorf("connection: load state: %w", err)
	}

	e.state = state
	e.loaded = true
	return nil
}

func (t *Tracker) persist(ctx context.Context, e *entry) error {
	if err := t.repo.Save(ctx, copyState(e.state)); err != nil {
		t.log.Error("connection: erro ao salvar estado",
			zap.String("instance_id", e.state.InstanceID),
			zap.Error(err),
		)
		return fmt.Errorf("connection: save state: %w", err)
	}
	return nil
}

func copyState(s model.ConnectionState) model.ConnectionState {
	if s.LastSendAt != nil {
		ts := *s.LastSendAt
		s.LastSendAt = &ts
	}
	return s
}
