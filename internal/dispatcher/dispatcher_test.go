package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/connection"
	limiter_memory "github.com/open-apime/autoreply/internal/pkg/ratelimiter/memory"
	"github.com/open-apime/autoreply/internal/provider/greenapi"
	"github.com/open-apime/autoreply/internal/service/instance"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

const instanceID = "1101"

type memStateRepo struct {
	mu     sync.Mutex
	states map[string]model.ConnectionState
}

func (r *memStateRepo) Get(_ context.Context, id string) (model.ConnectionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	if !ok {
		return model.ConnectionState{}, storage.ErrNotFound
	}
	return s, nil
}

func (r *memStateRepo) Save(_ context.Context, s model.ConnectionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[s.InstanceID] = s
	return nil
}

func (r *memStateRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
	return nil
}

type scriptedSender struct {
	mu       sync.Mutex
	statuses []int // 0 = sucesso; após o fim do script, sucesso
	calls    []time.Time
}

func (s *scriptedSender) SendMessage(ctx context.Context, _ greenapi.Credentials, _, _ string) (greenapi.SendMessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.calls)
	s.calls = append(s.calls, time.Now())
	if n < len(s.statuses) && s.statuses[n] != 0 {
		code := s.statuses[n]
		return greenapi.SendMessageResponse{}, &greenapi.ProviderError{
			Operation:  "sendMessage",
			StatusCode: code,
			Retryable:  code == http.StatusTooManyRequests || code >= 500,
		}
	}
	return greenapi.SendMessageResponse{IDMessage: "BAE5"}, nil
}

func (s *scriptedSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type staticResolver struct {
	target instance.Target
}

func (r staticResolver) Resolve(context.Context, string) (instance.Target, error) {
	return r.target, nil
}

type fixture struct {
	dispatcher *Dispatcher
	tracker    *connection.Tracker
	sender     *scriptedSender
}

func newFixture(t *testing.T, target instance.Target, statuses ...int) *fixture {
	t.Helper()
	return newFixtureWithState(t, target, model.ConnectionState{
		InstanceID: instanceID,
		AuthState:  model.AuthStateAuthorized,
	}, statuses...)
}

// newFixtureWithState parte de um estado já persistido, como após um
// reinício do processo.
func newFixtureWithState(t *testing.T, target instance.Target, seed model.ConnectionState, statuses ...int) *fixture {
	t.Helper()

	repo := &memStateRepo{states: map[string]model.ConnectionState{seed.InstanceID: seed}}
	tracker := connection.NewTracker(repo, zap.NewNop(), nil, 3)

	sender := &scriptedSender{statuses: statuses}
	d := New(Options{
		Sender:     sender,
		Resolver:   staticResolver{target: target},
		Tracker:    tracker,
		Limiter:    limiter_memory.NewLimiter(),
		Log:        zap.NewNop(),
		BackoffMax: time.Second,
		NoJitter:   true,
	})
	return &fixture{dispatcher: d, tracker: tracker, sender: sender}
}

func fastTarget() instance.Target {
	return instance.Target{
		Credentials: greenapi.Credentials{IDInstance: instanceID, APIToken: "tok"},
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}
}

func failures(t *testing.T, f *fixture) int {
	t.Helper()
	st, err := f.tracker.GetState(context.Background(), instanceID)
	require.NoError(t, err)
	return st.ConsecutiveFailures
}

func TestSendSuccess(t *testing.T) {
	f := newFixture(t, fastTarget())

	err := f.dispatcher.Send(context.Background(), instanceID, "5511@c.us", "olá")
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.count())

	st, _ := f.tracker.GetState(context.Background(), instanceID)
	assert.NotNil(t, st.LastSendAt)
}

func TestSendInvalidPayload(t *testing.T) {
	f := newFixture(t, fastTarget())

	assert.ErrorIs(t, f.dispatcher.Send(context.Background(), instanceID, "", "x"), ErrInvalidPayload)
	assert.ErrorIs(t, f.dispatcher.Send(context.Background(), instanceID, "c", "  "), ErrInvalidPayload)
	assert.Equal(t, 0, f.sender.count())
	assert.Equal(t, 0, failures(t, f))
}

func TestSendNotAuthorized(t *testing.T) {
	f := newFixture(t, fastTarget())
	require.NoError(t, f.tracker.SetAuthState(context.Background(), instanceID, model.AuthStateNotAuthorized))

	err := f.dispatcher.Send(context.Background(), instanceID, "c", "m")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 0, f.sender.count())
	assert.Equal(t, 0, failures(t, f))
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	target := fastTarget()
	target.BackoffBase = 10 * time.Millisecond
	f := newFixture(t, target, 429, 429, 429)

	err := f.dispatcher.Send(context.Background(), instanceID, "c", "m")
	require.NoError(t, err)
	require.Equal(t, 4, f.sender.count())
	assert.Equal(t, 0, failures(t, f))

	// Sem jitter a espera antes da tentativa i+1 é exatamente Base * 2^i.
	calls := f.sender.calls
	for i := 1; i < len(calls); i++ {
		want := target.BackoffBase << (i - 1)
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), want, "intervalo antes da tentativa %d", i+1)
	}
}

func TestSendRetriesExhausted(t *testing.T) {
	f := newFixture(t, fastTarget(), 500, 500, 500, 500, 500)

	err := f.dispatcher.Send(context.Background(), instanceID, "c", "m")

	var rpe *RetryableProviderError
	require.True(t, errors.As(err, &rpe))
	assert.Equal(t, 4, rpe.Attempts)
	assert.Equal(t, 4, f.sender.count())
	assert.Equal(t, 1, failures(t, f))
}

func TestSendFatalDoesNotRetry(t *testing.T) {
	f := newFixture(t, fastTarget(), 400)

	err := f.dispatcher.Send(context.Background(), instanceID, "c", "m")

	var fpe *FatalProviderError
	require.True(t, errors.As(err, &fpe))
	var pe *greenapi.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 400, pe.StatusCode)
	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, 1, failures(t, f))
}

func TestSendFailureThresholdBlocksInstance(t *testing.T) {
	f := newFixture(t, fastTarget(), 400, 400, 400)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := f.dispatcher.Send(ctx, instanceID, "c", "m")
		require.Error(t, err)
	}

	st, _ := f.tracker.GetState(ctx, instanceID)
	assert.Equal(t, model.AuthStateError, st.AuthState)

	err := f.dispatcher.Send(ctx, instanceID, "c", "m")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, 3, f.sender.count())
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	target := fastTarget()
	target.BackoffBase = time.Hour
	f := newFixture(t, target, 503, 503)
	f.dispatcher.backoffMax = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := f.dispatcher.Send(ctx, instanceID, "c", "m")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, 0, failures(t, f))
}

func TestSendMinIntervalConcurrent(t *testing.T) {
	target := fastTarget()
	target.MinSendInterval = 50 * time.Millisecond
	f := newFixture(t, target)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.dispatcher.Send(context.Background(), instanceID, "c", "m"))
		}()
	}
	wg.Wait()

	require.Equal(t, 4, f.sender.count())
	calls := f.sender.calls
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), 40*time.Millisecond)
	}
}

func TestSendMinIntervalAppliesToRetries(t *testing.T) {
	target := fastTarget()
	target.MinSendInterval = 30 * time.Millisecond
	f := newFixture(t, target, 429)

	require.NoError(t, f.dispatcher.Send(context.Background(), instanceID, "c", "m"))

	require.Equal(t, 2, f.sender.count())
	assert.GreaterOrEqual(t, f.sender.calls[1].Sub(f.sender.calls[0]), 25*time.Millisecond)
}

func TestSendRetryRespectsIntervalFromPersistedLastSend(t *testing.T) {
	target := fastTarget()
	target.MinSendInterval = 200 * time.Millisecond
	target.BackoffBase = 10 * time.Millisecond
	last := time.Now().Add(-50 * time.Millisecond)
	f := newFixtureWithState(t, target, model.ConnectionState{
		InstanceID: instanceID,
		AuthState:  model.AuthStateAuthorized,
		LastSendAt: &last,
	}, 429, 0)

	require.NoError(t, f.dispatcher.Send(context.Background(), instanceID, "c", "m"))

	require.Equal(t, 2, f.sender.count())
	calls := f.sender.calls
	assert.GreaterOrEqual(t, calls[0].Sub(last), target.MinSendInterval)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), target.MinSendInterval)
}

func TestSendWithHooksBeforeSendAborts(t *testing.T) {
	f := newFixture(t, fastTarget())
	stop := errors.New("regra esgotada")

	err := f.dispatcher.SendWithHooks(context.Background(), instanceID, "c", "m", Hooks{
		BeforeSend: func(context.Context) error { return stop },
		AfterSuccess: func(context.Context) {
			t.Fatal("AfterSuccess não deveria rodar")
		},
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 0, f.sender.count())
	assert.Equal(t, 0, failures(t, f))
}

func TestSendWithHooksRunUnderInstanceGate(t *testing.T) {
	f := newFixture(t, fastTarget())
	ctx := context.Background()

	gateHeld := func(ctx context.Context) bool {
		tryCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		release, err := f.tracker.Acquire(tryCtx, instanceID)
		if err != nil {
			return true
		}
		release()
		return false
	}

	var before, after bool
	err := f.dispatcher.SendWithHooks(ctx, instanceID, "c", "m", Hooks{
		BeforeSend:   func(ctx context.Context) error { before = gateHeld(ctx); return nil },
		AfterSuccess: func(ctx context.Context) { after = gateHeld(ctx) },
	})

	require.NoError(t, err)
	assert.True(t, before)
	assert.True(t, after)
	assert.Equal(t, 1, f.sender.count())
}

func TestSendWithHooksAfterSuccessSkippedOnFailure(t *testing.T) {
	f := newFixture(t, fastTarget(), 400)
	called := false

	err := f.dispatcher.SendWithHooks(context.Background(), instanceID, "c", "m", Hooks{
		AfterSuccess: func(context.Context) { called = true },
	})

	require.Error(t, err)
	assert.False(t, called)
}
