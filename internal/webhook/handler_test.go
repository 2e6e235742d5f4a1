package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queue_memory "github.com/open-apime/autoreply/internal/pkg/queue/memory"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

type fakeVerifier struct {
	tokens map[string]string
}

func (f fakeVerifier) VerifyWebhookToken(_ context.Context, id, token string) (bool, error) {
	want, ok := f.tokens[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	return want == "" || want == token, nil
}

type recordingTracker struct {
	mu     sync.Mutex
	states map[string]model.AuthState
}

func (r *recordingTracker) SetAuthState(_ context.Context, id string, state model.AuthState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = state
	return nil
}

func newTestRouter(t *testing.T, q *queue_memory.MemoryQueue, tracker *recordingTracker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewHandler(q, fakeVerifier{tokens: map[string]string{"1101": "segredo", "2202": ""}}, tracker, nil, zap.NewNop())
	r := gin.New()
	h.Register(r)
	return r
}

func post(r *gin.Engine, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveEnqueuesMessage(t *testing.T) {
	q := queue_memory.NewQueue(10)
	r := newTestRouter(t, q, &recordingTracker{states: map[string]model.AuthState{}})

	w := post(r, "/webhook/1101", "segredo", incomingText)
	require.Equal(t, http.StatusOK, w.Code)

	ev, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "BAE5F4886F6F2D05", ev.Message.MessageID)
	assert.Equal(t, "Qual o preço?", ev.Message.Text)
}

func TestReceiveRejectsBadToken(t *testing.T) {
	q := queue_memory.NewQueue(10)
	r := newTestRouter(t, q, &recordingTracker{states: map[string]model.AuthState{}})

	w := post(r, "/webhook/1101", "errado", incomingText)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	size, _ := q.Size(context.Background())
	assert.Equal(t, int64(0), size)
}

func TestReceiveUnknownInstance(t *testing.T) {
	q := queue_memory.NewQueue(10)
	r := newTestRouter(t, q, &recordingTracker{states: map[string]model.AuthState{}})

	w := post(r, "/webhook/9999", "", incomingText)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReceiveWithoutConfiguredToken(t *testing.T) {
	q := queue_memory.NewQueue(10)
	r := newTestRouter(t, q, &recordingTracker{states: map[string]model.AuthState{}})

	body := strings.Replace(incomingText, `"idInstance": 1101`, `"idInstance": 2202`, 1)
	w := post(r, "/webhook/2202", "", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReceiveStateChange(t *testing.T) {
	q := queue_memory.NewQueue(10)
	tracker := &recordingTracker{states: map[string]model.AuthState{}}
	r := newTestRouter(t, q, tracker)

	w := post(r, "/webhook/1101", "segredo", `{"typeWebhook":"stateInstanceChanged","stateInstance":"authorized"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.AuthStateAuthorized, tracker.states["1101"])

	size, _ := q.Size(context.Background())
	assert.Equal(t, int64(0), size)
}

func TestReceiveMalformed(t *testing.T) {
	q := queue_memory.NewQueue(10)
	r := newTestRouter(t, q, &recordingTracker{states: map[string]model.AuthState{}})

	w := post(r, "/webhook/1101", "segredo", `{"typeWebhook":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiveQueueFull(t *testing.T) {
	q := queue_memory.NewQueue(1)
	r := newTestRouter(t, q, &recordingTracker{states: map[string]model.AuthState{}})

	require.Equal(t, http.StatusOK, post(r, "/webhook/1101", "segredo", incomingText).Code)
	assert.Equal(t, http.StatusServiceUnavailable, post(r, "/webhook/1101", "segredo", incomingText).Code)
}
