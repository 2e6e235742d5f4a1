package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/config"
	"github.com/open-apime/autoreply/internal/pkg/crypto"
	instanceSvc "github.com/open-apime/autoreply/internal/service/instance"
	ruleSvc "github.com/open-apime/autoreply/internal/service/rule"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/migrate"
	"github.com/open-apime/autoreply/internal/storage/model"
	"github.com/open-apime/autoreply/internal/storage/sqlite"
)

type stubState struct {
	checked []string
}

func (s *stubState) GetState(_ context.Context, id string) (model.ConnectionState, error) {
	return model.ConnectionState{InstanceID: id, AuthState: model.AuthStateAuthorized}, nil
}

func (s *stubState) Check(_ context.Context, id string) (model.AuthState, error) {
	s.checked = append(s.checked, id)
	return model.AuthStateNotAuthorized, nil
}

type forgetNoop struct{}

func (forgetNoop) Forget(string) {}

type testEnv struct {
	router   *gin.Engine
	eventLog storage.EventLogRepository
	state    *stubState
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = migrate.SQLite(context.Background(), db.Conn, "../../../db/migrations/sqlite", zap.NewNop())
	require.NoError(t, err)

	sealer, err := crypto.NewSealer("segredo-de-teste")
	require.NoError(t, err)

	instances := sqlite.NewInstanceRepository(db)
	rules := sqlite.NewRuleRepository(db)
	eventLog := sqlite.NewEventLogRepository(db)

	instService := instanceSvc.NewService(instanceSvc.Options{
		Repo:         instances,
		RuleRepo:     rules,
		StateRepo:    sqlite.NewConnectionStateRepository(db),
		EventLogRepo: eventLog,
		Sealer:       sealer,
		Defaults:     config.DispatchConfig{},
		APIURL:       "https://api.green-api.com",
		Tracker:      forgetNoop{},
	})

	state := &stubState{}
	r := gin.New()
	api := r.Group("/api")
	NewHealthHandler(map[string]func(context.Context) error{"database": db.Ping}).Register(api)
	NewInstanceHandler(instService, state, state, eventLog, zap.NewNop()).Register(api)
	NewRuleHandler(ruleSvc.NewService(rules, instances)).Register(api)

	return testEnv{router: r, eventLog: eventLog, state: state}
}

func (e testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (e testEnv) createInstance(t *testing.T, id string) {
	t.Helper()
	w, _ := e.do(t, http.MethodPost, "/api/instances", map[string]any{
		"idInstance":       id,
		"name":             "loja",
		"apiTokenInstance": "tok",
		"minSendInterval":  "2s",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w, body := env.do(t, http.MethodGet, "/api/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestReadiness(t *testing.T) {
	env := newTestEnv(t)
	w, body := env.do(t, http.MethodGet, "/api/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["database"])
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler(map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}).Register(r.Group("/api"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestInstanceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.createInstance(t, "1101000001")

	w, body := env.do(t, http.MethodGet, "/api/instances/1101000001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "loja", data["name"])
	assert.NotContains(t, data, "apiTokenEnc")

	w, body = env.do(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = env.do(t, http.MethodPut, "/api/instances/1101000001", map[string]any{"name": "loja centro"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = env.do(t, http.MethodDelete, "/api/instances/1101000001", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/instances/1101000001", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateInstanceValidation(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/instances", map[string]any{"name": "loja"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := env.do(t, http.MethodPost, "/api/instances", map[string]any{
		"idInstance":       "1101",
		"name":             "loja",
		"apiTokenInstance": "tok",
		"minSendInterval":  "depressa",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "minSendInterval inválido", body["error"])
}

func TestInstanceReplyGates(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/instances", map[string]any{
		"idInstance":       "1101000001",
		"name":             "loja",
		"apiTokenInstance": "tok",
		"senderCooldown":   "24h",
		"businessHours": map[string]any{
			"enabled":  true,
			"timezone": "UTC",
			"days": map[string]any{
				"monday": map[string]any{"enabled": true, "start": "08:00", "end": "18:00"},
			},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body = env.do(t, http.MethodGet, "/api/instances/1101000001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(24*time.Hour), data["senderCooldown"])
	hours := data["businessHours"].(map[string]any)
	assert.Equal(t, true, hours["enabled"])
	monday := hours["days"].(map[string]any)["monday"].(map[string]any)
	assert.Equal(t, "08:00", monday["start"])

	w, _ = env.do(t, http.MethodPut, "/api/instances/1101000001", map[string]any{
		"name": "loja",
		"businessHours": map[string]any{
			"enabled": true,
			"days": map[string]any{
				"monday": map[string]any{"enabled": true, "start": "18:00", "end": "08:00"},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, http.MethodPut, "/api/instances/1101000001", map[string]any{
		"name":           "loja",
		"senderCooldown": "amanhã",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "senderCooldown inválido", body["error"])
}

func TestInstanceStateEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createInstance(t, "1101000001")

	w, body := env.do(t, http.MethodGet, "/api/instances/1101000001/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "authorized", body["data"].(map[string]any)["authState"])

	w, body = env.do(t, http.MethodPost, "/api/instances/1101000001/state/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not_authorized", body["data"].(map[string]any)["authState"])
	assert.Equal(t, []string{"1101000001"}, env.state.checked)

	w, _ = env.do(t, http.MethodGet, "/api/instances/9999/state", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInstanceEvents(t *testing.T) {
	env := newTestEnv(t)
	env.createInstance(t, "1101000001")

	w, body := env.do(t, http.MethodGet, "/api/instances/1101000001/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["data"])

	_, err := env.eventLog.Create(context.Background(), model.EventLog{
		InstanceID: "1101000001", MessageID: "m1", ChatID: "5511@c.us", Outcome: "replied",
	})
	require.NoError(t, err)

	w, body = env.do(t, http.MethodGet, "/api/instances/1101000001/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["data"], 1)
	assert.Equal(t, "replied", body["data"].([]any)[0].(map[string]any)["outcome"])
}

func TestRuleCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.createInstance(t, "1101000001")

	w, body := env.do(t, http.MethodPost, "/api/instances/1101000001/rules", map[string]any{
		"trigger":       "preço",
		"response":      "Olá {name}, custa R$ 10",
		"priority":      5,
		"maxUsesPerDay": 3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := body["data"].(map[string]any)
	ruleID := created["id"].(string)
	assert.Equal(t, true, created["enabled"])
	assert.Equal(t, "contains", created["matchMode"])

	w, body = env.do(t, http.MethodGet, "/api/instances/1101000001/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, body = env.do(t, http.MethodPut, "/api/instances/1101000001/rules/"+ruleID, map[string]any{
		"trigger":   "preço",
		"response":  "custa R$ 12",
		"matchMode": "exact",
		"enabled":   false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := body["data"].(map[string]any)
	assert.Equal(t, "exact", updated["matchMode"])
	assert.Equal(t, false, updated["enabled"])

	w, _ = env.do(t, http.MethodGet, "/api/instances/2202/rules/"+ruleID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodDelete, "/api/instances/1101000001/rules/"+ruleID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/instances/1101000001/rules/"+ruleID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleCreateRejects(t *testing.T) {
	env := newTestEnv(t)
	env.createInstance(t, "1101000001")

	w, _ := env.do(t, http.MethodPost, "/api/instances/1101000001/rules", map[string]any{
		"trigger": "oi", "response": "olá", "matchMode": "regex",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/instances/9999/rules", map[string]any{
		"trigger": "oi", "response": "olá",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
