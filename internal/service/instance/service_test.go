package instance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/autoreply/internal/config"
	"github.com/open-apime/autoreply/internal/pkg/crypto"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

type memInstanceRepo struct {
	items map[string]model.Instance
}

func (r *memInstanceRepo) Create(_ context.Context, inst model.Instance) (model.Instance, error) {
	r.items[inst.ID] = inst
	return inst, nil
}

func (r *memInstanceRepo) GetByID(_ context.Context, id string) (model.Instance, error) {
	inst, ok := r.items[id]
	if !ok {
		return model.Instance{}, storage.ErrNotFound
	}
	return inst, nil
}

func (r *memInstanceRepo) List(context.Context) ([]model.Instance, error) {
	var out []model.Instance
	for _, inst := range r.items {
		out = append(out, inst)
	}
	return out, nil
}

func (r *memInstanceRepo) Update(_ context.Context, inst model.Instance) (model.Instance, error) {
	r.items[inst.ID] = inst
	return inst, nil
}

func (r *memInstanceRepo) Delete(_ context.Context, id string) error {
	delete(r.items, id)
	return nil
}

type forgetRecorder struct {
	forgotten []string
}

func (f *forgetRecorder) Forget(id string) {
	f.forgotten = append(f.forgotten, id)
}

func newService(t *testing.T) (*Service, *memInstanceRepo, *forgetRecorder) {
	t.Helper()
	sealer, err := crypto.NewSealer("segredo-de-teste")
	require.NoError(t, err)

	repo := &memInstanceRepo{items: make(map[string]model.Instance)}
	tracker := &forgetRecorder{}
	s := NewService(Options{
		Repo:   repo,
		Sealer: sealer,
		Defaults: config.DispatchConfig{
			MinSendInterval: 8 * time.Second,
			MaxRetries:      3,
			BackoffBase:     time.Second,
		},
		APIURL:  "https://api.green-api.com",
		Tracker: tracker,
	})
	return s, repo, tracker
}

func TestCreateSealsTokens(t *testing.T) {
	s, repo, _ := newService(t)

	inst, err := s.Create(context.Background(), CreateInput{
		ID:           "1101",
		Name:         "Loja",
		APIToken:     "api-token",
		WebhookToken: "hook",
	})
	require.NoError(t, err)

	stored := repo.items[inst.ID]
	assert.NotContains(t, string(stored.APITokenEnc), "api-token")
	assert.Equal(t, crypto.HashToken("hook"), stored.WebhookTokenHash)
}

func TestCreateValidation(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{ID: "", Name: "x", APIToken: "t"})
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = s.Create(ctx, CreateInput{ID: "1/2", Name: "x", APIToken: "t"})
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = s.Create(ctx, CreateInput{ID: "1", Name: " ", APIToken: "t"})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = s.Create(ctx, CreateInput{ID: "1", Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Create(ctx, CreateInput{ID: "1", Name: "x", APIToken: "t", APIURL: "ftp://x"})
	assert.ErrorIs(t, err, ErrInvalidAPIURL)

	_, err = s.Create(ctx, CreateInput{ID: "1", Name: "x", APIToken: "t", MaxRetries: -1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestResolveDefaultsAndOverrides(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{ID: "1101", Name: "Loja", APIToken: "tok"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateInput{
		ID: "2202", Name: "Outra", APIToken: "tok2", APIURL: "https://7103.api.greenapi.com/",
		MinSendInterval: 2 * time.Second, MaxRetries: 5,
	})
	require.NoError(t, err)

	target, err := s.Resolve(ctx, "1101")
	require.NoError(t, err)
	assert.Equal(t, "tok", target.Credentials.APIToken)
	assert.Equal(t, "1101", target.Credentials.IDInstance)
	assert.Equal(t, "https://api.green-api.com", target.Credentials.APIURL)
	assert.Equal(t, 8*time.Second, target.MinSendInterval)
	assert.Equal(t, 3, target.MaxRetries)
	assert.Equal(t, time.Second, target.BackoffBase)

	target, err = s.Resolve(ctx, "2202")
	require.NoError(t, err)
	assert.Equal(t, "tok2", target.Credentials.APIToken)
	assert.Equal(t, "https://7103.api.greenapi.com", target.Credentials.APIURL)
	assert.Equal(t, 2*time.Second, target.MinSendInterval)
	assert.Equal(t, 5, target.MaxRetries)
}

func TestVerifyWebhookToken(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{ID: "1101", Name: "a", APIToken: "t", WebhookToken: "hook"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateInput{ID: "2202", Name: "b", APIToken: "t"})
	require.NoError(t, err)

	ok, err := s.VerifyWebhookToken(ctx, "1101", "hook")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyWebhookToken(ctx, "1101", "outro")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.VerifyWebhookToken(ctx, "2202", "")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.VerifyWebhookToken(ctx, "9999", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateKeepsTokenWhenEmpty(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{ID: "1101", Name: "a", APIToken: "tok", WebhookToken: "hook"})
	require.NoError(t, err)

	empty := ""
	_, err = s.Update(ctx, "1101", UpdateInput{Name: "b", WebhookToken: &empty})
	require.NoError(t, err)

	target, err := s.Resolve(ctx, "1101")
	require.NoError(t, err)
	assert.Equal(t, "tok", target.Credentials.APIToken)

	ok, err := s.VerifyWebhookToken(ctx, "1101", "qualquer")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteForgetsState(t *testing.T) {
	s, repo, tracker := newService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{ID: "1101", Name: "a", APIToken: "tok"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "1101"))
	assert.Empty(t, repo.items)
	assert.Equal(t, []string{"1101"}, tracker.forgotten)

	assert.ErrorIs(t, s.Delete(ctx, "1101"), storage.ErrNotFound)
}
