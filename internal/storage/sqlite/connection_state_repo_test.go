package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/autoreply/internal/storage/model"
)

func TestConnectionStateRepoUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewConnectionStateRepository(newTestDB(t))

	_, err := repo.Get(ctx, "1101")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, repo.Save(ctx, model.ConnectionState{InstanceID: "1101", AuthState: model.AuthStateAuthorized}))

	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, model.ConnectionState{
		InstanceID:          "1101",
		AuthState:           model.AuthStateError,
		LastSendAt:          &sent,
		ConsecutiveFailures: 3,
	}))

	got, err := repo.Get(ctx, "1101")
	require.NoError(t, err)
	assert.Equal(t, model.AuthStateError, got.AuthState)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	require.NotNil(t, got.LastSendAt)
	assert.True(t, got.LastSendAt.Equal(sent))

	require.NoError(t, repo.Delete(ctx, "1101"))
	_, err = repo.Get(ctx, "1101")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
