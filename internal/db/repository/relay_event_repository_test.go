package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/db"
	"github.com/powerdash/backend/internal/db/models"
	"github.com/powerdash/backend/internal/utils"
)

func setupRepo(t *testing.T, maxEvents int) RelayEventRepository {
	t.Helper()

	database, err := db.NewDatabase(&config.JournalConfig{MaxEvents: maxEvents}, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	return NewRepositoryFactory(database.DB, database.MaxEvents()).RelayEvents()
}

func event(i int, intent string, accepted bool) *models.RelayEvent {
	return &models.RelayEvent{
		ID:       uuid.NewString(),
		Time:     time.Date(2024, 5, 1, 10, 0, i, 0, time.UTC),
		Intent:   intent,
		Command:  "OFF",
		Topic:    "power/relay",
		Accepted: accepted,
	}
}

func TestAppendPrunesOldest(t *testing.T) {
	repo := setupRepo(t, 5)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		ev := event(i, "manual", true)
		ids = append(ids, ev.ID)
		require.NoError(t, repo.Append(ctx, ev))
	}

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = repo.GetByID(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, utils.IsNotFoundError(err))

	got, err := repo.GetByID(ctx, ids[7])
	require.NoError(t, err)
	assert.Equal(t, "manual", got.Intent)
}

func TestListFiltersAndPaginates(t *testing.T) {
	repo := setupRepo(t, 100)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		intent := "threshold"
		if i%2 == 0 {
			intent = "interval"
		}
		require.NoError(t, repo.Append(ctx, event(i, intent, i != 5)))
	}

	events, total, err := repo.List(ctx, RelayEventFilter{}, utils.PaginationRequest{Page: 1, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	require.Len(t, events, 4)
	assert.True(t, events[0].Time.After(events[1].Time), "newest first")

	events, total, err = repo.List(ctx, RelayEventFilter{Intent: "threshold"}, utils.PaginationRequest{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	for _, e := range events {
		assert.Equal(t, "threshold", e.Intent)
	}

	rejected := false
	events, total, err = repo.List(ctx, RelayEventFilter{Accepted: &rejected}, utils.PaginationRequest{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, fmt.Sprint(time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)), fmt.Sprint(events[0].Time.UTC()))
}

func TestAppendRejectsMissingID(t *testing.T) {
	repo := setupRepo(t, 10)
	assert.ErrorIs(t, repo.Append(context.Background(), &models.RelayEvent{}), ErrInvalidInput)
}

func TestCancelledContextIsUnavailable(t *testing.T) {
	repo := setupRepo(t, 10)
	require.NoError(t, repo.Append(context.Background(), event(0, "manual", true)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Count(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, utils.IsServiceUnavailableError(err))
	assert.False(t, utils.IsNotFoundError(err))
}

func TestListZeroPageUsesDefaults(t *testing.T) {
	repo := setupRepo(t, 100)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(ctx, event(i, "manual", true)))
	}

	events, total, err := repo.List(ctx, RelayEventFilter{}, utils.PaginationRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, events, 3)
}
