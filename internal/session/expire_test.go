package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/store"
)

func TestExpireFromOlderWatcherIgnored(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewController(Options{
		Key:     "attempt:dev-1:russian:01",
		Subject: "russian",
		Store:   store.NewMemoryStore(),
		Clock:   func() time.Time { return now },
		Tick:    time.Hour,
		Log:     zerolog.Nop(),
	})
	defer c.Close()

	ten := 10.0
	v := &model.Variant{ID: "01", Tasks: []model.Task{{ID: 1, Points: 1, AcceptedAnswers: []string{"а"}}}}
	_, err := c.Open(ctx, v, &ten)
	require.NoError(t, err)

	c.mu.Lock()
	old := c.epoch
	c.mu.Unlock()

	fresh, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, fresh.Status)

	finished, err := c.expire(ctx, old)
	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, model.AttemptInProgress, c.Snapshot().Status)

	c.mu.Lock()
	current := c.epoch
	c.mu.Unlock()
	finished, err = c.expire(ctx, current)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, model.AttemptFinished, c.Snapshot().Status)
}
