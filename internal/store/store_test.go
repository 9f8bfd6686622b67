package store_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/store"
)

func sampleAttempt() *model.Attempt {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := model.NewAttempt("russian", "01", "variant_01.json", started)
	a.StudentName = "Иванов Иван"
	a.StudentClass = "9Б"
	a.Answers["1"] = "пришёл"
	a.CurrentTaskIndex = 2
	return a
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := sampleAttempt()

	require.NoError(t, s.Save(ctx, "attempt:d:russian:01", a))

	got, err := s.Load(ctx, "attempt:d:russian:01")
	require.NoError(t, err)
	assert.Equal(t, a.StudentName, got.StudentName)
	assert.Equal(t, a.StudentClass, got.StudentClass)
	assert.Equal(t, a.Answers, got.Answers)
	assert.Equal(t, a.CurrentTaskIndex, got.CurrentTaskIndex)
	assert.True(t, a.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, model.AttemptInProgress, got.Status)
	assert.Equal(t, model.AttemptSchema, got.Schema)
	assert.False(t, got.SavedAt.IsZero())
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := sampleAttempt()
	require.NoError(t, s.Save(ctx, "k", a))

	a.Answers["1"] = "changed"
	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "пришёл", got.Answers["1"])
}

func TestMemoryStore_MissingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	_, err := s.Load(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Save(ctx, "k", sampleAttempt()))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err = s.Load(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestDecode_LegacyRecord(t *testing.T) {
	raw := []byte(`{
		"schema": "kodislovo.control.v1",
		"subject": "russian",
		"variantId": "02",
		"startedAt": "2026-03-02T09:00:00Z",
		"finishedAt": "2026-03-02T09:40:00Z",
		"isFinished": true,
		"student": {"name": "Петрова Анна", "class": "9А"},
		"answers": {"3": "идет"},
		"currentTaskIndex": 4,
		"savedAt": "2026-03-02T09:40:01Z"
	}`)

	a, err := store.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSchema, a.Schema)
	assert.Equal(t, model.AttemptFinished, a.Status)
	assert.Equal(t, "Петрова Анна", a.StudentName)
	assert.Equal(t, "9А", a.StudentClass)
	assert.Equal(t, "идет", a.Answers["3"])
	assert.Equal(t, 4, a.CurrentTaskIndex)
	require.NotNil(t, a.FinishedAt)
}

func TestDecode_LegacyInProgressWithoutAnswers(t *testing.T) {
	a, err := store.Decode([]byte(`{"subject":"math","variantId":"01","startedAt":"2026-03-02T09:00:00Z","isFinished":false}`))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, a.Status)
	assert.NotNil(t, a.Answers)
	assert.Nil(t, a.FinishedAt)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := store.Decode([]byte(`{not json`))
	assert.Error(t, err)

	_, err = store.Decode([]byte(`{"schema":"kontrol.attempt.v1","subject":"math"}`))
	assert.Error(t, err)
}

type fakeQueue struct {
	mu   sync.Mutex
	recs []store.Record
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, rec store.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.recs = append(q.recs, rec)
	return nil
}

func TestTieredStore_WriteThroughAndQueue(t *testing.T) {
	ctx := context.Background()
	hot, cold := store.NewMemoryStore(), store.NewMemoryStore()
	q := &fakeQueue{}
	s := store.NewTieredStore(hot, cold, q, zerolog.Nop())

	require.NoError(t, s.Save(ctx, "k", sampleAttempt()))

	assert.Equal(t, 1, hot.Len())
	assert.Zero(t, cold.Len(), "durable write goes through the queue")
	require.Len(t, q.recs, 1)
	assert.Equal(t, "k", q.recs[0].Key)

	decoded, err := store.Decode(q.recs[0].Attempt)
	require.NoError(t, err)
	assert.Equal(t, "Иванов Иван", decoded.StudentName)
}

func TestTieredStore_QueueFailureFallsBackToDurable(t *testing.T) {
	ctx := context.Background()
	hot, cold := store.NewMemoryStore(), store.NewMemoryStore()
	s := store.NewTieredStore(hot, cold, &fakeQueue{err: errors.New("down")}, zerolog.Nop())

	require.NoError(t, s.Save(ctx, "k", sampleAttempt()))
	assert.Equal(t, 1, cold.Len())
}

func TestTieredStore_ReadFallbackHealsHotTier(t *testing.T) {
	ctx := context.Background()
	hot, cold := store.NewMemoryStore(), store.NewMemoryStore()
	s := store.NewTieredStore(hot, cold, &fakeQueue{}, zerolog.Nop())

	require.NoError(t, cold.Save(ctx, "k", sampleAttempt()))

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "9Б", got.StudentClass)
	assert.Equal(t, 1, hot.Len())
}

func TestTieredStore_DeleteBothTiers(t *testing.T) {
	ctx := context.Background()
	hot, cold := store.NewMemoryStore(), store.NewMemoryStore()
	s := store.NewTieredStore(hot, cold, nil, zerolog.Nop())

	require.NoError(t, s.Save(ctx, "k", sampleAttempt()))
	assert.Equal(t, 1, cold.Len(), "nil queue persists synchronously")

	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	s := store.NewRedisStore(rdb, time.Minute)
	key := "attempt:test-device:russian:01"
	defer s.Delete(ctx, key)

	require.NoError(t, s.Save(ctx, key, sampleAttempt()))
	got, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "пришёл", got.Answers["1"])

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Load(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	s := store.NewPostgresStore(pool)
	key := "attempt:test-device:russian:01"
	defer s.Delete(ctx, key)

	a := sampleAttempt()
	require.NoError(t, s.Save(ctx, key, a))

	later := a.Clone()
	later.Answers["2"] = "бы"
	later.SavedAt = a.SavedAt.Add(time.Second)
	older := a.Clone()
	older.SavedAt = a.SavedAt.Add(-time.Minute)

	recLater, err := store.NewRecord(key, later)
	require.NoError(t, err)
	recOlder, err := store.NewRecord(key, older)
	require.NoError(t, err)
	require.NoError(t, s.UpsertBatch(ctx, []store.Record{recLater, recOlder}))

	got, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "бы", got.Answers["2"])
}
