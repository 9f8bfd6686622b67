package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/store"
)

const (
	PersistBatchSize    = 50
	PersistBatchTimeout = 2 * time.Second
	PersistPollTimeout  = 1 * time.Second
)

// durableWriter is the part of store.PostgresStore the worker needs.
type durableWriter interface {
	UpsertBatch(ctx context.Context, recs []store.Record) error
	Upsert(ctx context.Context, rec store.Record) error
}

// AttemptPersistWorker drains persist_attempts_queue into PostgreSQL in batches.
type AttemptPersistWorker struct {
	rdb   *redis.Client
	db    durableWriter
	queue string
	log   zerolog.Logger
}

func NewAttemptPersistWorker(rdb *redis.Client, db *store.PostgresStore, log zerolog.Logger) *AttemptPersistWorker {
	return &AttemptPersistWorker{
		rdb:   rdb,
		db:    db,
		queue: config.WorkerKey.PersistAttemptsQueue,
		log:   log.With().Str("component", "attempt_persist_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled, then flushes and drains. Call in a goroutine.
func (w *AttemptPersistWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptPersistWorker started")

	batch := make([]store.Record, 0, PersistBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= PersistBatchSize || time.Since(lastFlush) >= PersistBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("AttemptPersistWorker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, PersistPollTimeout, w.queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			rec, ok := w.decode(item[1])
			if !ok {
				continue
			}
			batch = append(batch, rec)
		}
	}
}

func (w *AttemptPersistWorker) decode(raw string) (store.Record, bool) {
	var rec store.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Key == "" {
		w.log.Error().Err(err).Msg("Invalid queue payload")
		return store.Record{}, false
	}
	return rec, true
}

// ----------------------------------------------------------------
// Batch upsert with per-record fallback
// ----------------------------------------------------------------

func (w *AttemptPersistWorker) flushSafe(ctx context.Context, batch []store.Record) {
	if len(batch) == 0 {
		return
	}

	if err := w.db.UpsertBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk attempt upsert failed, using fallback")

		for _, rec := range batch {
			if err := w.db.Upsert(ctx, rec); err != nil {
				w.log.Error().Err(err).Str("key", rec.Key).Msg("single upsert failed, requeueing")
				w.requeue(ctx, rec)
			}
		}
		return
	}

	w.log.Debug().Int("size", len(batch)).Msg("Attempt batch persisted")
}

func (w *AttemptPersistWorker) requeue(ctx context.Context, rec store.Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := w.rdb.RPush(ctx, w.queue, raw).Err(); err != nil {
		w.log.Error().Err(err).Str("key", rec.Key).Msg("requeue failed, record dropped from durable tier")
	}
}

// drain persists whatever is queued at shutdown. Records requeued by a failed
// flush are left for the next start.
func (w *AttemptPersistWorker) drain(ctx context.Context) {
	pending, err := w.rdb.LLen(ctx, w.queue).Result()
	if err != nil || pending == 0 {
		return
	}

	drained := 0
	batch := make([]store.Record, 0, PersistBatchSize)

	for i := int64(0); i < pending; i++ {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}
		rec, ok := w.decode(raw)
		if !ok {
			continue
		}
		batch = append(batch, rec)
		drained++

		if len(batch) >= PersistBatchSize {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
		}
	}
	w.flushSafe(ctx, batch)

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
