package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/kontrol-backend/internal/model"
)

// PostgresStore is the durable attempt tier backed by the attempts table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) Load(ctx context.Context, key string) (*model.Attempt, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM attempts WHERE key = $1`, key,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select attempt %s: %w", key, err)
	}
	return Decode(raw)
}

func (s *PostgresStore) Save(ctx context.Context, key string, a *model.Attempt) error {
	stamp(a, s.now)
	rec, err := NewRecord(key, a)
	if err != nil {
		return err
	}
	return s.Upsert(ctx, rec)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM attempts WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete attempt %s: %w", key, err)
	}
	return nil
}

// Upsert writes one queue record. Older records never overwrite newer ones.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	a, err := Decode(rec.Attempt)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attempts (key, subject, variant_id, status, started_at, saved_at, record)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		 ON CONFLICT (key) DO UPDATE
		 SET subject = EXCLUDED.subject,
		     variant_id = EXCLUDED.variant_id,
		     status = EXCLUDED.status,
		     started_at = EXCLUDED.started_at,
		     saved_at = EXCLUDED.saved_at,
		     record = EXCLUDED.record,
		     updated_at = NOW()
		 WHERE attempts.saved_at <= EXCLUDED.saved_at`,
		rec.Key, a.Subject, a.VariantID, string(a.Status), a.StartedAt, a.SavedAt, string(rec.Attempt),
	)
	if err != nil {
		return fmt.Errorf("upsert attempt %s: %w", rec.Key, err)
	}
	return nil
}

// UpsertBatch writes many records in one statement using UNNEST. When a key
// appears more than once, the latest saved_at wins.
func (s *PostgresStore) UpsertBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	latest := make(map[string]int, len(recs))
	decoded := make([]*model.Attempt, len(recs))
	for i, rec := range recs {
		a, err := Decode(rec.Attempt)
		if err != nil {
			return fmt.Errorf("batch item %s: %w", rec.Key, err)
		}
		decoded[i] = a
		if j, ok := latest[rec.Key]; !ok || !decoded[j].SavedAt.After(a.SavedAt) {
			latest[rec.Key] = i
		}
	}

	n := len(latest)
	keys := make([]string, 0, n)
	subjects := make([]string, 0, n)
	variants := make([]string, 0, n)
	statuses := make([]string, 0, n)
	started := make([]time.Time, 0, n)
	saved := make([]time.Time, 0, n)
	records := make([]string, 0, n)

	for i, rec := range recs {
		if latest[rec.Key] != i {
			continue
		}
		a := decoded[i]
		keys = append(keys, rec.Key)
		subjects = append(subjects, a.Subject)
		variants = append(variants, a.VariantID)
		statuses = append(statuses, string(a.Status))
		started = append(started, a.StartedAt)
		saved = append(saved, a.SavedAt)
		records = append(records, string(rec.Attempt))
	}

	query := `
		INSERT INTO attempts (key, subject, variant_id, status, started_at, saved_at, record)
		SELECT u.key, u.subject, u.variant_id, u.status, u.started_at, u.saved_at, u.record::jsonb
		FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::text[],
			$4::text[],
			$5::timestamptz[],
			$6::timestamptz[],
			$7::text[]
		) AS u (key, subject, variant_id, status, started_at, saved_at, record)
		ON CONFLICT (key) DO UPDATE
		SET subject = EXCLUDED.subject,
		    variant_id = EXCLUDED.variant_id,
		    status = EXCLUDED.status,
		    started_at = EXCLUDED.started_at,
		    saved_at = EXCLUDED.saved_at,
		    record = EXCLUDED.record,
		    updated_at = NOW()
		WHERE attempts.saved_at <= EXCLUDED.saved_at
	`

	if _, err := s.pool.Exec(ctx, query, keys, subjects, variants, statuses, started, saved, records); err != nil {
		return fmt.Errorf("bulk upsert attempts: %w", err)
	}
	return nil
}
