package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/model"
)

// TieredStore writes through a hot tier synchronously and hands the durable
// write to a queue. Reads fall back to the durable tier and repopulate the
// hot tier.
type TieredStore struct {
	hot   Store
	cold  Store
	queue Queue
	log   zerolog.Logger
}

// NewTieredStore wires the two tiers. A nil queue makes durable writes
// synchronous.
func NewTieredStore(hot, cold Store, queue Queue, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		hot:   hot,
		cold:  cold,
		queue: queue,
		log:   log.With().Str("component", "tiered_store").Logger(),
	}
}

func (s *TieredStore) Load(ctx context.Context, key string) (*model.Attempt, error) {
	a, err := s.hot.Load(ctx, key)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.log.Warn().Err(err).Str("key", key).Msg("Hot tier read failed, falling back")
	}

	a, err = s.cold.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	// Self-heal the hot tier without moving SavedAt of the durable copy.
	heal := a.Clone()
	if err := s.hot.Save(ctx, key, heal); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Hot tier repopulate failed")
	}
	return a, nil
}

func (s *TieredStore) Save(ctx context.Context, key string, a *model.Attempt) error {
	if err := s.hot.Save(ctx, key, a); err != nil {
		return err
	}

	if s.queue != nil {
		rec, err := NewRecord(key, a)
		if err != nil {
			return err
		}
		err = s.queue.Enqueue(ctx, rec)
		if err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("key", key).Msg("Enqueue failed, persisting synchronously")
	}

	if err := s.cold.Save(ctx, key, a.Clone()); err != nil {
		return fmt.Errorf("durable save: %w", err)
	}
	return nil
}

func (s *TieredStore) Delete(ctx context.Context, key string) error {
	hotErr := s.hot.Delete(ctx, key)
	coldErr := s.cold.Delete(ctx, key)
	return errors.Join(hotErr, coldErr)
}
