// Package hub fans live attempt events out to the websocket streams of the
// device that owns the attempt.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/deadline"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/model"
)

const subscriberBuffer = 16

// Subscriber receives the events of one attempt key.
type Subscriber struct {
	key  string
	send chan any
}

// Events is closed when the subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan any { return s.send }

// offer never blocks: when the buffer is full the oldest event is dropped.
// Ticks are recomputed from startedAt, so a lost tick is harmless.
func (s *Subscriber) offer(ev any) bool {
	for i := 0; i < 2; i++ {
		select {
		case s.send <- ev:
			return true
		default:
		}
		select {
		case <-s.send:
		default:
		}
	}
	return false
}

// Hub implements session.Notifier.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
	log  zerolog.Logger
}

// New creates an empty hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscriber]struct{}),
		log:  log.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers a stream for an attempt key.
func (h *Hub) Subscribe(key string) *Subscriber {
	s := &Subscriber{key: key, send: make(chan any, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[key] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes the stream and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[s.key]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.send)
	if len(set) == 0 {
		delete(h.subs, s.key)
	}
}

// Count returns the number of streams open for a key.
func (h *Hub) Count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// Total returns the number of open streams across all attempts.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Publish delivers an event to every stream of the key.
func (h *Hub) Publish(key string, ev any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[key] {
		if !s.offer(ev) {
			h.log.Warn().Str("key", key).Msg("Subscriber buffer full, event dropped")
		}
	}
}

// Tick publishes the time left.
func (h *Hub) Tick(key string, remaining int) {
	h.Publish(key, TickEvent{
		Event:     EventTick,
		Remaining: remaining,
		Clock:     deadline.FormatClock(remaining),
	})
}

// Finished publishes the terminal transition with a localized notice.
func (h *Hub) Finished(key string, a *model.Attempt, auto bool) {
	msgID := "AttemptFinishedManual"
	if auto {
		msgID = "AttemptFinishedAuto"
	}
	h.Publish(key, FinishedEvent{
		Event:   EventFinished,
		Auto:    auto,
		Message: i18n.T(context.Background(), msgID),
		Attempt: a,
	})
}
