package hub_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kontrol-backend/internal/hub"
	"github.com/stemsi/kontrol-backend/internal/model"
)

func TestTickReachesOnlyItsKey(t *testing.T) {
	h := hub.New(zerolog.Nop())
	a := h.Subscribe("attempt:d1:math:01")
	b := h.Subscribe("attempt:d2:math:01")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Tick("attempt:d1:math:01", 61)

	select {
	case ev := <-a.Events():
		tick, ok := ev.(hub.TickEvent)
		require.True(t, ok)
		assert.Equal(t, hub.EventTick, tick.Event)
		assert.Equal(t, 61, tick.Remaining)
		assert.Equal(t, "00:01:01", tick.Clock)
	case <-time.After(time.Second):
		t.Fatal("no tick delivered")
	}
	assert.Len(t, b.Events(), 0)
}

func TestFinishedCarriesNotice(t *testing.T) {
	h := hub.New(zerolog.Nop())
	s := h.Subscribe("k")
	defer h.Unsubscribe(s)

	h.Finished("k", &model.Attempt{Status: model.AttemptFinished}, true)

	ev := (<-s.Events()).(hub.FinishedEvent)
	assert.True(t, ev.Auto)
	assert.NotEmpty(t, ev.Message)
	assert.Equal(t, model.AttemptFinished, ev.Attempt.Status)
}

func TestFullBufferDropsOldest(t *testing.T) {
	h := hub.New(zerolog.Nop())
	s := h.Subscribe("k")
	defer h.Unsubscribe(s)

	for i := 0; i < 40; i++ {
		h.Tick("k", i)
	}
	h.Finished("k", &model.Attempt{}, false)

	var last any
	for len(s.Events()) > 0 {
		last = <-s.Events()
	}
	_, ok := last.(hub.FinishedEvent)
	assert.True(t, ok, "the newest event survives")
}

func TestUnsubscribe(t *testing.T) {
	h := hub.New(zerolog.Nop())
	s := h.Subscribe("k")
	other := h.Subscribe("other")
	assert.Equal(t, 1, h.Count("k"))
	assert.Equal(t, 2, h.Total())

	h.Unsubscribe(s)
	h.Unsubscribe(s)
	assert.Equal(t, 0, h.Count("k"))
	assert.Equal(t, 1, h.Total())
	h.Unsubscribe(other)

	_, open := <-s.Events()
	assert.False(t, open)

	assert.NotPanics(t, func() { h.Tick("k", 1) })
}
