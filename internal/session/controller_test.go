package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/session"
	"github.com/stemsi/kontrol-backend/internal/store"
)

type finishEvent struct {
	key  string
	auto bool
}

type recordingNotifier struct {
	mu       sync.Mutex
	ticks    []int
	finishes []finishEvent
}

func (n *recordingNotifier) Tick(_ string, remaining int) {
	n.mu.Lock()
	n.ticks = append(n.ticks, remaining)
	n.mu.Unlock()
}

func (n *recordingNotifier) Finished(key string, _ *model.Attempt, auto bool) {
	n.mu.Lock()
	n.finishes = append(n.finishes, finishEvent{key, auto})
	n.mu.Unlock()
}

func (n *recordingNotifier) finishCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.finishes)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testVariant() *model.Variant {
	return &model.Variant{
		ID:    "01",
		File:  "variant_01.json",
		Title: "Вариант 1",
		Tasks: []model.Task{
			{ID: 1, Text: "Первое", Points: 1, AcceptedAnswers: []string{"а"}},
			{ID: 2, Text: "Второе", Points: 2, AcceptedAnswers: []string{"б"}},
			{ID: 3, Text: "Третье", Points: 1, AcceptedAnswers: []string{"в"}},
		},
		TextBlocks: []model.TextBlock{{Title: "Текст", From: 2, To: 3, Body: "<p>…</p>"}},
	}
}

func limit(m float64) *float64 { return &m }

type ControllerSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.MemoryStore
	clock    *clock
	notifier *recordingNotifier
}

func (s *ControllerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemoryStore()
	s.clock = &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s.notifier = &recordingNotifier{}
}

func (s *ControllerSuite) newController() *session.Controller {
	return session.NewController(session.Options{
		Key:      "attempt:dev-1:russian:01",
		Subject:  "russian",
		Store:    s.store,
		Clock:    s.clock.Now,
		Tick:     5 * time.Millisecond,
		Notifier: s.notifier,
		Log:      zerolog.Nop(),
	})
}

func (s *ControllerSuite) TestOpen_CreatesInProgressAttempt() {
	c := s.newController()
	defer c.Close()

	a, err := c.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)
	s.Equal(model.AttemptInProgress, a.Status)
	s.Equal("russian", a.Subject)
	s.Equal("01", a.VariantID)
	s.True(a.StartedAt.Equal(s.clock.Now()))
	s.Equal(1, s.store.Len())
}

func (s *ControllerSuite) TestOpenAfterCloseRejected() {
	c := s.newController()
	c.Close()

	_, err := c.Open(s.ctx, testVariant(), limit(10))
	s.ErrorIs(err, session.ErrClosed)
	s.Equal(0, s.store.Len())
}

func (s *ControllerSuite) TestResumeRoundTrip() {
	c := s.newController()
	_, err := c.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)
	s.Require().NoError(c.Answer(s.ctx, 1, "А"))
	s.Require().NoError(c.Answer(s.ctx, 3, "  в "))
	s.Require().NoError(c.SetStudent(s.ctx, " Иванов Иван ", "9Б"))
	_, err = c.GoTo(s.ctx, 2)
	s.Require().NoError(err)
	before := c.Snapshot()
	c.Close()

	s.clock.Advance(3 * time.Minute)

	reopened := s.newController()
	defer reopened.Close()
	after, err := reopened.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)

	s.Equal(before.Answers, after.Answers)
	s.Equal("Иванов Иван", after.StudentName)
	s.Equal("9Б", after.StudentClass)
	s.Equal(2, after.CurrentTaskIndex)
	s.Equal(before.Status, after.Status)
	s.True(before.StartedAt.Equal(after.StartedAt), "startedAt survives reload")
}

func (s *ControllerSuite) TestDoubleFinishIsNoOp() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)

	changed, err := c.Finish(s.ctx, false)
	s.Require().NoError(err)
	s.True(changed)
	first := c.Snapshot()

	s.clock.Advance(time.Minute)
	changed, err = c.Finish(s.ctx, true)
	s.Require().NoError(err)
	s.False(changed)

	second := c.Snapshot()
	s.Require().NotNil(second.FinishedAt)
	s.True(first.FinishedAt.Equal(*second.FinishedAt))
	s.Equal(1, s.notifier.finishCount())
	s.False(s.notifier.finishes[0].auto)
}

func (s *ControllerSuite) TestEditsRejectedAfterFinish() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)
	s.Require().NoError(c.Answer(s.ctx, 1, "а"))
	_, err = c.Finish(s.ctx, false)
	s.Require().NoError(err)

	s.ErrorIs(c.Answer(s.ctx, 1, "другое"), session.ErrFinished)
	s.ErrorIs(c.SetStudent(s.ctx, "x", "y"), session.ErrFinished)
	s.Equal("а", c.Snapshot().Answers["1"])

	// Navigation stays allowed for review.
	idx, err := c.Navigate(s.ctx, 1)
	s.NoError(err)
	s.Equal(1, idx)
}

func (s *ControllerSuite) TestAnswerUnknownTask() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)

	s.ErrorIs(c.Answer(s.ctx, 99, "x"), session.ErrUnknownTask)
}

func (s *ControllerSuite) TestNavigateClamps() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)

	idx, err := c.Navigate(s.ctx, -5)
	s.Require().NoError(err)
	s.Equal(0, idx)

	idx, err = c.Navigate(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(2, idx)

	idx, err = c.GoTo(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(1, idx)

	stored, err := s.store.Load(s.ctx, c.Key())
	s.Require().NoError(err)
	s.Equal(1, stored.CurrentTaskIndex)
}

func (s *ControllerSuite) TestExpiredOnReloadFinishesExactlyOnce() {
	started := s.clock.Now().Add(-11 * time.Minute)
	old := model.NewAttempt("russian", "01", "variant_01.json", started)
	s.Require().NoError(s.store.Save(s.ctx, "attempt:dev-1:russian:01", old))

	c := s.newController()
	defer c.Close()
	a, err := c.Open(s.ctx, testVariant(), limit(10))
	s.Require().NoError(err)

	s.Equal(model.AttemptFinished, a.Status)
	s.Require().Eventually(func() bool { return s.notifier.finishCount() == 1 }, time.Second, 5*time.Millisecond)

	// Further ticks never finish again.
	time.Sleep(30 * time.Millisecond)
	s.Equal(1, s.notifier.finishCount())
	s.True(s.notifier.finishes[0].auto)

	stored, err := s.store.Load(s.ctx, c.Key())
	s.Require().NoError(err)
	s.Equal(model.AttemptFinished, stored.Status)
}

func (s *ControllerSuite) TestCountdownAutoFinishes() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), limit(10))
	s.Require().NoError(err)

	left, ok := c.Remaining(s.clock.Now())
	s.True(ok)
	s.Equal(600, left)

	s.clock.Advance(10*time.Minute + time.Second)
	s.Require().Eventually(func() bool { return s.notifier.finishCount() == 1 }, time.Second, 5*time.Millisecond)
	s.True(c.Snapshot().IsFinished())
}

func (s *ControllerSuite) TestResetStartsFresh() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), limit(10))
	s.Require().NoError(err)
	s.Require().NoError(c.SetStudent(s.ctx, "Петрова Анна", "9А"))
	s.Require().NoError(c.Answer(s.ctx, 2, "б"))
	_, err = c.Navigate(s.ctx, 2)
	s.Require().NoError(err)
	_, err = c.Finish(s.ctx, false)
	s.Require().NoError(err)

	s.clock.Advance(5 * time.Minute)
	fresh, err := c.Reset(s.ctx)
	s.Require().NoError(err)

	s.Equal(model.AttemptInProgress, fresh.Status)
	s.Empty(fresh.Answers)
	s.Zero(fresh.CurrentTaskIndex)
	s.Nil(fresh.FinishedAt)
	s.True(fresh.StartedAt.Equal(s.clock.Now()))
	s.Equal("Петрова Анна", fresh.StudentName)

	left, ok := c.Remaining(s.clock.Now())
	s.True(ok)
	s.Equal(600, left)
	s.NoError(c.Answer(s.ctx, 1, "а"))
}

func (s *ControllerSuite) TestStateHidesScoreUntilFinished() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), limit(10))
	s.Require().NoError(err)
	s.Require().NoError(c.Answer(s.ctx, 1, "а"))
	_, err = c.GoTo(s.ctx, 1)
	s.Require().NoError(err)

	st, err := c.State()
	s.Require().NoError(err)
	s.Nil(st.Score)
	s.Equal(3, st.TaskCount)
	s.Require().NotNil(st.Task)
	s.Equal(2, st.Task.ID)
	s.Require().NotNil(st.TextBlock)
	s.Equal("00:10:00", st.Clock)

	_, err = c.Finish(s.ctx, false)
	s.Require().NoError(err)
	st, err = c.State()
	s.Require().NoError(err)
	s.Require().NotNil(st.Score)
	s.Equal(1.0, st.Score.Earned)
	s.Equal(4.0, st.Score.Max)
	s.Equal(25, st.Score.Percent)
}

func (s *ControllerSuite) TestMarkSubmittedRequiresFinished() {
	c := s.newController()
	defer c.Close()
	_, err := c.Open(s.ctx, testVariant(), nil)
	s.Require().NoError(err)

	s.ErrorIs(c.MarkSubmitted(s.ctx, "k1"), session.ErrNotFinished)

	_, err = c.Finish(s.ctx, false)
	s.Require().NoError(err)
	s.Require().NoError(c.MarkSubmitted(s.ctx, "k1"))

	a := c.Snapshot()
	s.Equal("k1", a.SubmissionKey)
	s.NotNil(a.SubmittedAt)
	s.True(a.IsFinished())
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func TestController_NotOpen(t *testing.T) {
	c := session.NewController(session.Options{Key: "k", Store: store.NewMemoryStore(), Log: zerolog.Nop()})

	assert.ErrorIs(t, c.Answer(context.Background(), 1, "x"), session.ErrNotOpen)
	_, err := c.Finish(context.Background(), false)
	assert.ErrorIs(t, err, session.ErrNotOpen)
	_, err = c.State()
	assert.ErrorIs(t, err, session.ErrNotOpen)
	assert.Nil(t, c.Snapshot())

	_, ok := c.Remaining(time.Now())
	assert.False(t, ok)
	require.NotPanics(t, c.Close)
}
