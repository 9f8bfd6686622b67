package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"

	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/remote"
	"github.com/stemsi/kontrol-backend/internal/remote/remotetest"
	"github.com/stemsi/kontrol-backend/internal/reset"
	"github.com/stemsi/kontrol-backend/internal/service"
	"github.com/stemsi/kontrol-backend/internal/session"
	"github.com/stemsi/kontrol-backend/internal/store"
	"github.com/stemsi/kontrol-backend/internal/variant"
)

type memLoader struct {
	manifest *model.Manifest
	variants map[string]*model.Variant
}

func (l *memLoader) Manifest(_ context.Context, subject string) (*model.Manifest, error) {
	if subject != l.manifest.Subject {
		return nil, variant.ErrLoad
	}
	return l.manifest, nil
}

func (l *memLoader) Variant(_ context.Context, subject, id string) (*model.Variant, error) {
	v, ok := l.variants[id]
	if !ok || subject != l.manifest.Subject {
		return nil, variant.ErrNotFound
	}
	return v, nil
}

func newLoader() *memLoader {
	limit := 40.0
	return &memLoader{
		manifest: &model.Manifest{
			Subject:      "russian",
			SubjectTitle: "Русский язык",
			Variants:     []model.ManifestEntry{{ID: "01"}, {ID: "02"}},
		},
		variants: map[string]*model.Variant{
			"01": {
				ID:                "01",
				Title:             "Вариант 1",
				TimeLimitMinutes:  &limit,
				GradingThresholds: map[string]float64{"5": 85, "4": 65, "3": 45, "2": 0},
				Tasks: []model.Task{
					{ID: 1, Text: "Первое", Points: 1, AcceptedAnswers: []string{"идёт"}},
					{ID: 2, Text: "Второе", Points: 2, AcceptedAnswers: []string{"а"}},
				},
			},
			"02": {
				ID:    "02",
				Title: "Вариант 2",
				Tasks: []model.Task{{ID: 1, Text: "Одно", Points: 1, AcceptedAnswers: []string{"x"}}},
			},
		},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type streams map[string]int

func (s streams) Count(key string) int { return s[key] }

type AttemptServiceSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *fakeClock
	remote  *remotetest.Server
	client  *remote.Client
	store   *store.MemoryStore
	streams streams
	svc     *service.AttemptService
}

func (s *AttemptServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s.remote = remotetest.New("secret")
	s.client = remote.New(s.remote.URL, "secret", time.Second, zerolog.Nop())
	s.store = store.NewMemoryStore()
	s.streams = streams{}
	s.svc = service.NewAttemptService(service.AttemptServiceOptions{
		Loader:  newLoader(),
		Store:   s.store,
		Remote:  s.client,
		Reset:   reset.NewWorkflow(s.client, zerolog.Nop()),
		Streams: s.streams,
		Tick:    time.Hour,
		Idle:    10 * time.Minute,
		Clock:   s.clock.Now,
		Log:     zerolog.Nop(),
	})
}

func (s *AttemptServiceSuite) TearDownTest() {
	s.svc.Close()
	s.remote.Close()
}

func (s *AttemptServiceSuite) TestOpenUsesVariantLimit() {
	st, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)

	s.Equal(model.AttemptInProgress, st.Attempt.Status)
	s.Equal(2, st.TaskCount)
	s.Require().NotNil(st.Task)
	s.Equal(1, st.Task.ID)
	s.Require().NotNil(st.RemainingSeconds)
	s.Equal(40*60, *st.RemainingSeconds)
	s.Nil(st.Score)
}

func (s *AttemptServiceSuite) TestRemoteTimerOverride() {
	s.remote.SetTimer("russian", "01", 5)

	st, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	s.Require().NotNil(st.RemainingSeconds)
	s.Equal(300, *st.RemainingSeconds)
}

func (s *AttemptServiceSuite) TestZeroOverrideKeepsVariantLimit() {
	s.remote.SetTimer("russian", "", 0)

	st, err := s.svc.Open(s.ctx, "dev1", "russian", "02")
	s.Require().NoError(err)
	s.Nil(st.RemainingSeconds, "variant 02 has no limit")
	s.Empty(st.Clock)
}

func (s *AttemptServiceSuite) TestSwitchingVariantClosesPrevious() {
	_, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	_, err = s.svc.Open(s.ctx, "dev1", "russian", "02")
	s.Require().NoError(err)
	_, err = s.svc.Open(s.ctx, "dev2", "russian", "01")
	s.Require().NoError(err)

	s.Equal(2, s.svc.OpenCount())
	_, err = s.svc.State("dev1", "russian", "01")
	s.ErrorIs(err, session.ErrNotOpen)

	// The stored attempt survives and is resumed on reopen.
	s.Equal(3, s.store.Len())
}

func (s *AttemptServiceSuite) TestConcurrentVariantSwitch() {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			variantID := []string{"01", "02"}[i%2]
			for j := 0; j < 10; j++ {
				if _, err := s.svc.Open(s.ctx, "dev1", "russian", variantID); err != nil {
					s.ErrorIs(err, session.ErrClosed)
				}
			}
		}(i)
	}
	wg.Wait()

	st, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	s.Equal(model.AttemptInProgress, st.Attempt.Status)
	s.Equal(1, s.svc.OpenCount())

	_, err = s.svc.State("dev1", "russian", "02")
	s.ErrorIs(err, session.ErrNotOpen)
}

func (s *AttemptServiceSuite) TestUnknownVariant() {
	_, err := s.svc.Open(s.ctx, "dev1", "russian", "99")
	s.ErrorIs(err, variant.ErrNotFound)
}

func (s *AttemptServiceSuite) TestAnswerFinishSubmit() {
	_, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)

	_, err = s.svc.SetStudent(s.ctx, "dev1", "russian", "01", " Иванов Иван ", "9Б")
	s.Require().NoError(err)
	_, err = s.svc.Answer(s.ctx, "dev1", "russian", "01", 1, "Идет")
	s.Require().NoError(err)
	_, err = s.svc.Answer(s.ctx, "dev1", "russian", "01", 7, "x")
	s.ErrorIs(err, session.ErrUnknownTask)

	_, err = s.svc.Submit(s.ctx, "dev1", "russian", "01", "test-agent")
	s.ErrorIs(err, session.ErrNotFinished)

	st, err := s.svc.Finish(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	s.Require().NotNil(st.Score)
	s.Equal(1.0, st.Score.Earned)
	s.Equal(3.0, st.Score.Max)
	s.Equal(33, st.Score.Percent)

	res, err := s.svc.Submit(s.ctx, "dev1", "russian", "01", "test-agent")
	s.Require().NoError(err)
	s.NotEmpty(res.Key)
	s.Equal(res.Key, res.State.Attempt.SubmissionKey)
	s.NotNil(res.State.Attempt.SubmittedAt)
	s.Equal(model.AttemptFinished, res.State.Attempt.Status)

	raw, ok := s.remote.Record(res.Key)
	s.Require().True(ok)
	doc := gjson.ParseBytes(raw)
	s.Equal("Иванов Иван", doc.Get("student.name").String())
	s.Equal("Русский язык", doc.Get("subjectTitle").String())
	s.Equal(int64(33), doc.Get("grading.percent").Int())
	s.Equal("test-agent", doc.Get("userAgent").String())

	_, err = s.svc.Answer(s.ctx, "dev1", "russian", "01", 2, "а")
	s.ErrorIs(err, session.ErrFinished)
}

func (s *AttemptServiceSuite) TestSubmitFailureKeepsFinished() {
	_, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	_, err = s.svc.Finish(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)

	s.remote.FailSubmit.Store(true)
	_, err = s.svc.Submit(s.ctx, "dev1", "russian", "01", "")
	var rerr *remote.Error
	s.Require().True(errors.As(err, &rerr))
	s.Equal(503, rerr.Status)

	st, err := s.svc.State("dev1", "russian", "01")
	s.Require().NoError(err)
	s.Equal(model.AttemptFinished, st.Attempt.Status)
	s.Nil(st.Attempt.SubmittedAt)

	s.remote.FailSubmit.Store(false)
	res, err := s.svc.Submit(s.ctx, "dev1", "russian", "01", "")
	s.Require().NoError(err)
	s.NotEmpty(res.Key)
}

func (s *AttemptServiceSuite) TestRedeemReset() {
	_, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	_, err = s.svc.Answer(s.ctx, "dev1", "russian", "01", 1, "идёт")
	s.Require().NoError(err)

	_, err = s.svc.RedeemReset(s.ctx, "dev1", "russian", "01", "RS0001")
	s.ErrorIs(err, session.ErrIdentityRequired)

	_, err = s.svc.SetStudent(s.ctx, "dev1", "russian", "01", "Петрова", "8А")
	s.Require().NoError(err)
	_, err = s.svc.Finish(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)

	code, err := s.client.RequestReset(s.ctx, model.ResetScope{Subject: "russian", Variant: "01", Class: "8А", FIO: "Петрова"})
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)
	st, err := s.svc.RedeemReset(s.ctx, "dev1", "russian", "01", code.Code)
	s.Require().NoError(err)
	s.Equal(model.AttemptInProgress, st.Attempt.Status)
	s.Empty(st.Attempt.Answers)
	s.Equal("Петрова", st.Attempt.StudentName)
	s.Equal(s.clock.Now(), st.Attempt.StartedAt)

	_, err = s.svc.RedeemReset(s.ctx, "dev1", "russian", "01", code.Code)
	var rerr *remote.Error
	s.Require().True(errors.As(err, &rerr))
	s.Equal(409, rerr.Status)
}

func (s *AttemptServiceSuite) TestEvictIdle() {
	_, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	_, err = s.svc.Open(s.ctx, "dev2", "russian", "01")
	s.Require().NoError(err)
	key, err := s.svc.Key("dev2", "russian", "01")
	s.Require().NoError(err)
	s.streams[key] = 1

	s.Equal(0, s.svc.Evict(s.clock.Now()))

	s.clock.Advance(11 * time.Minute)
	s.Equal(1, s.svc.Evict(s.clock.Now()))
	s.Equal(1, s.svc.OpenCount())

	// Reopening resumes the stored attempt.
	st, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)
	s.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), st.Attempt.StartedAt)
}

func (s *AttemptServiceSuite) TestNavigate() {
	_, err := s.svc.Open(s.ctx, "dev1", "russian", "01")
	s.Require().NoError(err)

	delta := 5
	st, err := s.svc.Navigate(s.ctx, "dev1", "russian", "01", &delta, nil)
	s.Require().NoError(err)
	s.Equal(1, st.Attempt.CurrentTaskIndex)

	index := 0
	st, err = s.svc.Navigate(s.ctx, "dev1", "russian", "01", nil, &index)
	s.Require().NoError(err)
	s.Equal(0, st.Attempt.CurrentTaskIndex)
}

func TestAttemptServiceSuite(t *testing.T) {
	suite.Run(t, new(AttemptServiceSuite))
}

func TestAttemptService_NoRemote(t *testing.T) {
	svc := service.NewAttemptService(service.AttemptServiceOptions{
		Loader: newLoader(),
		Store:  store.NewMemoryStore(),
		Tick:   time.Hour,
		Log:    zerolog.Nop(),
	})
	defer svc.Close()

	ctx := context.Background()
	st, err := svc.Open(ctx, "dev1", "russian", "01")
	require.NoError(t, err)
	require.NotNil(t, st.RemainingSeconds)

	_, err = svc.Finish(ctx, "dev1", "russian", "01")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "dev1", "russian", "01", "")
	assert.ErrorIs(t, err, remote.ErrNotConfigured)
}
