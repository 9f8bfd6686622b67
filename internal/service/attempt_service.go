package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/payload"
	"github.com/stemsi/kontrol-backend/internal/remote"
	"github.com/stemsi/kontrol-backend/internal/reset"
	"github.com/stemsi/kontrol-backend/internal/session"
	"github.com/stemsi/kontrol-backend/internal/store"
	"github.com/stemsi/kontrol-backend/internal/variant"
)

// ErrSubmitInFlight is returned while a submission of the same attempt is pending.
var ErrSubmitInFlight = errors.New("submission already in progress")

// ResultService is the part of the result service the student side uses.
type ResultService interface {
	ConfigGet(ctx context.Context, subject, variant string) (model.TimerConfig, error)
	Submit(ctx context.Context, p model.ResultPayload) (string, error)
}

// StreamCounter reports open live streams per attempt key.
type StreamCounter interface {
	Count(key string) int
}

// AttemptServiceOptions wires an AttemptService.
type AttemptServiceOptions struct {
	Loader   variant.Loader
	Store    store.Store
	Remote   ResultService
	Reset    *reset.Workflow
	Notifier session.Notifier
	Streams  StreamCounter
	Tick     time.Duration
	Idle     time.Duration
	Clock    func() time.Time
	Log      zerolog.Logger
}

type attemptEntry struct {
	ctrl         *session.Controller
	deviceID     string
	subject      string
	subjectTitle string
	lastUsed     atomic.Int64
	submitting   atomic.Bool
}

func (e *attemptEntry) touch(now time.Time) { e.lastUsed.Store(now.UnixNano()) }

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Key   string             `json:"key"`
	State model.AttemptState `json:"state"`
}

// AttemptService keeps one session controller per device, subject and variant.
// A device has at most one open variant per subject.
type AttemptService struct {
	loader   variant.Loader
	store    store.Store
	remote   ResultService
	reset    *reset.Workflow
	notifier session.Notifier
	streams  StreamCounter
	tick     time.Duration
	idle     time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*attemptEntry
	// active maps device+subject to the key of the open variant.
	active map[string]string
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(opts AttemptServiceOptions) *AttemptService {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &AttemptService{
		loader:   opts.Loader,
		store:    opts.Store,
		remote:   opts.Remote,
		reset:    opts.Reset,
		notifier: opts.Notifier,
		streams:  opts.Streams,
		tick:     opts.Tick,
		idle:     opts.Idle,
		now:      opts.Clock,
		log:      opts.Log.With().Str("component", "attempt_service").Logger(),
		entries:  make(map[string]*attemptEntry),
		active:   make(map[string]string),
	}
}

// Manifest returns the variant index of a subject.
func (s *AttemptService) Manifest(ctx context.Context, subject string) (*model.Manifest, error) {
	return s.loader.Manifest(ctx, subject)
}

// Open resumes or starts the device's attempt on a variant. Any other
// variant of the same subject open on the device is closed first.
func (s *AttemptService) Open(ctx context.Context, deviceID, subject, variantID string) (model.AttemptState, error) {
	manifest, err := s.loader.Manifest(ctx, subject)
	if err != nil {
		return model.AttemptState{}, err
	}
	v, err := s.loader.Variant(ctx, subject, variantID)
	if err != nil {
		return model.AttemptState{}, err
	}
	limit := s.timeLimit(ctx, subject, v)

	key := config.CacheKey.AttemptKey(deviceID, subject, v.ID)

	// A concurrent variant switch or eviction may close the controller before
	// it opens; register a fresh one and try again.
	var e *attemptEntry
	for try := 0; ; try++ {
		e = s.register(deviceID, subject, key, manifest.SubjectTitle)
		_, err = e.ctrl.Open(ctx, v, limit)
		if err == nil {
			break
		}
		if !errors.Is(err, session.ErrClosed) || try == 2 {
			return model.AttemptState{}, err
		}
	}

	s.log.Info().
		Str("device_id", deviceID).
		Str("subject", subject).
		Str("variant_id", v.ID).
		Bool("time_limited", limit != nil).
		Msg("Attempt ready")

	return e.ctrl.State()
}

// register makes key the active attempt of the device for subject and closes
// the controller it replaces.
func (s *AttemptService) register(deviceID, subject, key, subjectTitle string) *attemptEntry {
	slot := deviceID + "|" + subject

	s.mu.Lock()
	var previous *attemptEntry
	if prevKey, ok := s.active[slot]; ok && prevKey != key {
		previous = s.entries[prevKey]
		delete(s.entries, prevKey)
	}
	e, ok := s.entries[key]
	if !ok || e.ctrl.Closed() {
		e = &attemptEntry{
			ctrl: session.NewController(session.Options{
				Key:      key,
				Subject:  subject,
				Store:    s.store,
				Clock:    s.now,
				Tick:     s.tick,
				Notifier: s.notifier,
				Log:      s.log,
			}),
			deviceID:     deviceID,
			subject:      subject,
			subjectTitle: subjectTitle,
		}
		s.entries[key] = e
	}
	s.active[slot] = key
	e.touch(s.now())
	s.mu.Unlock()

	if previous != nil {
		previous.ctrl.Close()
	}
	return e
}

// timeLimit prefers a positive instructor override over the variant meta.
// Result service failures fall back silently.
func (s *AttemptService) timeLimit(ctx context.Context, subject string, v *model.Variant) *float64 {
	if s.remote != nil {
		cfg, err := s.remote.ConfigGet(ctx, subject, v.ID)
		switch {
		case err == nil && cfg.TimeLimitMinutes > 0:
			limit := cfg.TimeLimitMinutes
			return &limit
		case err != nil && !errors.Is(err, remote.ErrNotConfigured):
			s.log.Warn().Err(err).Str("subject", subject).Str("variant_id", v.ID).Msg("Timer config unavailable, using variant meta")
		}
	}
	return v.TimeLimitMinutes
}

func (s *AttemptService) lookup(deviceID, subject, variantID string) (*attemptEntry, error) {
	key := config.CacheKey.AttemptKey(deviceID, subject, variantID)
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return nil, session.ErrNotOpen
	}
	e.touch(s.now())
	return e, nil
}

// Key returns the attempt key of an open attempt.
func (s *AttemptService) Key(deviceID, subject, variantID string) (string, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return "", err
	}
	return e.ctrl.Key(), nil
}

// State returns the student view of an open attempt.
func (s *AttemptService) State(deviceID, subject, variantID string) (model.AttemptState, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return model.AttemptState{}, err
	}
	return e.ctrl.State()
}

// Answer stores a raw answer and returns the updated view.
func (s *AttemptService) Answer(ctx context.Context, deviceID, subject, variantID string, taskID int, raw string) (model.AttemptState, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return model.AttemptState{}, err
	}
	if err := e.ctrl.Answer(ctx, taskID, raw); err != nil {
		return model.AttemptState{}, err
	}
	return e.ctrl.State()
}

// SetStudent updates the identity fields.
func (s *AttemptService) SetStudent(ctx context.Context, deviceID, subject, variantID, name, class string) (model.AttemptState, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return model.AttemptState{}, err
	}
	if err := e.ctrl.SetStudent(ctx, name, class); err != nil {
		return model.AttemptState{}, err
	}
	return e.ctrl.State()
}

// Navigate moves the cursor by delta or, when index is set, to index.
func (s *AttemptService) Navigate(ctx context.Context, deviceID, subject, variantID string, delta, index *int) (model.AttemptState, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return model.AttemptState{}, err
	}
	switch {
	case index != nil:
		_, err = e.ctrl.GoTo(ctx, *index)
	case delta != nil:
		_, err = e.ctrl.Navigate(ctx, *delta)
	}
	if err != nil {
		return model.AttemptState{}, err
	}
	return e.ctrl.State()
}

// Finish ends the attempt at the student's request. Finishing twice is not
// an error; the view is returned either way.
func (s *AttemptService) Finish(ctx context.Context, deviceID, subject, variantID string) (model.AttemptState, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return model.AttemptState{}, err
	}
	if _, err := e.ctrl.Finish(ctx, false); err != nil {
		return model.AttemptState{}, err
	}
	return e.ctrl.State()
}

// Submit sends the finished attempt to the result service. A failed
// submission leaves the attempt finished so the student can retry.
func (s *AttemptService) Submit(ctx context.Context, deviceID, subject, variantID, userAgent string) (SubmitResult, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return SubmitResult{}, err
	}
	if s.remote == nil {
		return SubmitResult{}, remote.ErrNotConfigured
	}
	if !e.submitting.CompareAndSwap(false, true) {
		return SubmitResult{}, ErrSubmitInFlight
	}
	defer e.submitting.Store(false)

	a := e.ctrl.Snapshot()
	if a == nil {
		return SubmitResult{}, session.ErrNotOpen
	}
	if !a.IsFinished() {
		return SubmitResult{}, session.ErrNotFinished
	}
	score, err := e.ctrl.Score()
	if err != nil {
		return SubmitResult{}, err
	}

	p := payload.Build(a, e.ctrl.Variant(), score, payload.Options{
		SubjectTitle: e.subjectTitle,
		UserAgent:    userAgent,
		Now:          s.now(),
	})
	key, err := s.remote.Submit(ctx, p)
	if err != nil {
		s.log.Error().Err(err).
			Str("device_id", deviceID).
			Str("subject", subject).
			Str("variant_id", a.VariantID).
			Msg("Submission failed")
		return SubmitResult{}, fmt.Errorf("submit attempt: %w", err)
	}
	if err := e.ctrl.MarkSubmitted(ctx, key); err != nil {
		return SubmitResult{}, err
	}

	s.log.Info().
		Str("device_id", deviceID).
		Str("subject", subject).
		Str("variant_id", a.VariantID).
		Int("percent", score.Percent).
		Str("submission_key", key).
		Msg("Attempt submitted")

	st, err := e.ctrl.State()
	return SubmitResult{Key: key, State: st}, err
}

// RedeemReset applies an instructor reset code to the attempt.
func (s *AttemptService) RedeemReset(ctx context.Context, deviceID, subject, variantID, code string) (model.AttemptState, error) {
	e, err := s.lookup(deviceID, subject, variantID)
	if err != nil {
		return model.AttemptState{}, err
	}
	if s.reset == nil {
		return model.AttemptState{}, remote.ErrNotConfigured
	}
	if _, err := s.reset.Redeem(ctx, e.ctrl, code); err != nil {
		return model.AttemptState{}, err
	}
	return e.ctrl.State()
}

// OpenCount returns the number of attempts held in memory.
func (s *AttemptService) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evict closes attempts unused for the idle period that have no live stream.
// Their state stays in the store; the next Open resumes it.
func (s *AttemptService) Evict(now time.Time) int {
	if s.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idle).UnixNano()

	var evicted []*attemptEntry
	s.mu.Lock()
	for key, e := range s.entries {
		if e.lastUsed.Load() > cutoff {
			continue
		}
		if s.streams != nil && s.streams.Count(key) > 0 {
			continue
		}
		delete(s.entries, key)
		slot := e.deviceID + "|" + e.subject
		if s.active[slot] == key {
			delete(s.active, slot)
		}
		evicted = append(evicted, e)
	}
	s.mu.Unlock()

	for _, e := range evicted {
		e.ctrl.Close()
	}
	if len(evicted) > 0 {
		s.log.Info().Int("count", len(evicted)).Msg("Idle attempts evicted")
	}
	return len(evicted)
}

// StartJanitor evicts idle attempts until ctx is cancelled.
func (s *AttemptService) StartJanitor(ctx context.Context) {
	if s.idle <= 0 {
		return
	}
	interval := s.idle / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict(s.now())
		}
	}
}

// Close stops every countdown.
func (s *AttemptService) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*attemptEntry)
	s.active = make(map[string]string)
	s.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Close()
	}
}
