// Package session implements the attempt state machine:
// NOT_STARTED -> IN_PROGRESS -> FINISHED, with reset back to a fresh attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/deadline"
	"github.com/stemsi/kontrol-backend/internal/grading"
	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/store"
)

var (
	ErrNotOpen          = errors.New("session: attempt is not open")
	ErrFinished         = errors.New("session: attempt is finished")
	ErrNotFinished      = errors.New("session: attempt is not finished")
	ErrUnknownTask      = errors.New("session: unknown task")
	ErrIdentityRequired = errors.New("session: student name and class are required")
	ErrClosed           = errors.New("session: controller is closed")
)

// Notifier receives live attempt events. Calls happen outside the controller lock.
type Notifier interface {
	Tick(key string, remaining int)
	Finished(key string, a *model.Attempt, auto bool)
}

// Options configures a Controller.
type Options struct {
	Key      string
	Subject  string
	Store    store.Store
	Clock    func() time.Time
	Tick     time.Duration
	Notifier Notifier
	Log      zerolog.Logger
}

// Controller owns one attempt. Its methods are safe for concurrent use by
// request handlers and the deadline watcher.
type Controller struct {
	mu       sync.Mutex
	key      string
	subject  string
	store    store.Store
	now      func() time.Time
	tick     time.Duration
	notifier Notifier
	log      zerolog.Logger

	variant *model.Variant
	limit   *float64
	attempt *model.Attempt
	watcher *deadline.Watcher
	// epoch counts watcher restarts; an expiry from an older watcher is ignored.
	epoch  uint64
	closed bool
}

// NewController creates a controller with nothing opened yet.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Controller{
		key:      opts.Key,
		subject:  opts.Subject,
		store:    opts.Store,
		now:      opts.Clock,
		tick:     opts.Tick,
		notifier: opts.Notifier,
		log: opts.Log.With().
			Str("component", "session").
			Str("subject", opts.Subject).
			Str("key", opts.Key).
			Logger(),
	}
}

// Key returns the store key of the attempt.
func (c *Controller) Key() string { return c.key }

// Open resumes the stored attempt for the variant or creates a new one, then
// starts the countdown. An attempt whose time already ran out is finished
// before Open returns.
func (c *Controller) Open(ctx context.Context, variant *model.Variant, limit *float64) (*model.Attempt, error) {
	if variant == nil {
		return nil, fmt.Errorf("session: nil variant")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	a, err := c.store.Load(ctx, c.key)
	resumed := err == nil
	switch {
	case resumed:
	case errors.Is(err, store.ErrNotFound):
		a = model.NewAttempt(c.subject, variant.ID, variant.File, c.now().UTC())
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if a.Status == model.AttemptNotStarted {
		a.Status = model.AttemptInProgress
	}

	c.variant = variant
	c.limit = limit
	c.attempt = a
	c.clampIndexLocked()

	if err := c.store.Save(ctx, c.key, c.attempt); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("save attempt: %w", err)
	}
	w := c.restartWatcherLocked()
	snapshot := c.attempt.Clone()
	c.mu.Unlock()

	c.log.Info().
		Str("variant_id", variant.ID).
		Bool("resumed", resumed).
		Str("status", string(snapshot.Status)).
		Msg("Attempt opened")

	if w != nil {
		if _, expired := w.Check(); expired {
			return c.Snapshot(), nil
		}
	}
	return snapshot, nil
}

// Answer stores the raw text typed for a task.
func (c *Controller) Answer(ctx context.Context, taskID int, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.editableLocked(); err != nil {
		return err
	}
	if _, ok := c.variant.TaskByID(taskID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTask, taskID)
	}
	c.attempt.Answers[grading.TaskKey(taskID)] = raw
	return c.saveLocked(ctx)
}

// SetStudent updates the identity fields.
func (c *Controller) SetStudent(ctx context.Context, name, class string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.editableLocked(); err != nil {
		return err
	}
	c.attempt.StudentName = strings.TrimSpace(name)
	c.attempt.StudentClass = strings.TrimSpace(class)
	return c.saveLocked(ctx)
}

// Navigate moves the cursor by delta, clamped to the task list.
func (c *Controller) Navigate(ctx context.Context, delta int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt == nil {
		return 0, ErrNotOpen
	}
	c.attempt.CurrentTaskIndex += delta
	c.clampIndexLocked()
	return c.attempt.CurrentTaskIndex, c.saveLocked(ctx)
}

// GoTo moves the cursor to index, clamped to the task list.
func (c *Controller) GoTo(ctx context.Context, index int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt == nil {
		return 0, ErrNotOpen
	}
	c.attempt.CurrentTaskIndex = index
	c.clampIndexLocked()
	return c.attempt.CurrentTaskIndex, c.saveLocked(ctx)
}

// Finish moves the attempt to FINISHED. It reports false when the attempt was
// already finished. A persistence error still leaves the attempt finished.
func (c *Controller) Finish(ctx context.Context, auto bool) (bool, error) {
	c.mu.Lock()
	return c.finishAndUnlock(ctx, auto)
}

// expire auto-finishes on behalf of the watcher started at epoch. After a
// reset or re-open the current attempt belongs to a newer watcher.
func (c *Controller) expire(ctx context.Context, epoch uint64) (bool, error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false, nil
	}
	return c.finishAndUnlock(ctx, true)
}

// finishAndUnlock must be called with c.mu held and releases it.
func (c *Controller) finishAndUnlock(ctx context.Context, auto bool) (bool, error) {
	if c.attempt == nil {
		c.mu.Unlock()
		return false, ErrNotOpen
	}
	if c.attempt.IsFinished() {
		c.mu.Unlock()
		return false, nil
	}

	now := c.now().UTC()
	c.attempt.Status = model.AttemptFinished
	c.attempt.FinishedAt = &now
	saveErr := c.saveLocked(ctx)
	w := c.watcher
	snapshot := c.attempt.Clone()
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}

	c.log.Info().
		Str("variant_id", snapshot.VariantID).
		Bool("auto", auto).
		Msg("Attempt finished")

	if c.notifier != nil {
		c.notifier.Finished(c.key, snapshot, auto)
	}
	return true, saveErr
}

// Reset discards the stored attempt and starts a fresh one. Student identity
// is kept. Only the reset workflow calls this, after the code was accepted.
func (c *Controller) Reset(ctx context.Context) (*model.Attempt, error) {
	c.mu.Lock()
	if c.attempt == nil {
		c.mu.Unlock()
		return nil, ErrNotOpen
	}

	if err := c.store.Delete(ctx, c.key); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("delete attempt: %w", err)
	}

	fresh := model.NewAttempt(c.subject, c.variant.ID, c.variant.File, c.now().UTC())
	fresh.StudentName = c.attempt.StudentName
	fresh.StudentClass = c.attempt.StudentClass
	c.attempt = fresh

	if err := c.saveLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.restartWatcherLocked()
	snapshot := c.attempt.Clone()
	c.mu.Unlock()

	c.log.Info().Str("variant_id", snapshot.VariantID).Msg("Attempt reset")
	return snapshot, nil
}

// MarkSubmitted records the remote key of a successful submission.
func (c *Controller) MarkSubmitted(ctx context.Context, submissionKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt == nil {
		return ErrNotOpen
	}
	if !c.attempt.IsFinished() {
		return ErrNotFinished
	}
	now := c.now().UTC()
	c.attempt.SubmittedAt = &now
	c.attempt.SubmissionKey = submissionKey
	return c.saveLocked(ctx)
}

// Score grades the current answers.
func (c *Controller) Score() (model.Score, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt == nil {
		return model.Score{}, ErrNotOpen
	}
	return grading.GradeAttempt(c.variant.Tasks, c.attempt.Answers), nil
}

// Snapshot returns a copy of the attempt, or nil before Open.
func (c *Controller) Snapshot() *model.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt.Clone()
}

// Variant returns the opened variant.
func (c *Controller) Variant() *model.Variant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.variant
}

// Remaining returns seconds left at now; ok is false without a limit.
func (c *Controller) Remaining(now time.Time) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt == nil {
		return 0, false
	}
	return deadline.Remaining(c.limit, c.attempt.StartedAt, now)
}

// State builds the student-facing view of the attempt.
func (c *Controller) State() (model.AttemptState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt == nil {
		return model.AttemptState{}, ErrNotOpen
	}

	st := model.AttemptState{
		Attempt:   c.attempt.Clone(),
		TaskCount: len(c.variant.Tasks),
	}
	if idx := c.attempt.CurrentTaskIndex; idx >= 0 && idx < len(c.variant.Tasks) {
		task := c.variant.Tasks[idx]
		view := task.View()
		st.Task = &view
		if block, ok := c.variant.BlockForTask(task.ID); ok {
			st.TextBlock = &block
		}
	}
	if left, ok := deadline.Remaining(c.limit, c.attempt.StartedAt, c.now()); ok {
		st.RemainingSeconds = &left
		st.Clock = deadline.FormatClock(left)
	}
	if c.attempt.IsFinished() {
		score := grading.GradeAttempt(c.variant.Tasks, c.attempt.Answers)
		st.Score = &score
	}
	return st, nil
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the countdown. A closed controller cannot be opened again.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

func (c *Controller) editableLocked() error {
	if c.attempt == nil {
		return ErrNotOpen
	}
	if c.attempt.IsFinished() {
		return ErrFinished
	}
	return nil
}

func (c *Controller) saveLocked(ctx context.Context) error {
	if err := c.store.Save(ctx, c.key, c.attempt); err != nil {
		c.log.Error().Err(err).Msg("Attempt save failed")
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (c *Controller) clampIndexLocked() {
	last := len(c.variant.Tasks) - 1
	if last < 0 {
		last = 0
	}
	if c.attempt.CurrentTaskIndex > last {
		c.attempt.CurrentTaskIndex = last
	}
	if c.attempt.CurrentTaskIndex < 0 {
		c.attempt.CurrentTaskIndex = 0
	}
}

// restartWatcherLocked replaces the countdown for the current attempt. It
// returns nil when no watcher runs (no limit or already finished).
func (c *Controller) restartWatcherLocked() *deadline.Watcher {
	if c.watcher != nil {
		c.watcher.Stop()
		c.watcher = nil
	}
	c.epoch++
	if c.closed || c.attempt.IsFinished() {
		return nil
	}
	if _, ok := deadline.Remaining(c.limit, c.attempt.StartedAt, c.now()); !ok {
		return nil
	}

	key := c.key
	notifier := c.notifier
	epoch := c.epoch
	w := deadline.NewWatcher(deadline.WatcherConfig{
		Limit:     c.limit,
		StartedAt: c.attempt.StartedAt,
		Tick:      c.tick,
		Now:       c.now,
		OnTick: func(remaining int) {
			if notifier != nil {
				notifier.Tick(key, remaining)
			}
		},
		OnExpire: func() {
			if _, err := c.expire(context.Background(), epoch); err != nil {
				c.log.Error().Err(err).Msg("Auto finish failed")
			}
		},
	})
	c.watcher = w
	w.Start()
	return w
}
