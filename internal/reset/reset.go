// Package reset implements the instructor-authorised reset of an attempt:
// the instructor mints a one-time code, the student redeems it.
package reset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/session"
	"github.com/stemsi/kontrol-backend/internal/variant"
)

var (
	ErrScopeRequired = errors.New("reset: subject, variant, class and name are required")
	ErrCodeRequired  = errors.New("reset: code is required")
	ErrInFlight      = errors.New("reset: a redemption is already in progress")
)

// Service is the part of the result service the workflow talks to.
type Service interface {
	RequestReset(ctx context.Context, scope model.ResetScope) (model.ResetCode, error)
	ConsumeReset(ctx context.Context, scope model.ResetScope, code string) error
}

// Target is the attempt a code is redeemed against.
type Target interface {
	Key() string
	Snapshot() *model.Attempt
	Reset(ctx context.Context) (*model.Attempt, error)
}

// Workflow mints and redeems reset codes.
type Workflow struct {
	svc Service
	log zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewWorkflow(svc Service, log zerolog.Logger) *Workflow {
	return &Workflow{
		svc:     svc,
		log:     log.With().Str("component", "reset").Logger(),
		pending: make(map[string]struct{}),
	}
}

// RequestReset mints a code bound to one student's attempt.
func (w *Workflow) RequestReset(ctx context.Context, scope model.ResetScope) (model.ResetCode, error) {
	scope = trimScope(scope)
	if scope.Subject == "" || scope.Variant == "" || scope.Class == "" || scope.FIO == "" {
		return model.ResetCode{}, ErrScopeRequired
	}

	code, err := w.svc.RequestReset(ctx, scope)
	if err != nil {
		return model.ResetCode{}, fmt.Errorf("request reset code: %w", err)
	}

	w.log.Info().
		Str("subject", scope.Subject).
		Str("variant_id", scope.Variant).
		Str("class", scope.Class).
		Msg("Reset code issued")
	return code, nil
}

// Redeem consumes code for the target's student and, only on success, resets
// the attempt. A rejected code leaves the attempt untouched.
func (w *Workflow) Redeem(ctx context.Context, t Target, code string) (*model.Attempt, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrCodeRequired
	}

	a := t.Snapshot()
	if a == nil {
		return nil, session.ErrNotOpen
	}
	scope := trimScope(model.ResetScope{
		Subject: a.Subject,
		Variant: a.VariantID,
		Class:   a.StudentClass,
		FIO:     a.StudentName,
	})
	if scope.FIO == "" || scope.Class == "" {
		return nil, session.ErrIdentityRequired
	}

	if !w.acquire(t.Key()) {
		return nil, ErrInFlight
	}
	defer w.release(t.Key())

	if err := w.svc.ConsumeReset(ctx, scope, code); err != nil {
		w.log.Warn().Err(err).
			Str("subject", scope.Subject).
			Str("variant_id", scope.Variant).
			Msg("Reset code rejected")
		return nil, fmt.Errorf("consume reset code: %w", err)
	}

	fresh, err := t.Reset(ctx)
	if err != nil {
		return nil, err
	}

	w.log.Info().
		Str("subject", scope.Subject).
		Str("variant_id", scope.Variant).
		Msg("Reset code redeemed")
	return fresh, nil
}

func (w *Workflow) acquire(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.pending[key]; busy {
		return false
	}
	w.pending[key] = struct{}{}
	return true
}

func (w *Workflow) release(key string) {
	w.mu.Lock()
	delete(w.pending, key)
	w.mu.Unlock()
}

// trimScope cleans a scope so that a code minted for "variant_1" or "1"
// matches the "01" of the student's attempt.
func trimScope(s model.ResetScope) model.ResetScope {
	v := strings.TrimSpace(s.Variant)
	if id := variant.NormalizeVariantID(v); id != "" {
		v = id
	}
	return model.ResetScope{
		Subject: strings.TrimSpace(s.Subject),
		Variant: v,
		Class:   strings.TrimSpace(s.Class),
		FIO:     strings.TrimSpace(s.FIO),
	}
}
