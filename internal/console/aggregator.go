// Package console is the instructor side: it lists submitted records from the
// result service, filters them locally, regrades them against an answer key,
// voids them and manages timers and reset codes.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/reset"
	"github.com/stemsi/kontrol-backend/internal/variant"
)

var (
	// ErrStale is returned by a list refresh overtaken by a newer one.
	ErrStale = errors.New("console: stale list response discarded")
	// ErrInFlight is returned while a void of the same aggregator is running.
	ErrInFlight = errors.New("console: operation already in progress")
	// ErrNoKeys is returned for bulk operations without record keys.
	ErrNoKeys = errors.New("console: no record keys given")
)

// Remote is the instructor part of the result service.
type Remote interface {
	List(ctx context.Context, f model.ListFilter) ([]model.ListItem, error)
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Void(ctx context.Context, keys []string) error
	ConfigGet(ctx context.Context, subject, variant string) (model.TimerConfig, error)
	ConfigSet(ctx context.Context, cfg model.TimerConfig) error
}

// CheckResult pairs a record key with its verdict or the error that stopped it.
type CheckResult struct {
	Key     string   `json:"key"`
	Verdict *Verdict `json:"verdict,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Aggregator holds the last fetched list of one instructor console.
type Aggregator struct {
	remote   Remote
	reset    *reset.Workflow
	variants variant.Loader
	log      zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	items   []model.ListItem
	visible []model.ListItem
	filter  model.ListFilter
	checks  map[string]Verdict

	voiding atomic.Bool
}

// NewAggregator creates an Aggregator. variants may be nil; autocheck then
// relies on the uploaded key and the payload snapshot only.
func NewAggregator(r Remote, rw *reset.Workflow, variants variant.Loader, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		remote:   r,
		reset:    rw,
		variants: variants,
		checks:   make(map[string]Verdict),
		log:      log.With().Str("component", "console").Logger(),
	}
}

// Refresh fetches the list for the filter and re-applies the local query.
// A response that arrives after a newer Refresh started is discarded.
func (a *Aggregator) Refresh(ctx context.Context, f model.ListFilter) ([]model.ListItem, error) {
	if v := strings.TrimSpace(f.Variant); v != "" {
		if n := variant.NormalizeVariantID(v); n != "" {
			f.Variant = n
		} else {
			f.Variant = v
		}
	}
	f.Class = strings.TrimSpace(f.Class)

	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	items, err := a.remote.List(ctx, f)

	a.mu.Lock()
	defer a.mu.Unlock()
	if seq != a.seq {
		return nil, ErrStale
	}
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	a.items = items
	a.filter = f
	a.visible = applyQuery(items, f.Query)

	a.log.Info().
		Str("variant", f.Variant).
		Str("class", f.Class).
		Int("count", len(items)).
		Msg("Result list loaded")
	return clone(a.visible), nil
}

// Filter re-applies a text query to the last fetched list without a round trip.
func (a *Aggregator) Filter(query string) []model.ListItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filter.Query = query
	a.visible = applyQuery(a.items, query)
	return clone(a.visible)
}

// Visible returns the filtered list.
func (a *Aggregator) Visible() []model.ListItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return clone(a.visible)
}

// Items returns the full last fetched list.
func (a *Aggregator) Items() []model.ListItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return clone(a.items)
}

// Get fetches the full payload of one record.
func (a *Aggregator) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return a.remote.Get(ctx, key)
}

// Autocheck regrades one record.
func (a *Aggregator) Autocheck(ctx context.Context, key string, uploadedKey []byte) (Verdict, error) {
	raw, err := a.remote.Get(ctx, key)
	if err != nil {
		return Verdict{}, fmt.Errorf("get %s: %w", key, err)
	}
	v, err := Check(raw, uploadedKey, a.variantDoc(ctx, raw))
	if err != nil {
		return Verdict{}, err
	}
	v.Key = key
	doc := gjson.ParseBytes(raw)
	v.Variant = doc.Get("variant.id").String()
	v.CreatedAt = doc.Get("createdAt").String()
	if item, ok := a.item(key); ok {
		if v.FIO == "" {
			v.FIO = item.FIO
		}
		if v.Class == "" {
			v.Class = item.Class
		}
		if v.Variant == "" {
			v.Variant = item.Variant
		}
		if v.CreatedAt == "" {
			v.CreatedAt = item.CreatedAt
		}
	}

	a.mu.Lock()
	a.checks[key] = v
	a.mu.Unlock()
	return v, nil
}

// Verdicts returns the last autocheck verdict of every checked record, in
// list order first and by key for records no longer listed.
func (a *Aggregator) Verdicts() []Verdict {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Verdict, 0, len(a.checks))
	seen := make(map[string]bool, len(a.checks))
	for _, it := range a.items {
		if v, ok := a.checks[it.Key]; ok && !seen[it.Key] {
			out = append(out, v)
			seen[it.Key] = true
		}
	}
	rest := make([]string, 0)
	for key := range a.checks {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		out = append(out, a.checks[key])
	}
	return out
}

// AutocheckMany regrades several records. A failing record is reported in
// its result and does not stop the others.
func (a *Aggregator) AutocheckMany(ctx context.Context, keys []string, uploadedKey []byte) []CheckResult {
	out := make([]CheckResult, 0, len(keys))
	for _, key := range keys {
		if ctx.Err() != nil {
			out = append(out, CheckResult{Key: key, Error: ctx.Err().Error()})
			continue
		}
		v, err := a.Autocheck(ctx, key, uploadedKey)
		if err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("Autocheck failed")
			out = append(out, CheckResult{Key: key, Error: err.Error()})
			continue
		}
		out = append(out, CheckResult{Key: key, Verdict: &v})
	}
	return out
}

// Void annuls records and then refreshes the list with the last filter.
func (a *Aggregator) Void(ctx context.Context, keys []string) ([]model.ListItem, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	if !a.voiding.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	defer a.voiding.Store(false)

	if err := a.remote.Void(ctx, keys); err != nil {
		return nil, fmt.Errorf("void results: %w", err)
	}
	a.log.Info().Int("count", len(keys)).Msg("Results voided")

	a.mu.Lock()
	f := a.filter
	a.mu.Unlock()
	return a.Refresh(ctx, f)
}

// TimerGet reads the instructor time limit.
func (a *Aggregator) TimerGet(ctx context.Context, subject, variantID string) (model.TimerConfig, error) {
	return a.remote.ConfigGet(ctx, subject, variantID)
}

// TimerSet stores the instructor time limit. Zero clears the override.
func (a *Aggregator) TimerSet(ctx context.Context, cfg model.TimerConfig) error {
	if cfg.TimeLimitMinutes < 0 {
		return fmt.Errorf("console: negative time limit")
	}
	if err := a.remote.ConfigSet(ctx, cfg); err != nil {
		return err
	}
	a.log.Info().
		Str("subject", cfg.Subject).
		Str("variant", cfg.Variant).
		Float64("minutes", cfg.TimeLimitMinutes).
		Msg("Timer saved")
	return nil
}

// RequestReset mints a reset code for one student's attempt.
func (a *Aggregator) RequestReset(ctx context.Context, scope model.ResetScope) (model.ResetCode, error) {
	if a.reset == nil {
		return model.ResetCode{}, errors.New("console: reset workflow is not configured")
	}
	return a.reset.RequestReset(ctx, scope)
}

func (a *Aggregator) item(key string) (model.ListItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, it := range a.items {
		if it.Key == key {
			return it, true
		}
	}
	return model.ListItem{}, false
}

// variantDoc loads the variant a payload was taken on, for the last-resort
// key sources. Failures yield nil.
func (a *Aggregator) variantDoc(ctx context.Context, payload []byte) []byte {
	if a.variants == nil {
		return nil
	}
	doc := gjson.ParseBytes(payload)
	subject := doc.Get("subject").String()
	variantID := doc.Get("variant.id").String()
	if subject == "" || variantID == "" {
		return nil
	}
	v, err := a.variants.Variant(ctx, subject, variantID)
	if err != nil {
		a.log.Debug().Err(err).Str("subject", subject).Str("variant_id", variantID).Msg("Variant unavailable for autocheck")
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// applyQuery keeps items whose "fio cls variant key" contains the query,
// case-insensitively.
func applyQuery(items []model.ListItem, query string) []model.ListItem {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return clone(items)
	}
	out := make([]model.ListItem, 0, len(items))
	for _, it := range items {
		hay := strings.ToLower(it.FIO + " " + it.Class + " " + it.Variant + " " + it.Key)
		if strings.Contains(hay, q) {
			out = append(out, it)
		}
	}
	return out
}

func clone(items []model.ListItem) []model.ListItem {
	out := make([]model.ListItem, len(items))
	copy(out, items)
	return out
}
