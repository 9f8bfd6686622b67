// Package i18n holds the user facing messages in Russian and English.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

// localizerKey is the gin context key the middleware stores the localizer under.
const localizerKey = "localizer"

var (
	mu          sync.RWMutex
	bundle      *i18n.Bundle
	defaultLang = "ru"
)

// Init loads the embedded locale files with lang as the fallback language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
	}

	mu.Lock()
	bundle = b
	defaultLang = tag.String()
	mu.Unlock()
	return nil
}

func current() (*i18n.Bundle, string) {
	mu.RLock()
	b, lang := bundle, defaultLang
	mu.RUnlock()
	if b != nil {
		return b, lang
	}
	if err := Init(lang); err != nil {
		log.Error().Err(err).Msg("i18n init failed")
	}
	mu.RLock()
	defer mu.RUnlock()
	return bundle, defaultLang
}

// NewLocalizer returns a localizer preferring the given languages, in order,
// over the default one.
func NewLocalizer(langs ...string) *i18n.Localizer {
	b, def := current()
	return i18n.NewLocalizer(b, append(langs, def)...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

// WithLang is WithLocalizer for a plain language tag.
func WithLang(ctx context.Context, lang string) context.Context {
	return WithLocalizer(ctx, NewLocalizer(lang))
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if ctx != nil {
		if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
			return loc
		}
		if gc, ok := ctx.(*gin.Context); ok {
			if v, exists := gc.Get(localizerKey); exists {
				if loc, ok := v.(*i18n.Localizer); ok {
					return loc
				}
			}
		}
	}
	return NewLocalizer()
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	s, err := localizerFromCtx(ctx).Localize(cfg)
	if err != nil {
		log.Warn().Err(err).Str("id", cfg.MessageID).Msg("missing translation")
		return cfg.MessageID
	}
	return s
}

// T translates a message by id.
func T(ctx context.Context, id string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: id})
}

// Td translates a message by id with template data.
func Td(ctx context.Context, id string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: id, TemplateData: data})
}

// Tp translates a plural message; the count is available as {{.Count}}.
func Tp(ctx context.Context, id string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    id,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// Middleware picks the language from ?lang= or Accept-Language and stores
// the localizer on the gin context and the request context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		langs := make([]string, 0, 2)
		if q := strings.TrimSpace(c.Query("lang")); q != "" {
			langs = append(langs, q)
		}
		if h := c.GetHeader("Accept-Language"); h != "" {
			langs = append(langs, h)
		}
		loc := NewLocalizer(langs...)
		c.Set(localizerKey, loc)
		c.Request = c.Request.WithContext(WithLocalizer(c.Request.Context(), loc))
		c.Next()
	}
}
