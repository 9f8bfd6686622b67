package model

import (
	"time"

	"github.com/tidwall/gjson"
)

// ListFilter narrows the remote result list. Query is applied locally.
type ListFilter struct {
	Subject string `json:"subject,omitempty"`
	Variant string `json:"variant,omitempty"`
	Class   string `json:"cls,omitempty"`
	Limit   int    `json:"limit"`
	Query   string `json:"-"`
}

// ListItem is one summary record of a submitted attempt.
type ListItem struct {
	Key       string   `json:"key"`
	FIO       string   `json:"fio"`
	Class     string   `json:"cls"`
	Variant   string   `json:"variant"`
	CreatedAt string   `json:"createdAt"`
	Percent   *float64 `json:"percent,omitempty"`
	Mark      string   `json:"mark,omitempty"`
	Voided    bool     `json:"voided"`
}

// ListItemFromJSON reads a summary record whose field names vary between
// service versions (cls/class, createdAt/created_at).
func ListItemFromJSON(r gjson.Result) ListItem {
	item := ListItem{
		Key:       r.Get("key").String(),
		FIO:       firstString(r, "fio", "name", "student.name"),
		Class:     firstString(r, "cls", "class", "student.class"),
		Variant:   firstString(r, "variant", "variant.id", "variantId"),
		CreatedAt: firstString(r, "createdAt", "created_at"),
		Mark:      r.Get("mark").String(),
		Voided:    r.Get("voided").Bool(),
	}
	if p := r.Get("percent"); p.Exists() && p.Type != gjson.Null && p.String() != "" {
		v := p.Float()
		item.Percent = &v
	}
	return item
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && (v.Type == gjson.String || v.Type == gjson.Number) {
			return v.String()
		}
	}
	return ""
}

// ResetScope binds a reset code to one student's attempt.
type ResetScope struct {
	Subject string `json:"subject"`
	Variant string `json:"variant"`
	Class   string `json:"cls"`
	FIO     string `json:"fio"`
}

// ResetCode is a freshly minted one-time code.
type ResetCode struct {
	Code      string     `json:"code"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// TimerConfig is the instructor-set time limit for a subject (and variant).
type TimerConfig struct {
	Subject          string  `json:"subject"`
	Variant          string  `json:"variant,omitempty"`
	TimeLimitMinutes float64 `json:"time_limit_minutes"`
}
