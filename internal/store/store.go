// Package store persists attempts under the composite {subject}:{variantId}
// key scoped by device. Reads observe the last completed write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/kontrol-backend/internal/model"
)

// ErrNotFound is returned when no attempt is stored under a key.
var ErrNotFound = errors.New("store: attempt not found")

// Store is the attempt persistence contract shared by every backend.
type Store interface {
	Load(ctx context.Context, key string) (*model.Attempt, error)
	Save(ctx context.Context, key string, a *model.Attempt) error
	Delete(ctx context.Context, key string) error
}

// Queue accepts attempts for asynchronous durable persistence.
type Queue interface {
	Enqueue(ctx context.Context, rec Record) error
}

// Record is a keyed attempt travelling through the persist queue.
type Record struct {
	Key     string          `json:"key"`
	Attempt json.RawMessage `json:"attempt"`
}

// NewRecord encodes an attempt into a queue record.
func NewRecord(key string, a *model.Attempt) (Record, error) {
	data, err := Encode(a)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Attempt: data}, nil
}

// Encode serialises an attempt, stamping the current schema tag.
func Encode(a *model.Attempt) ([]byte, error) {
	if a == nil {
		return nil, errors.New("store: nil attempt")
	}
	c := a.Clone()
	c.Schema = model.AttemptSchema
	return json.Marshal(c)
}

// legacyAttempt captures fields of records written before the status field
// and the flat student fields existed.
type legacyAttempt struct {
	IsFinished *bool `json:"isFinished"`
	Student    *struct {
		Name  string `json:"name"`
		Class string `json:"class"`
	} `json:"student"`
}

// Decode parses a stored record and migrates older layouts to the current
// schema.
func Decode(data []byte) (*model.Attempt, error) {
	var a model.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode attempt: %w", err)
	}

	if a.Schema != model.AttemptSchema {
		var legacy legacyAttempt
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("decode legacy attempt: %w", err)
		}
		if a.Status == "" {
			a.Status = model.AttemptInProgress
			if legacy.IsFinished != nil && *legacy.IsFinished {
				a.Status = model.AttemptFinished
			}
		}
		if legacy.Student != nil {
			if a.StudentName == "" {
				a.StudentName = legacy.Student.Name
			}
			if a.StudentClass == "" {
				a.StudentClass = legacy.Student.Class
			}
		}
		if a.Status == model.AttemptFinished && a.FinishedAt == nil && !a.SavedAt.IsZero() {
			t := a.SavedAt
			a.FinishedAt = &t
		}
		a.Schema = model.AttemptSchema
	}

	if a.Answers == nil {
		a.Answers = map[string]string{}
	}
	if a.Status == "" {
		a.Status = model.AttemptInProgress
	}
	if a.StartedAt.IsZero() {
		return nil, fmt.Errorf("decode attempt: missing startedAt")
	}
	return &a, nil
}

// stamp sets SavedAt on the attempt before it is written.
func stamp(a *model.Attempt, now func() time.Time) {
	a.SavedAt = now().UTC()
}
