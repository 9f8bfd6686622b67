package model

import (
	"time"
)

// AttemptSchema tags persisted attempt records for forward migration.
const AttemptSchema = "kontrol.attempt.v1"

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "NOT_STARTED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptFinished   AttemptStatus = "FINISHED"
)

// Attempt is one student's run through a variant on one device.
type Attempt struct {
	Schema           string            `json:"schema"`
	Subject          string            `json:"subject"`
	VariantID        string            `json:"variantId"`
	VariantFile      string            `json:"variantFile,omitempty"`
	StudentName      string            `json:"studentName"`
	StudentClass     string            `json:"studentClass"`
	Answers          map[string]string `json:"answers"`
	StartedAt        time.Time         `json:"startedAt"`
	FinishedAt       *time.Time        `json:"finishedAt,omitempty"`
	Status           AttemptStatus     `json:"status"`
	CurrentTaskIndex int               `json:"currentTaskIndex"`
	SavedAt          time.Time         `json:"savedAt"`
	SubmittedAt      *time.Time        `json:"submittedAt,omitempty"`
	SubmissionKey    string            `json:"submissionKey,omitempty"`
}

// NewAttempt creates an in-progress attempt started at now.
func NewAttempt(subject, variantID, variantFile string, now time.Time) *Attempt {
	return &Attempt{
		Schema:      AttemptSchema,
		Subject:     subject,
		VariantID:   variantID,
		VariantFile: variantFile,
		Answers:     map[string]string{},
		StartedAt:   now,
		Status:      AttemptInProgress,
	}
}

// IsFinished reports whether the attempt reached its terminal state.
func (a *Attempt) IsFinished() bool {
	return a.Status == AttemptFinished
}

// Clone returns a deep copy safe to hand outside the owning controller.
func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	c := *a
	c.Answers = make(map[string]string, len(a.Answers))
	for k, v := range a.Answers {
		c.Answers[k] = v
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		c.FinishedAt = &t
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	return &c
}

// TaskView is a task as shown to a student: accepted answers stay on the server.
type TaskView struct {
	ID     int     `json:"id"`
	Text   string  `json:"text"`
	Hint   string  `json:"hint,omitempty"`
	Points float64 `json:"points"`
}

// View strips the accepted answers from a task.
func (t Task) View() TaskView {
	return TaskView{ID: t.ID, Text: t.Text, Hint: t.Hint, Points: t.Points}
}

// AttemptState is the student-facing view of an attempt.
type AttemptState struct {
	Attempt          *Attempt   `json:"attempt"`
	Task             *TaskView  `json:"task,omitempty"`
	TaskCount        int        `json:"task_count"`
	TextBlock        *TextBlock `json:"text_block,omitempty"`
	RemainingSeconds *int       `json:"remaining_seconds"`
	Clock            string     `json:"clock"`
	Score            *Score     `json:"score,omitempty"`
}
