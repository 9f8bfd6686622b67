package model

import "time"

// ResultSchema tags submitted result payloads.
const ResultSchema = "kontrol.result.v1"

// TaskVerdict is the grading outcome of one task.
type TaskVerdict struct {
	ID         int      `json:"id"`
	Earned     float64  `json:"earned"`
	Max        float64  `json:"max"`
	Correct    bool     `json:"correct"`
	StudentRaw string   `json:"studentRaw"`
	Accepted   []string `json:"accepted"`
}

// Score summarises grading over a whole task list.
type Score struct {
	Earned  float64       `json:"earned"`
	Max     float64       `json:"max"`
	Percent int           `json:"percent"`
	PerTask []TaskVerdict `json:"perTask"`
}

// ResultVariant identifies the variant inside a result payload.
type ResultVariant struct {
	ID       string `json:"id"`
	File     string `json:"file,omitempty"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// ResultGrading is the grading summary inside a result payload.
type ResultGrading struct {
	MaxPoints    float64 `json:"maxPoints"`
	EarnedPoints float64 `json:"earnedPoints"`
	Percent      int     `json:"percent"`
	Mark         string  `json:"mark,omitempty"`
}

// ResultStudent carries the student identity fields.
type ResultStudent struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

// ResultPayload is the immutable snapshot of a finished attempt sent to the
// result service. Meta embeds the variant, accepted answers included, so the
// record can be regraded after the variant changes.
type ResultPayload struct {
	Schema       string            `json:"schema"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   *time.Time        `json:"finishedAt"`
	IsFinished   bool              `json:"isFinished"`
	Subject      string            `json:"subject"`
	SubjectTitle string            `json:"subjectTitle"`
	Variant      ResultVariant     `json:"variant"`
	Grading      ResultGrading     `json:"grading"`
	Student      ResultStudent     `json:"student"`
	Answers      map[string]string `json:"answers"`
	PerTask      []TaskVerdict     `json:"perTask"`
	Meta         Variant           `json:"meta"`
	UserAgent    string            `json:"userAgent,omitempty"`
}
