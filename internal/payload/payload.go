// Package payload assembles the result record sent to the result service.
package payload

import (
	"time"

	"github.com/stemsi/kontrol-backend/internal/grading"
	"github.com/stemsi/kontrol-backend/internal/model"
)

// Options carries the context fields of a result payload.
type Options struct {
	SubjectTitle string
	UserAgent    string
	Now          time.Time
}

// Build snapshots a finished attempt into a result payload. It is pure: the
// same inputs yield the same payload.
func Build(a *model.Attempt, v *model.Variant, score model.Score, opts Options) model.ResultPayload {
	subjectTitle := opts.SubjectTitle
	if subjectTitle == "" {
		subjectTitle = a.Subject
	}

	answers := make(map[string]string, len(a.Answers))
	for k, val := range a.Answers {
		answers[k] = val
	}

	p := model.ResultPayload{
		Schema:       model.ResultSchema,
		CreatedAt:    opts.Now.UTC(),
		StartedAt:    a.StartedAt,
		FinishedAt:   a.FinishedAt,
		IsFinished:   a.IsFinished(),
		Subject:      a.Subject,
		SubjectTitle: subjectTitle,
		Variant: model.ResultVariant{
			ID:       a.VariantID,
			File:     a.VariantFile,
			Title:    v.Title,
			Subtitle: v.Subtitle,
		},
		Grading: model.ResultGrading{
			MaxPoints:    score.Max,
			EarnedPoints: score.Earned,
			Percent:      score.Percent,
			Mark:         grading.GradeLabel(v.GradingThresholds, score.Percent),
		},
		Student: model.ResultStudent{
			Name:  a.StudentName,
			Class: a.StudentClass,
		},
		Answers:   answers,
		PerTask:   score.PerTask,
		Meta:      snapshotVariant(v),
		UserAgent: opts.UserAgent,
	}
	if p.PerTask == nil {
		p.PerTask = []model.TaskVerdict{}
	}
	return p
}

// snapshotVariant deep-copies the variant so the payload is unaffected by
// later changes to the loaded document.
func snapshotVariant(v *model.Variant) model.Variant {
	c := *v
	if v.TimeLimitMinutes != nil {
		limit := *v.TimeLimitMinutes
		c.TimeLimitMinutes = &limit
	}
	if v.GradingThresholds != nil {
		c.GradingThresholds = make(map[string]float64, len(v.GradingThresholds))
		for k, min := range v.GradingThresholds {
			c.GradingThresholds[k] = min
		}
	}
	c.TextBlocks = append([]model.TextBlock(nil), v.TextBlocks...)
	c.Tasks = make([]model.Task, len(v.Tasks))
	for i, t := range v.Tasks {
		t.AcceptedAnswers = append([]string(nil), t.AcceptedAnswers...)
		c.Tasks[i] = t
	}
	return c
}
