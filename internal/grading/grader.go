package grading

import (
	"math"
	"strconv"

	"github.com/stemsi/kontrol-backend/internal/model"
)

// TaskResult is the verdict for a single task.
type TaskResult struct {
	Correct bool
	Earned  float64
}

// Match reports whether raw equals one of the accepted answers after
// normalisation. An empty answer never matches.
func Match(accepted []string, raw string) bool {
	answer := Normalize(raw)
	if answer == "" {
		return false
	}
	for _, a := range accepted {
		if Normalize(a) == answer {
			return true
		}
	}
	return false
}

// GradeTask grades one raw answer against a task definition.
func GradeTask(task model.Task, raw string) TaskResult {
	if !Match(task.AcceptedAnswers, raw) {
		return TaskResult{}
	}
	return TaskResult{Correct: true, Earned: task.Points}
}

// GradeAttempt grades every task of a variant. Unanswered tasks still count
// toward the maximum.
func GradeAttempt(tasks []model.Task, answers map[string]string) model.Score {
	score := model.Score{PerTask: make([]model.TaskVerdict, 0, len(tasks))}

	for _, task := range tasks {
		raw := answers[TaskKey(task.ID)]
		res := GradeTask(task, raw)

		score.Max += task.Points
		score.Earned += res.Earned

		accepted := make([]string, len(task.AcceptedAnswers))
		copy(accepted, task.AcceptedAnswers)

		score.PerTask = append(score.PerTask, model.TaskVerdict{
			ID:         task.ID,
			Earned:     res.Earned,
			Max:        task.Points,
			Correct:    res.Correct,
			StudentRaw: raw,
			Accepted:   accepted,
		})
	}

	score.Percent = Percent(score.Earned, score.Max)
	return score
}

// Percent returns round(100*earned/max), or 0 when max is not positive.
func Percent(earned, max float64) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(100 * earned / max))
}

// TaskKey is the answers-map key of a task id.
func TaskKey(id int) string {
	return strconv.Itoa(id)
}
