package payload_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/stemsi/kontrol-backend/internal/grading"
	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/payload"
)

func finishedAttempt() (*model.Attempt, *model.Variant) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	finished := started.Add(25 * time.Minute)

	v := &model.Variant{
		ID:                "01",
		File:              "variant_01.json",
		Title:             "Контрольная",
		Subtitle:          "Вариант 1",
		GradingThresholds: map[string]float64{"5": 85, "4": 65, "3": 45, "2": 0},
		Tasks: []model.Task{
			{ID: 1, Points: 1, AcceptedAnswers: []string{"а"}},
			{ID: 2, Points: 2, AcceptedAnswers: []string{"б", "бэ"}},
		},
	}
	a := model.NewAttempt("russian", "01", "variant_01.json", started)
	a.Status = model.AttemptFinished
	a.FinishedAt = &finished
	a.StudentName = "Иванов Иван"
	a.StudentClass = "9Б"
	a.Answers = map[string]string{"1": "а", "2": "в"}
	return a, v
}

func TestBuild(t *testing.T) {
	a, v := finishedAttempt()
	score := grading.GradeAttempt(v.Tasks, a.Answers)
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	p := payload.Build(a, v, score, payload.Options{SubjectTitle: "Русский язык", UserAgent: "kontrol-test", Now: now})

	assert.Equal(t, model.ResultSchema, p.Schema)
	assert.True(t, p.CreatedAt.Equal(now))
	assert.True(t, p.IsFinished)
	assert.Equal(t, "Русский язык", p.SubjectTitle)
	assert.Equal(t, "01", p.Variant.ID)
	assert.Equal(t, "Вариант 1", p.Variant.Subtitle)
	assert.Equal(t, 3.0, p.Grading.MaxPoints)
	assert.Equal(t, 1.0, p.Grading.EarnedPoints)
	assert.Equal(t, 33, p.Grading.Percent)
	assert.Equal(t, "2", p.Grading.Mark)
	assert.Equal(t, "Иванов Иван", p.Student.Name)
	assert.Len(t, p.PerTask, 2)
	assert.Equal(t, "kontrol-test", p.UserAgent)
}

func TestBuild_SnapshotIsIndependent(t *testing.T) {
	a, v := finishedAttempt()
	p := payload.Build(a, v, grading.GradeAttempt(v.Tasks, a.Answers), payload.Options{Now: time.Now()})

	v.Tasks[1].AcceptedAnswers[0] = "changed"
	v.GradingThresholds["5"] = 1
	a.Answers["1"] = "changed"

	assert.Equal(t, []string{"б", "бэ"}, p.Meta.Tasks[1].AcceptedAnswers)
	assert.Equal(t, 85.0, p.Meta.GradingThresholds["5"])
	assert.Equal(t, "а", p.Answers["1"])
	assert.Equal(t, "russian", p.SubjectTitle, "subject id stands in for a missing title")
}

func TestBuild_WireFormatCarriesAnswerKey(t *testing.T) {
	a, v := finishedAttempt()
	p := payload.Build(a, v, grading.GradeAttempt(v.Tasks, a.Answers), payload.Options{Now: time.Now()})

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	doc := gjson.ParseBytes(raw)
	assert.Equal(t, "б", doc.Get("meta.tasks.1.answers.0").String())
	assert.Equal(t, 2.0, doc.Get("perTask.1.max").Float())
	assert.Equal(t, "9Б", doc.Get("student.class").String())
	assert.Equal(t, "kontrol.result.v1", doc.Get("schema").String())
}

func TestBuild_ResubmissionGetsNewCreatedAt(t *testing.T) {
	a, v := finishedAttempt()
	score := grading.GradeAttempt(v.Tasks, a.Answers)
	t1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first := payload.Build(a, v, score, payload.Options{Now: t1})
	second := payload.Build(a, v, score, payload.Options{Now: t1.Add(time.Minute)})

	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	assert.Equal(t, first.Grading, second.Grading)
}
