package console

import (
	"strings"

	"github.com/stemsi/kontrol-backend/internal/answerkey"
	"github.com/stemsi/kontrol-backend/internal/grading"
)

// DefaultThresholds grade records whose payload carries no thresholds.
var DefaultThresholds = map[string]float64{"5": 87, "4": 67, "3": 42, "2": 0}

// TaskCheck is the verdict on one task of a stored record.
type TaskCheck struct {
	ID       string   `json:"id"`
	Student  string   `json:"student"`
	Accepted []string `json:"accepted"`
	OK       bool     `json:"ok"`
	Empty    bool     `json:"empty"`
	Earned   float64  `json:"earned"`
	Max      float64  `json:"max"`
}

// Verdict is the autocheck outcome of one stored record.
type Verdict struct {
	Key       string           `json:"key"`
	FIO       string           `json:"fio"`
	Class     string           `json:"cls"`
	Variant   string           `json:"variant"`
	CreatedAt string           `json:"createdAt,omitempty"`
	KeyTitle  string           `json:"keyTitle,omitempty"`
	KeySource answerkey.Source `json:"keySource"`
	Total     int              `json:"total"`
	OK        int              `json:"ok"`
	Empty     int              `json:"empty"`
	Earned    float64          `json:"earned"`
	Max       float64          `json:"max"`
	Percent   int              `json:"percent"`
	Mark      string           `json:"mark"`
	Details   []TaskCheck      `json:"details"`
}

// Check regrades a stored result payload against the first answer key the
// resolver finds in the uploaded key, the payload or the variant document.
func Check(payload, uploadedKey, variantDoc []byte) (Verdict, error) {
	res, err := answerkey.Resolve(uploadedKey, payload, variantDoc)
	if err != nil {
		return Verdict{}, err
	}
	sub := answerkey.ParseSubmission(payload)

	v := Verdict{
		FIO:       sub.FIO,
		Class:     sub.Class,
		KeyTitle:  res.Title,
		KeySource: res.Source,
		Details:   make([]TaskCheck, 0, len(res.Key)),
	}
	for _, id := range res.Key.IDs() {
		accepted := res.Key[id]
		raw := sub.Answers[id]
		tc := TaskCheck{
			ID:       id,
			Student:  raw,
			Accepted: accepted,
			Empty:    grading.Normalize(raw) == "",
			OK:       grading.Match(accepted, raw),
			Max:      res.PointsFor(id),
		}
		if tc.OK {
			tc.Earned = tc.Max
			v.OK++
		}
		if tc.Empty {
			v.Empty++
		}
		v.Earned += tc.Earned
		v.Max += tc.Max
		v.Details = append(v.Details, tc)
	}
	v.Total = len(v.Details)
	v.Percent = grading.Percent(v.Earned, v.Max)

	thresholds := sub.Thresholds
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	v.Mark = grading.GradeLabel(thresholds, v.Percent)
	return v, nil
}

// AcceptedText joins accepted answers for display.
func (t TaskCheck) AcceptedText() string {
	return strings.Join(t.Accepted, " / ")
}
