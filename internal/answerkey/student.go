package answerkey

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Submission is what a stored result record says about the student.
type Submission struct {
	FIO        string
	Class      string
	Answers    map[string]string
	Thresholds map[string]float64
}

// ParseSubmission extracts identity, answers and grade thresholds from a
// result record of any known layout.
func ParseSubmission(payload []byte) Submission {
	doc := parse(payload)
	sub := Submission{
		FIO:     firstString(doc, "identity.fio", "student.name", "fio"),
		Class:   firstString(doc, "identity.cls", "student.class", "cls"),
		Answers: studentAnswers(doc),
	}
	if th := doc.Get("meta.grading_thresholds"); th.IsObject() {
		sub.Thresholds = map[string]float64{}
		th.ForEach(func(k, v gjson.Result) bool {
			if v.Type == gjson.Number {
				sub.Thresholds[k.String()] = v.Float()
			}
			return true
		})
	}
	return sub
}

// studentAnswers reads answers|userAnswers|responses maps, falling back to
// answers|items|tasks|responses arrays of {id, answer} objects.
func studentAnswers(doc gjson.Result) map[string]string {
	for _, field := range []string{"answers", "userAnswers", "responses"} {
		if m := doc.Get(field); m.IsObject() {
			out := map[string]string{}
			m.ForEach(func(k, v gjson.Result) bool {
				out[k.String()] = answerText(v)
				return true
			})
			return out
		}
	}

	for _, field := range []string{"answers", "items", "tasks", "responses"} {
		arr := doc.Get(field)
		if !arr.IsArray() {
			continue
		}
		out := map[string]string{}
		arr.ForEach(func(_, x gjson.Result) bool {
			id := firstString(x, "id", "qid", "key", "taskId")
			if id == "" {
				return true
			}
			for _, f := range []string{"answer", "value", "response", "selected", "choice"} {
				if v := x.Get(f); v.Exists() {
					out[id] = answerText(v)
					break
				}
			}
			return true
		})
		if len(out) > 0 {
			return out
		}
	}
	return map[string]string{}
}

// answerText flattens one answer value: scalars as text, {value|answer}
// objects by their field, arrays joined by commas.
func answerText(v gjson.Result) string {
	switch {
	case isScalar(v):
		return v.String()
	case v.IsObject():
		for _, f := range []string{"value", "answer"} {
			if inner := v.Get(f); inner.Exists() {
				return answerText(inner)
			}
		}
	case v.IsArray():
		parts := make([]string, 0, len(v.Array()))
		v.ForEach(func(_, e gjson.Result) bool {
			if isScalar(e) {
				parts = append(parts, e.String())
			}
			return true
		})
		return strings.Join(parts, ",")
	}
	return ""
}
