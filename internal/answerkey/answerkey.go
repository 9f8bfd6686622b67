// Package answerkey turns loosely shaped answer keys and result records into
// typed maps. Sources are tried in a fixed priority order; the first one
// that yields a non-empty key wins.
package answerkey

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoKey is returned when no source yields an answer key.
var ErrNoKey = errors.New("answerkey: no answer key could be resolved")

// Source names where a key came from.
type Source string

const (
	SourceUploadAnswers Source = "upload.answers"
	SourceUploadKey     Source = "upload.key"
	SourceUploadFlat    Source = "upload.flat"
	SourcePayloadMeta   Source = "payload.meta"
	SourceVariantTasks  Source = "variant.tasks"
	SourceVariantMap    Source = "variant.answers"
)

// metaKeys are fields of an uploaded flat key that are not task ids. Points
// are read separately by Resolve.
var metaKeys = map[string]bool{"title": true, "set": true, "subject": true, "variant": true, "points": true}

// Key maps a task id to its accepted answers.
type Key map[string][]string

// IDs returns the task ids in numeric order, non-numeric ids last.
func (k Key) IDs() []string {
	ids := make([]string, 0, len(k))
	for id := range k {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Resolution is a resolved key with its per-task points.
type Resolution struct {
	Key    Key
	Points map[string]float64
	Source Source
	Title  string
}

// PointsFor returns the points of a task, defaulting to one.
func (r Resolution) PointsFor(id string) float64 {
	if p, ok := r.Points[id]; ok && p > 0 {
		return p
	}
	return 1
}

// Resolve walks the priority chain over an uploaded key, the stored result
// payload and the variant document. Any input may be empty.
func Resolve(uploaded, payload, variantDoc []byte) (Resolution, error) {
	up := parse(uploaded)
	pl := parse(payload)
	vd := parse(variantDoc)

	res := Resolution{Points: payloadPoints(pl)}

	switch {
	case tryMap(up.Get("answers"), &res, SourceUploadAnswers):
	case tryMap(up.Get("ANSWER_KEY.answers"), &res, SourceUploadAnswers):
	case tryMap(up.Get("key"), &res, SourceUploadKey):
	case isFlatMap(up) && tryMap(up, &res, SourceUploadFlat):
	case tryTasks(pl.Get("meta.tasks"), &res, SourcePayloadMeta):
	case tryTasks(firstArray(vd, "tasks", "items", "questions"), &res, SourceVariantTasks):
	case tryMap(vd.Get("answers"), &res, SourceVariantMap):
	default:
		return Resolution{}, ErrNoKey
	}

	if up.IsObject() {
		if pts := up.Get("points"); pts.IsObject() {
			pts.ForEach(func(k, v gjson.Result) bool {
				if v.Type == gjson.Number {
					res.Points[k.String()] = v.Float()
				}
				return true
			})
		}
		res.Title = firstString(up, "title", "meta.title", "set")
	}
	if res.Title == "" {
		res.Title = firstString(pl, "variant.title", "meta.title")
	}
	return res, nil
}

func parse(data []byte) gjson.Result {
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return gjson.Result{}
	}
	return gjson.ParseBytes(data)
}

// tryMap reads an {id: answer | [answers]} object.
func tryMap(obj gjson.Result, res *Resolution, src Source) bool {
	if !obj.IsObject() {
		return false
	}
	key := Key{}
	obj.ForEach(func(k, v gjson.Result) bool {
		if src == SourceUploadFlat && metaKeys[k.String()] {
			return true
		}
		if answers := scalars(v); len(answers) > 0 {
			key[k.String()] = answers
		}
		return true
	})
	if len(key) == 0 {
		return false
	}
	res.Key = key
	res.Source = src
	return true
}

// tryTasks reads an array of task objects carrying their answers.
func tryTasks(arr gjson.Result, res *Resolution, src Source) bool {
	if !arr.IsArray() {
		return false
	}
	key := Key{}
	arr.ForEach(func(_, t gjson.Result) bool {
		id := firstString(t, "id", "qid", "key", "taskId")
		if id == "" {
			return true
		}
		for _, field := range []string{"answers", "answer", "correct", "right", "solution"} {
			if answers := scalars(t.Get(field)); len(answers) > 0 {
				key[id] = answers
				break
			}
		}
		return true
	})
	if len(key) == 0 {
		return false
	}
	res.Key = key
	res.Source = src
	return true
}

// isFlatMap reports whether every value of obj is a scalar or an array of scalars.
func isFlatMap(obj gjson.Result) bool {
	if !obj.IsObject() {
		return false
	}
	flat, seen := true, false
	obj.ForEach(func(k, v gjson.Result) bool {
		if metaKeys[k.String()] {
			return true
		}
		seen = true
		switch {
		case isScalar(v):
		case v.IsArray():
			v.ForEach(func(_, e gjson.Result) bool {
				if !isScalar(e) {
					flat = false
				}
				return flat
			})
		default:
			flat = false
		}
		return flat
	})
	return flat && seen
}

func isScalar(v gjson.Result) bool {
	switch v.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return true
	}
	return false
}

// scalars returns the non-empty scalar texts of a value or an array.
func scalars(v gjson.Result) []string {
	var out []string
	add := func(e gjson.Result) {
		if isScalar(e) {
			if s := strings.TrimSpace(e.String()); s != "" {
				out = append(out, s)
			}
		}
	}
	if v.IsArray() {
		v.ForEach(func(_, e gjson.Result) bool {
			add(e)
			return true
		})
		return out
	}
	add(v)
	return out
}

// payloadPoints reads perTask[].max of a stored result payload.
func payloadPoints(pl gjson.Result) map[string]float64 {
	points := map[string]float64{}
	pl.Get("perTask").ForEach(func(_, t gjson.Result) bool {
		id := firstString(t, "id", "taskId")
		if id != "" {
			if m := t.Get("max"); m.Type == gjson.Number && m.Float() > 0 {
				points[id] = m.Float()
			}
		}
		return true
	})
	return points
}

func firstArray(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := doc.Get(p); v.IsArray() {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); isScalar(v) && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
