package grading

import "sort"

// GradeLabel maps a percent onto a grade label. Thresholds are checked from
// the highest minimum down, equal minimums in ascending label order; the first
// label whose minimum is <= percent wins. When nothing matches, the label with
// the lowest minimum is returned. No thresholds yields "".
func GradeLabel(thresholds map[string]float64, percent int) string {
	if len(thresholds) == 0 {
		return ""
	}

	type entry struct {
		label string
		min   float64
	}
	entries := make([]entry, 0, len(thresholds))
	for label, min := range thresholds {
		entries = append(entries, entry{label, min})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].min != entries[j].min {
			return entries[i].min > entries[j].min
		}
		return entries[i].label < entries[j].label
	})

	fallback := entries[0]
	for _, e := range entries {
		if e.min <= float64(percent) {
			return e.label
		}
		if e.min < fallback.min {
			fallback = e
		}
	}
	return fallback.label
}
