package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Task is one short-answer item of a variant.
type Task struct {
	ID              int      `json:"id"`
	Text            string   `json:"text"`
	Hint            string   `json:"hint,omitempty"`
	Points          float64  `json:"points"`
	AcceptedAnswers []string `json:"answers"`
}

// UnmarshalJSON applies the one-point default for tasks without "points".
func (t *Task) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      int      `json:"id"`
		Text    string   `json:"text"`
		Hint    string   `json:"hint"`
		Points  *float64 `json:"points"`
		Answers []string `json:"answers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Task{
		ID:              raw.ID,
		Text:            raw.Text,
		Hint:            raw.Hint,
		Points:          1,
		AcceptedAnswers: raw.Answers,
	}
	if raw.Points != nil {
		t.Points = *raw.Points
	}
	return nil
}

// TextBlock is a reading text shown next to a range of tasks.
type TextBlock struct {
	Title string `json:"title"`
	From  int    `json:"from"`
	To    int    `json:"to"`
	Body  string `json:"body"`
}

// Variant is one concrete instance of a test. Immutable once loaded.
type Variant struct {
	ID                string             `json:"id"`
	File              string             `json:"file,omitempty"`
	Title             string             `json:"title"`
	Subtitle          string             `json:"subtitle,omitempty"`
	TimeLimitMinutes  *float64           `json:"time_limit_minutes,omitempty"`
	GradingThresholds map[string]float64 `json:"grading_thresholds,omitempty"`
	TextBlocks        []TextBlock        `json:"text_blocks,omitempty"`
	Tasks             []Task             `json:"tasks"`
}

// variantMeta mirrors the "meta" object of a variant document.
type variantMeta struct {
	Title             string             `json:"title"`
	Subtitle          string             `json:"subtitle"`
	TimeLimitMinutes  *float64           `json:"time_limit_minutes"`
	GradingThresholds map[string]float64 `json:"grading_thresholds"`
	Texts             map[string]struct {
		Title string            `json:"title"`
		Range []json.RawMessage `json:"range"`
		HTML  string            `json:"html"`
	} `json:"texts"`
}

// ParseVariantDocument decodes a variant document ({meta, tasks}).
func ParseVariantDocument(id, file string, data []byte) (*Variant, error) {
	var doc struct {
		Meta  variantMeta `json:"meta"`
		Tasks []Task      `json:"tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode variant %s: %w", id, err)
	}

	seen := make(map[int]struct{}, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("variant %s: duplicate task id %d", id, t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	v := &Variant{
		ID:                id,
		File:              file,
		Title:             doc.Meta.Title,
		Subtitle:          doc.Meta.Subtitle,
		GradingThresholds: doc.Meta.GradingThresholds,
		Tasks:             doc.Tasks,
	}
	if doc.Meta.TimeLimitMinutes != nil && *doc.Meta.TimeLimitMinutes > 0 {
		limit := *doc.Meta.TimeLimitMinutes
		v.TimeLimitMinutes = &limit
	}

	for _, t := range doc.Meta.Texts {
		if len(t.Range) != 2 || t.HTML == "" {
			continue
		}
		var from, to float64
		if json.Unmarshal(t.Range[0], &from) != nil || json.Unmarshal(t.Range[1], &to) != nil {
			continue
		}
		title := t.Title
		if title == "" {
			title = "Текст"
		}
		v.TextBlocks = append(v.TextBlocks, TextBlock{Title: title, From: int(from), To: int(to), Body: t.HTML})
	}
	sort.Slice(v.TextBlocks, func(i, j int) bool { return v.TextBlocks[i].From < v.TextBlocks[j].From })

	return v, nil
}

// TaskByID returns the task with the given id.
func (v *Variant) TaskByID(id int) (Task, bool) {
	for _, t := range v.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// BlockForTask returns the reading text covering the task id, if any.
func (v *Variant) BlockForTask(taskID int) (TextBlock, bool) {
	for _, b := range v.TextBlocks {
		if taskID >= b.From && taskID <= b.To {
			return b, true
		}
	}
	return TextBlock{}, false
}

// ManifestEntry lists one variant available for a subject.
type ManifestEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	File  string `json:"file"`
}

// Manifest is the per-subject index of variants.
type Manifest struct {
	Subject      string          `json:"subject"`
	SubjectTitle string          `json:"subjectTitle"`
	Variants     []ManifestEntry `json:"variants"`
	// Remote carries the result service location published with the manifest.
	// Any token next to it is ignored: the server holds its own.
	Remote struct {
		BaseURL string `json:"base_url"`
	} `json:"teacher"`
}

// Entry returns the manifest entry for a variant id.
func (m *Manifest) Entry(variantID string) (ManifestEntry, bool) {
	for _, e := range m.Variants {
		if e.ID == variantID {
			return e, true
		}
	}
	return ManifestEntry{}, false
}
