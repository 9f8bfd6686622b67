package answerkey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kontrol-backend/internal/answerkey"
)

func TestResolve_NestedEqualsFlat(t *testing.T) {
	nested, err := answerkey.Resolve([]byte(`{"answers":{"1":["a","b"],"2":"в"}}`), nil, nil)
	require.NoError(t, err)
	flat, err := answerkey.Resolve([]byte(`{"1":["a","b"],"2":"в"}`), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, nested.Key, flat.Key)
	assert.Equal(t, answerkey.SourceUploadAnswers, nested.Source)
	assert.Equal(t, answerkey.SourceUploadFlat, flat.Source)
}

func TestResolve_PriorityChain(t *testing.T) {
	payload := []byte(`{
		"variant": {"title": "Вариант 1"},
		"meta": {"tasks": [{"id": 1, "answers": ["из payload"]}]},
		"perTask": [{"id": 1, "max": 3}]
	}`)
	variantDoc := []byte(`{
		"tasks": [{"id": 1, "answer": "из варианта"}],
		"answers": {"1": "из карты"}
	}`)

	tests := []struct {
		name     string
		uploaded string
		payload  []byte
		variant  []byte
		want     string
		source   answerkey.Source
	}{
		{"uploaded answers", `{"answers":{"1":"загружен"}}`, payload, variantDoc, "загружен", answerkey.SourceUploadAnswers},
		{"legacy ANSWER_KEY", `{"ANSWER_KEY":{"answers":{"1":"старый"}}}`, payload, variantDoc, "старый", answerkey.SourceUploadAnswers},
		{"uploaded key", `{"key":{"1":"ключ"}}`, payload, variantDoc, "ключ", answerkey.SourceUploadKey},
		{"uploaded flat", `{"1":"плоский","title":"Ключ"}`, payload, variantDoc, "плоский", answerkey.SourceUploadFlat},
		{"payload snapshot", ``, payload, variantDoc, "из payload", answerkey.SourcePayloadMeta},
		{"variant tasks", ``, nil, variantDoc, "из варианта", answerkey.SourceVariantTasks},
		{"variant map", ``, nil, []byte(`{"answers":{"1":"из карты"}}`), "из карты", answerkey.SourceVariantMap},
		{"non-flat upload falls through", `{"1":{"deep":"x"}}`, payload, nil, "из payload", answerkey.SourcePayloadMeta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := answerkey.Resolve([]byte(tt.uploaded), tt.payload, tt.variant)
			require.NoError(t, err)
			assert.Equal(t, tt.source, res.Source)
			assert.Equal(t, []string{tt.want}, res.Key["1"])
		})
	}
}

func TestResolve_VariantTaskFields(t *testing.T) {
	doc := []byte(`{"questions":[
		{"qid": "1", "correct": ["да", "ага"]},
		{"taskId": 2, "right": 5},
		{"key": "3", "solution": true},
		{"id": 4},
		{"answer": "без id"}
	]}`)
	res, err := answerkey.Resolve(nil, nil, doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"да", "ага"}, res.Key["1"])
	assert.Equal(t, []string{"5"}, res.Key["2"])
	assert.Equal(t, []string{"true"}, res.Key["3"])
	assert.NotContains(t, res.Key, "4")
	assert.Equal(t, []string{"1", "2", "3"}, res.Key.IDs())
}

func TestResolve_NoKey(t *testing.T) {
	_, err := answerkey.Resolve(nil, []byte(`{"answers":{"1":"x"}}`), []byte(`{"meta":{}}`))
	assert.ErrorIs(t, err, answerkey.ErrNoKey)

	_, err = answerkey.Resolve([]byte(`not json`), nil, nil)
	assert.ErrorIs(t, err, answerkey.ErrNoKey)
}

func TestResolve_Points(t *testing.T) {
	payload := []byte(`{"perTask":[{"id":1,"max":2},{"id":2,"max":0}]}`)

	res, err := answerkey.Resolve([]byte(`{"answers":{"1":"a","2":"b","3":"c"},"points":{"3":4}}`), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.PointsFor("1"))
	assert.Equal(t, 1.0, res.PointsFor("2"), "non-positive max defaults to one")
	assert.Equal(t, 4.0, res.PointsFor("3"))
	assert.Equal(t, 1.0, res.PointsFor("99"))
}

func TestResolve_FlatKeyWithPoints(t *testing.T) {
	payload := []byte(`{
		"meta": {"tasks": [{"id": 1, "answers": ["old"]}, {"id": 2, "answers": ["a"]}]},
		"perTask": [{"id": 1, "max": 1}, {"id": 2, "max": 1}]
	}`)

	res, err := answerkey.Resolve([]byte(`{"1":["new"],"2":"b","points":{"2":2}}`), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, answerkey.SourceUploadFlat, res.Source)
	assert.Equal(t, []string{"new"}, res.Key["1"])
	assert.Equal(t, []string{"b"}, res.Key["2"])
	assert.NotContains(t, res.Key, "points")
	assert.Equal(t, 2.0, res.PointsFor("2"))
}

func TestKeyIDsOrder(t *testing.T) {
	k := answerkey.Key{"10": nil, "2": nil, "b": nil, "1": nil, "a": nil}
	assert.Equal(t, []string{"1", "2", "10", "a", "b"}, k.IDs())
}

func TestParseSubmission(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		fio     string
		cls     string
		answers map[string]string
	}{
		{
			name:    "current schema",
			payload: `{"student":{"name":"Иванов","class":"9Б"},"answers":{"1":"а","2":""}}`,
			fio:     "Иванов", cls: "9Б",
			answers: map[string]string{"1": "а", "2": ""},
		},
		{
			name:    "identity block and value objects",
			payload: `{"identity":{"fio":"Петрова","cls":"8А"},"answers":{"1":{"value":"б"},"2":7}}`,
			fio:     "Петрова", cls: "8А",
			answers: map[string]string{"1": "б", "2": "7"},
		},
		{
			name:    "userAnswers map",
			payload: `{"fio":"Сидоров","cls":"7В","userAnswers":{"3":"в"}}`,
			fio:     "Сидоров", cls: "7В",
			answers: map[string]string{"3": "в"},
		},
		{
			name:    "answers array",
			payload: `{"answers":[{"id":1,"value":"г"},{"qid":"2","selected":["1","3"]},{"value":"без id"}]}`,
			answers: map[string]string{"1": "г", "2": "1,3"},
		},
		{
			name:    "items array",
			payload: `{"items":[{"taskId":5,"response":"д"}]}`,
			answers: map[string]string{"5": "д"},
		},
		{
			name:    "nothing",
			payload: `{}`,
			answers: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := answerkey.ParseSubmission([]byte(tt.payload))
			assert.Equal(t, tt.fio, sub.FIO)
			assert.Equal(t, tt.cls, sub.Class)
			assert.Equal(t, tt.answers, sub.Answers)
		})
	}
}

func TestParseSubmission_Thresholds(t *testing.T) {
	sub := answerkey.ParseSubmission([]byte(`{"meta":{"grading_thresholds":{"5":90,"4":70}}}`))
	assert.Equal(t, map[string]float64{"5": 90, "4": 70}, sub.Thresholds)
}
