package console_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kontrol-backend/internal/answerkey"
	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/remote"
	"github.com/stemsi/kontrol-backend/internal/remote/remotetest"
	"github.com/stemsi/kontrol-backend/internal/reset"
)

func record(name, class, variantID string, percent int, answers map[string]string) []byte {
	data, _ := json.Marshal(map[string]any{
		"schema":    model.ResultSchema,
		"createdAt": "2026-03-02T09:40:00Z",
		"subject":   "russian",
		"variant":   map[string]string{"id": variantID},
		"student":   map[string]string{"name": name, "class": class},
		"grading":   map[string]any{"percent": percent, "mark": "4"},
		"answers":   answers,
		"perTask":   []map[string]any{{"id": 1, "max": 1}, {"id": 2, "max": 2}},
		"meta": map[string]any{
			"tasks": []map[string]any{
				{"id": 1, "answers": []string{"идёт"}},
				{"id": 2, "answers": []string{"а", "б"}},
			},
		},
	})
	return data
}

type fixture struct {
	srv *remotetest.Server
	agg *console.Aggregator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	srv := remotetest.New("secret")
	t.Cleanup(srv.Close)

	client := remote.New(srv.URL, "secret", time.Second, zerolog.Nop())
	srv.AddRecord("k1", record("Иванов Иван", "9Б", "01", 100, map[string]string{"1": "Идет", "2": "б"}))
	srv.AddRecord("k2", record("Петрова Мария", "9А", "01", 33, map[string]string{"1": "идёт", "2": ""}))
	srv.AddRecord("k3", record("Сидоров Пётр", "9Б", "02", 0, map[string]string{}))

	return fixture{
		srv: srv,
		agg: console.NewAggregator(client, reset.NewWorkflow(client, zerolog.Nop()), nil, zerolog.Nop()),
	}
}

func keys(items []model.ListItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key)
	}
	return out
}

func TestRefreshAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items, err := f.agg.Refresh(ctx, model.ListFilter{Variant: "variant_1", Limit: 50})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys(items))

	assert.Equal(t, []string{"k1"}, keys(f.agg.Filter("иванов")))
	assert.Equal(t, []string{"k1"}, keys(f.agg.Visible()))
	assert.Len(t, f.agg.Items(), 2)

	assert.ElementsMatch(t, []string{"k1", "k2"}, keys(f.agg.Filter("")))
	assert.Equal(t, []string{"k2"}, keys(f.agg.Filter("9а")))
	assert.Equal(t, []string{"k2"}, keys(f.agg.Filter("K2")))
}

func TestRefreshKeepsQuery(t *testing.T) {
	f := newFixture(t)
	items, err := f.agg.Refresh(context.Background(), model.ListFilter{Class: "9Б", Query: "сидоров"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k3"}, keys(items))
	assert.Len(t, f.agg.Items(), 2)
}

func TestRefreshDiscardsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	f.srv.SetListHook(func(call int) {
		if call == 1 {
			close(entered)
			<-release
		}
	})

	var wg sync.WaitGroup
	var staleErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, staleErr = f.agg.Refresh(ctx, model.ListFilter{Variant: "01"})
	}()

	<-entered
	fresh, err := f.agg.Refresh(ctx, model.ListFilter{Variant: "02"})
	require.NoError(t, err)
	close(release)
	wg.Wait()

	assert.ErrorIs(t, staleErr, console.ErrStale)
	assert.Equal(t, []string{"k3"}, keys(fresh))
	assert.Equal(t, []string{"k3"}, keys(f.agg.Visible()))
}

func TestAutocheckFromPayloadSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.agg.Autocheck(ctx, "k1", nil)
	require.NoError(t, err)
	assert.Equal(t, "k1", v.Key)
	assert.Equal(t, "Иванов Иван", v.FIO)
	assert.Equal(t, "01", v.Variant)
	assert.Equal(t, answerkey.SourcePayloadMeta, v.KeySource)
	assert.Equal(t, 2, v.Total)
	assert.Equal(t, 2, v.OK)
	assert.Equal(t, 3.0, v.Earned)
	assert.Equal(t, 100, v.Percent)
	assert.Equal(t, "5", v.Mark)
}

func TestAutocheckUploadedKeyWins(t *testing.T) {
	f := newFixture(t)

	v, err := f.agg.Autocheck(context.Background(), "k2", []byte(`{"title":"Ключ","answers":{"1":"идет","2":["в"]}}`))
	require.NoError(t, err)
	assert.Equal(t, answerkey.SourceUploadAnswers, v.KeySource)
	assert.Equal(t, "Ключ", v.KeyTitle)
	assert.Equal(t, 1, v.OK)
	assert.Equal(t, 1, v.Empty)
	assert.Equal(t, 33, v.Percent)
	assert.Equal(t, "2", v.Mark)
}

func TestAutocheckManyContinuesOnError(t *testing.T) {
	f := newFixture(t)

	res := f.agg.AutocheckMany(context.Background(), []string{"k1", "missing", "k3"}, nil)
	require.Len(t, res, 3)
	assert.NotNil(t, res[0].Verdict)
	assert.Empty(t, res[0].Error)
	assert.Nil(t, res[1].Verdict)
	assert.NotEmpty(t, res[1].Error)
	require.NotNil(t, res[2].Verdict)
	assert.Equal(t, 0, res[2].Verdict.OK)
	assert.Equal(t, 2, res[2].Verdict.Empty)
}

func TestVoidRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.Refresh(ctx, model.ListFilter{Variant: "01"})
	require.NoError(t, err)

	items, err := f.agg.Void(ctx, []string{"k2"})
	require.NoError(t, err)
	assert.True(t, f.srv.Voided("k2"))
	for _, it := range items {
		assert.Equal(t, it.Key == "k2", it.Voided, it.Key)
	}

	_, err = f.agg.Void(ctx, nil)
	assert.ErrorIs(t, err, console.ErrNoKeys)
}

func TestTimerAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.agg.TimerSet(ctx, model.TimerConfig{Subject: "russian", Variant: "01", TimeLimitMinutes: 25}))
	cfg, err := f.agg.TimerGet(ctx, "russian", "01")
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.TimeLimitMinutes)

	assert.Error(t, f.agg.TimerSet(ctx, model.TimerConfig{Subject: "russian", TimeLimitMinutes: -1}))

	_, err = f.agg.RequestReset(ctx, model.ResetScope{Subject: "russian", Variant: "01"})
	assert.ErrorIs(t, err, reset.ErrScopeRequired)

	code, err := f.agg.RequestReset(ctx, model.ResetScope{Subject: "russian", Variant: "01", Class: "9Б", FIO: "Иванов Иван"})
	require.NoError(t, err)
	assert.NotEmpty(t, code.Code)
}

func TestRemoteErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	client := remote.New(f.srv.URL, "wrong", time.Second, zerolog.Nop())
	agg := console.NewAggregator(client, nil, nil, zerolog.Nop())

	_, err := agg.Refresh(context.Background(), model.ListFilter{})
	var rerr *remote.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 401, rerr.Status)
}

func TestVerdictsFollowListOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.Refresh(ctx, model.ListFilter{Subject: "russian"})
	require.NoError(t, err)
	assert.Empty(t, f.agg.Verdicts())

	f.agg.AutocheckMany(ctx, []string{"k1", "k2", "k3"}, nil)
	got := f.agg.Verdicts()
	require.Len(t, got, 3)

	wantOrder := keys(f.agg.Items())
	for i, v := range got {
		assert.Equal(t, wantOrder[i], v.Key)
	}

	// A recheck replaces the earlier verdict.
	_, err = f.agg.Autocheck(ctx, "k1", []byte(`{"1":"нет","2":"нет"}`))
	require.NoError(t, err)
	for _, v := range f.agg.Verdicts() {
		if v.Key == "k1" {
			assert.Equal(t, 0, v.OK)
		}
	}
}
