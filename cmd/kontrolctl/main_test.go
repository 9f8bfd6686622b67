package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kontrol-backend/internal/remote/remotetest"
)

const record = `{
  "schema": "kontrol.result.v1",
  "createdAt": "2026-03-02T10:00:00Z",
  "subject": "russian",
  "variant": {"id": "01", "title": "Вариант 1"},
  "student": {"name": "Петрова Анна", "class": "9А"},
  "answers": {"1": "идет", "2": "б"},
  "meta": {"title": "Вариант 1", "tasks": [
    {"id": 1, "text": "", "points": 1, "answers": ["идёт"]},
    {"id": 2, "text": "", "points": 1, "answers": ["а"]}
  ]}
}`

func run(t *testing.T, srv *remotetest.Server, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--remote-url", srv.URL, "--remote-token", "tok", "--log-format", "json"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func newServer(t *testing.T) *remotetest.Server {
	srv := remotetest.New("tok")
	t.Cleanup(srv.Close)
	srv.AddRecord("r0001", []byte(record))
	return srv
}

func TestListJSON(t *testing.T) {
	srv := newServer(t)

	out, err := run(t, srv, "list", "--variant", "1", "--json")
	require.NoError(t, err)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Петрова Анна", items[0]["fio"])
}

func TestListTableAppliesQuery(t *testing.T) {
	srv := newServer(t)

	out, err := run(t, srv, "list", "--query", "иванов")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.NotContains(t, out, "r0001")
}

func TestAutocheckWithKeyFile(t *testing.T) {
	srv := newServer(t)
	keyFile := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(keyFile, []byte(`{"1": "идёт", "2": "б"}`), 0o644))

	out, err := run(t, srv, "autocheck", "r0001", "--key-file", keyFile, "--json")
	require.NoError(t, err)

	var results []struct {
		Key     string `json:"key"`
		Verdict struct {
			OK      int `json:"ok"`
			Percent int `json:"percent"`
		} `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Verdict.OK)
	assert.Equal(t, 100, results[0].Verdict.Percent)
}

func TestVoidAndTimer(t *testing.T) {
	srv := newServer(t)

	_, err := run(t, srv, "void", "r0001")
	require.NoError(t, err)
	assert.True(t, srv.Voided("r0001"))

	_, err = run(t, srv, "timer", "set", "--subject", "russian", "--minutes", "25")
	require.NoError(t, err)
	out, err := run(t, srv, "timer", "get", "--subject", "russian", "--lang", "en")
	require.NoError(t, err)
	assert.Contains(t, out, "25")
}

func TestResetCode(t *testing.T) {
	srv := newServer(t)

	out, err := run(t, srv, "reset-code", "--subject", "russian", "--variant", "01", "--cls", "9А", "--fio", "Петрова Анна")
	require.NoError(t, err)
	assert.Contains(t, out, "RS")
}

func TestExportCSVToFile(t *testing.T) {
	srv := newServer(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	_, err := run(t, srv, "export", "csv", "-o", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Петрова Анна;9А;01;")
}

func TestExportHTMLReport(t *testing.T) {
	srv := newServer(t)

	out, err := run(t, srv, "export", "html")
	require.NoError(t, err)
	assert.Contains(t, out, "Петрова Анна")
}

func TestRemoteRequired(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"list"})
	t.Setenv("KONTROL_REMOTE_URL", "")
	assert.Error(t, cmd.Execute())
}
