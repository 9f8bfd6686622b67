// Package remotetest provides an in-process result service for tests.
package remotetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stemsi/kontrol-backend/internal/remote"
)

type resetCode struct {
	subject, variant, cls, fio string
	used                       bool
}

// Server fakes the result service. Reset codes are single-use.
type Server struct {
	*httptest.Server
	Token string

	// FailSubmit makes /submit answer 503 while set.
	FailSubmit atomic.Bool

	mu        sync.Mutex
	records   map[string][]byte
	order     []string
	voided    map[string]bool
	codes     map[string]*resetCode
	timers    map[string]float64
	listCalls int
	listHook  func(call int)
	nextID    int
	paths     []string
}

// New starts a fake service accepting token on both token headers.
func New(token string) *Server {
	s := &Server{
		Token:   token,
		records: make(map[string][]byte),
		voided:  make(map[string]bool),
		codes:   make(map[string]*resetCode),
		timers:  make(map[string]float64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(remote.PathSubmit, s.auth(remote.HeaderSubmitToken, s.submit))
	mux.HandleFunc(remote.PathList, s.auth(remote.HeaderTeacherToken, s.list))
	mux.HandleFunc(remote.PathGet, s.auth(remote.HeaderTeacherToken, s.get))
	mux.HandleFunc(remote.PathVoid, s.auth(remote.HeaderTeacherToken, s.void))
	mux.HandleFunc(remote.PathConfigGet, s.auth(remote.HeaderTeacherToken, s.configGet))
	mux.HandleFunc(remote.PathConfigSet, s.auth(remote.HeaderTeacherToken, s.configSet))
	mux.HandleFunc(remote.PathReset, s.auth(remote.HeaderTeacherToken, s.reset))
	mux.HandleFunc(remote.PathResetConsume, s.auth(remote.HeaderTeacherToken, s.consume))
	s.Server = httptest.NewServer(mux)
	return s
}

// AddRecord stores a payload under key as if it had been submitted.
func (s *Server) AddRecord(key string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		s.order = append(s.order, key)
	}
	s.records[key] = payload
}

// Record returns a stored payload.
func (s *Server) Record(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.records[key]
	return raw, ok
}

// RecordCount returns the number of stored payloads.
func (s *Server) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Voided reports whether a record was annulled.
func (s *Server) Voided(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voided[key]
}

// SetTimer presets a time limit; variant may be empty.
func (s *Server) SetTimer(subject, variant string, minutes float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[timerKey(subject, variant)] = minutes
}

// SetListHook installs fn to run before each list response, with the
// 1-based call number.
func (s *Server) SetListHook(fn func(call int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listHook = fn
}

// Paths lists request paths in arrival order.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *Server) auth(header string, next func(http.ResponseWriter, gjson.Result)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()

		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		if r.Header.Get(header) != s.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil || !gjson.ValidBytes(raw) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad json"})
			return
		}
		next(w, gjson.ParseBytes(raw))
	}
}

func (s *Server) submit(w http.ResponseWriter, body gjson.Result) {
	if s.FailSubmit.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "storage unavailable"})
		return
	}
	s.mu.Lock()
	s.nextID++
	key := fmt.Sprintf("r%04d", s.nextID)
	s.mu.Unlock()

	s.AddRecord(key, []byte(body.Raw))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

func (s *Server) list(w http.ResponseWriter, body gjson.Result) {
	s.mu.Lock()
	s.listCalls++
	call := s.listCalls
	hook := s.listHook
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	variant := body.Get("variant").String()
	cls := body.Get("cls").String()
	limit := int(body.Get("limit").Int())

	s.mu.Lock()
	items := make([]map[string]any, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		key := s.order[i]
		doc := gjson.ParseBytes(s.records[key])
		if variant != "" && doc.Get("variant.id").String() != variant {
			continue
		}
		if cls != "" && !strings.EqualFold(doc.Get("student.class").String(), cls) {
			continue
		}
		item := map[string]any{
			"key":       key,
			"fio":       doc.Get("student.name").String(),
			"cls":       doc.Get("student.class").String(),
			"variant":   doc.Get("variant.id").String(),
			"createdAt": doc.Get("createdAt").String(),
			"voided":    s.voided[key],
		}
		if p := doc.Get("grading.percent"); p.Exists() {
			item["percent"] = p.Float()
		}
		if m := doc.Get("grading.mark"); m.Exists() {
			item["mark"] = m.String()
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) get(w http.ResponseWriter, body gjson.Result) {
	raw, ok := s.Record(body.Get("key").String())
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) void(w http.ResponseWriter, body gjson.Result) {
	keys := body.Get("keys").Array()
	if len(keys) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "keys required"})
		return
	}
	s.mu.Lock()
	for _, k := range keys {
		s.voided[k.String()] = true
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(keys)})
}

func (s *Server) configGet(w http.ResponseWriter, body gjson.Result) {
	subject := body.Get("subject").String()
	variant := body.Get("variant").String()

	s.mu.Lock()
	minutes, ok := s.timers[timerKey(subject, variant)]
	if !ok {
		minutes = s.timers[timerKey(subject, "")]
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"subject": subject, "time_limit_minutes": minutes})
}

func (s *Server) configSet(w http.ResponseWriter, body gjson.Result) {
	subject := body.Get("subject").String()
	if subject == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "subject required"})
		return
	}
	s.SetTimer(subject, body.Get("variant").String(), body.Get("time_limit_minutes").Float())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) reset(w http.ResponseWriter, body gjson.Result) {
	rc := &resetCode{
		subject: body.Get("subject").String(),
		variant: body.Get("variant").String(),
		cls:     body.Get("cls").String(),
		fio:     body.Get("fio").String(),
	}
	if rc.subject == "" || rc.variant == "" || rc.cls == "" || rc.fio == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "subject, variant, cls, fio required"})
		return
	}

	s.mu.Lock()
	s.nextID++
	code := fmt.Sprintf("RS%04d", s.nextID)
	s.codes[code] = rc
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"code":      code,
		"expiresAt": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
}

func (s *Server) consume(w http.ResponseWriter, body gjson.Result) {
	code := body.Get("code").String()

	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.codes[code]
	switch {
	case !ok:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "invalid code"})
	case rc.used:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "code already used"})
	case rc.subject != body.Get("subject").String() ||
		rc.variant != body.Get("variant").String() ||
		!strings.EqualFold(rc.cls, body.Get("cls").String()) ||
		!strings.EqualFold(rc.fio, body.Get("fio").String()):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "code does not match student"})
	default:
		rc.used = true
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func timerKey(subject, variant string) string {
	return subject + "|" + variant
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
