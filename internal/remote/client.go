// Package remote is the HTTP client of the result service that stores
// submissions and serves the instructor endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/stemsi/kontrol-backend/internal/model"
)

const (
	PathList         = "/teacher/list"
	PathGet          = "/teacher/get"
	PathVoid         = "/teacher/void"
	PathConfigGet    = "/teacher/config/get"
	PathConfigSet    = "/teacher/config/set"
	PathReset        = "/teacher/reset"
	PathResetConsume = "/teacher/reset/consume"
	PathSubmit       = "/submit"

	HeaderTeacherToken = "X-Teacher-Token"
	HeaderSubmitToken  = "X-Submit-Token"
)

// ErrNotConfigured is returned when no base URL was set.
var ErrNotConfigured = errors.New("remote: base URL is not configured")

// Error is a non-2xx answer from the result service.
type Error struct {
	Status  int
	Path    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s: HTTP %d: %s", e.Path, e.Status, e.Message)
}

// Client talks JSON over POST to the result service. The token stays on the
// server and is attached to every request.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// New creates a Client. A zero timeout defaults to 15s.
func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "remote").Logger(),
	}
}

// Configured reports whether the client has somewhere to send requests.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// List fetches summary records matching the filter.
func (c *Client) List(ctx context.Context, f model.ListFilter) ([]model.ListItem, error) {
	res, err := c.post(ctx, PathList, HeaderTeacherToken, f)
	if err != nil {
		return nil, err
	}

	arr := res.Get("items")
	if !arr.IsArray() && res.IsArray() {
		arr = res
	}
	items := make([]model.ListItem, 0, len(arr.Array()))
	arr.ForEach(func(_, v gjson.Result) bool {
		item := model.ListItemFromJSON(v)
		if item.Key != "" {
			items = append(items, item)
		}
		return true
	})
	return items, nil
}

// Get returns the full stored payload of one record as raw JSON.
func (c *Client) Get(ctx context.Context, key string) (json.RawMessage, error) {
	res, err := c.post(ctx, PathGet, HeaderTeacherToken, map[string]string{"key": key})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(unwrapRecord(res).Raw), nil
}

// unwrapRecord returns the payload object when the service wraps it.
func unwrapRecord(res gjson.Result) gjson.Result {
	if res.Get("answers").Exists() || res.Get("student").Exists() {
		return res
	}
	for _, k := range []string{"payload", "item", "data", "result"} {
		if inner := res.Get(k); inner.IsObject() {
			return inner
		}
	}
	return res
}

// Void annuls the given records.
func (c *Client) Void(ctx context.Context, keys []string) error {
	_, err := c.post(ctx, PathVoid, HeaderTeacherToken, map[string][]string{"keys": keys})
	return err
}

// ConfigGet reads the instructor time limit for a subject and optional variant.
func (c *Client) ConfigGet(ctx context.Context, subject, variant string) (model.TimerConfig, error) {
	body := map[string]string{"subject": subject}
	if variant != "" {
		body["variant"] = variant
	}
	res, err := c.post(ctx, PathConfigGet, HeaderTeacherToken, body)
	if err != nil {
		return model.TimerConfig{}, err
	}
	cfg := model.TimerConfig{Subject: subject, Variant: variant}
	if v := res.Get("time_limit_minutes"); v.Exists() {
		cfg.TimeLimitMinutes = v.Float()
	} else if v := res.Get("config.time_limit_minutes"); v.Exists() {
		cfg.TimeLimitMinutes = v.Float()
	}
	return cfg, nil
}

// ConfigSet stores the instructor time limit.
func (c *Client) ConfigSet(ctx context.Context, cfg model.TimerConfig) error {
	_, err := c.post(ctx, PathConfigSet, HeaderTeacherToken, cfg)
	return err
}

// RequestReset asks the service to mint a one-time reset code for the scope.
func (c *Client) RequestReset(ctx context.Context, scope model.ResetScope) (model.ResetCode, error) {
	res, err := c.post(ctx, PathReset, HeaderTeacherToken, scope)
	if err != nil {
		return model.ResetCode{}, err
	}
	code := model.ResetCode{Code: res.Get("code").String()}
	if code.Code == "" {
		return model.ResetCode{}, &Error{Status: http.StatusOK, Path: PathReset, Message: "response carries no code"}
	}
	if exp := res.Get("expiresAt").String(); exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			code.ExpiresAt = &t
		}
	}
	return code, nil
}

type consumeRequest struct {
	model.ResetScope
	Code string `json:"code"`
}

// ConsumeReset redeems a code. The service accepts each code once.
func (c *Client) ConsumeReset(ctx context.Context, scope model.ResetScope, code string) error {
	_, err := c.post(ctx, PathResetConsume, HeaderTeacherToken, consumeRequest{ResetScope: scope, Code: code})
	return err
}

// Submit stores a result payload and returns the key the service assigned, if any.
func (c *Client) Submit(ctx context.Context, p model.ResultPayload) (string, error) {
	res, err := c.post(ctx, PathSubmit, HeaderSubmitToken, p)
	if err != nil {
		return "", err
	}
	for _, k := range []string{"key", "id", "item.key"} {
		if v := res.Get(k).String(); v != "" {
			return v, nil
		}
	}
	return "", nil
}

func (c *Client) post(ctx context.Context, path, tokenHeader string, body any) (gjson.Result, error) {
	if !c.Configured() {
		return gjson.Result{}, ErrNotConfigured
	}
	log := c.log.With().Str("path", path).Logger()

	raw, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Remote request failed")
		return gjson.Result{}, fmt.Errorf("remote %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read %s response: %w", path, err)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Remote response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &Error{Status: resp.StatusCode, Path: path, Message: errorMessage(data, resp.StatusCode)}
		log.Warn().Int("status", resp.StatusCode).Str("message", rerr.Message).Msg("Remote rejected request")
		return gjson.Result{}, rerr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return gjson.Parse(`{"ok":true}`), nil
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("remote %s: response is not JSON", path)
	}
	return gjson.ParseBytes(data), nil
}

// errorMessage picks message|error from a JSON body, else the raw text.
func errorMessage(data []byte, status int) string {
	if gjson.ValidBytes(data) {
		doc := gjson.ParseBytes(data)
		for _, k := range []string{"message", "error"} {
			if v := doc.Get(k); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		if len(text) > 300 {
			text = text[:300]
		}
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
