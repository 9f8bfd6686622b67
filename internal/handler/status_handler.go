package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/response"
)

const defaultStatusInterval = 7 * time.Second

// AttemptCounter reports attempts held in memory.
type AttemptCounter interface {
	OpenCount() int
}

// StreamTotaler reports live attempt streams.
type StreamTotaler interface {
	Total() int
}

// StatusHandler reports server load to the console, once or as SSE.
type StatusHandler struct {
	rdb       *redis.Client
	attempts  AttemptCounter
	streams   StreamTotaler
	startTime time.Time
	interval  time.Duration
	log       zerolog.Logger
}

// NewStatusHandler creates a StatusHandler. rdb may be nil; the persist
// queue depth is then omitted. A zero interval uses seven seconds.
func NewStatusHandler(rdb *redis.Client, attempts AttemptCounter, streams StreamTotaler, interval time.Duration, log zerolog.Logger) *StatusHandler {
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	return &StatusHandler{
		rdb:       rdb,
		attempts:  attempts,
		streams:   streams,
		startTime: time.Now(),
		interval:  interval,
		log:       log.With().Str("component", "status_handler").Logger(),
	}
}

type serverStatus struct {
	Timestamp    int64  `json:"timestamp"`
	Uptime       string `json:"uptime"`
	OpenAttempts int    `json:"open_attempts"`
	LiveStreams  int    `json:"live_streams"`
	PersistQueue *int64 `json:"persist_queue,omitempty"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
}

// Status godoc
// GET /api/v1/console/status
func (h *StatusHandler) Status(c *gin.Context) {
	response.Success(c, http.StatusOK, h.collect(c.Request.Context()))
}

// StatusStream godoc
// GET /api/v1/console/status/stream
// Sends a status frame on connect and then every interval.
func (h *StatusHandler) StatusStream(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Debug().Msg("Console connected to status stream")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.write(c)
	for {
		select {
		case <-reqCtx.Done():
			h.log.Debug().Msg("Console disconnected from status stream")
			return
		case <-ticker.C:
			h.write(c)
		}
	}
}

func (h *StatusHandler) write(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *StatusHandler) collect(ctx context.Context) serverStatus {
	s := serverStatus{
		Timestamp: time.Now().Unix(),
		Uptime:    formatUptime(time.Since(h.startTime)),
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}
	if h.attempts != nil {
		s.OpenAttempts = h.attempts.OpenCount()
	}
	if h.streams != nil {
		s.LiveStreams = h.streams.Total()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.Goroutines = runtime.NumGoroutine()
	s.HeapAlloc = ms.HeapAlloc
	s.HeapSys = ms.Sys
	s.NumGC = ms.NumGC

	if h.rdb != nil {
		qctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if n, err := h.rdb.LLen(qctx, config.WorkerKey.PersistAttemptsQueue).Result(); err == nil {
			s.PersistQueue = &n
		}
	}
	return s
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
