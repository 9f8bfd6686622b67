package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/hub"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/middleware"
	"github.com/stemsi/kontrol-backend/internal/model"
	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/service"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams timer ticks and finish notices of an attempt and accepts
// answers and navigation over the same connection.
type WSHandler struct {
	attemptService *service.AttemptService
	hub            *hub.Hub
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, h *hub.Hub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		hub:            h,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:subject/:variant/stream?token=
// The attempt must be open (POST .../open) before connecting.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	deviceID := middleware.DeviceID(c)
	if deviceID == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	subject, variantID := c.Param("subject"), c.Param("variant")

	key, err := h.attemptService.Key(deviceID, subject, variantID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("device_id", deviceID).
		Str("subject", subject).
		Str("variant_id", variantID).
		Logger()
	wsLog.Info().Msg("Stream connected")

	sub := h.hub.Subscribe(key)
	defer h.hub.Unsubscribe(sub)

	writer := hub.NewWriter(conn)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := writer.Run(sub, stop); err != nil {
			wsLog.Debug().Err(err).Msg("Stream write failed")
			conn.Close()
		}
	}()
	defer func() {
		close(stop)
		<-writerDone
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	})

	if st, err := h.attemptService.State(deviceID, subject, variantID); err == nil {
		writer.Reply(hub.StateEvent{Event: hub.EventState, State: present(c, st)})
	}

	for {
		var msg hub.ClientMessage
		if err := hub.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Stream closed")
			}
			return
		}

		var (
			st  model.AttemptState
			err error
		)
		switch msg.Action {
		case hub.ActionAnswer:
			st, err = h.attemptService.Answer(c.Request.Context(), deviceID, subject, variantID, msg.TaskID, msg.Answer)
		case hub.ActionNavigate:
			st, err = h.attemptService.Navigate(c.Request.Context(), deviceID, subject, variantID, msg.Delta, msg.Index)
		case hub.ActionPing:
			writer.Reply(hub.PongEvent{Event: hub.EventPong})
			continue
		default:
			writer.Reply(hub.ErrorEvent{Event: hub.EventError, Error: "unknown action: " + string(msg.Action)})
			continue
		}

		if err != nil {
			writer.Reply(hub.ErrorEvent{Event: hub.EventError, Error: errorText(c, err)})
			continue
		}
		writer.Reply(hub.StateEvent{Event: hub.EventState, State: present(c, st)})
	}
}

// errorText is the localized message of a domain error.
func errorText(c *gin.Context, err error) string {
	f, _, ok := classify(err)
	if !ok {
		return response.GetMessage(response.ErrInternal)
	}
	if f.msgID != "" {
		return i18n.T(c, f.msgID)
	}
	return response.GetMessage(f.code)
}
