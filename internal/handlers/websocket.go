package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/auth"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/events"
	"github.com/ternarybob/exerceo/internal/jobs"
	"github.com/ternarybob/exerceo/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame the server pushes.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler serves the live progress stream. Each connection owns
// one hub subscription; the filter (a job ID or "*") is negotiated via
// query parameter at connect time, the bearer credential via header or
// "token" query parameter.
type WebSocketHandler struct {
	manager          *jobs.Manager
	gate             *auth.Gate
	throttleInterval time.Duration
	logger           arbor.ILogger
}

// NewWebSocketHandler creates the websocket progress handler.
func NewWebSocketHandler(manager *jobs.Manager, gate *auth.Gate, config *common.Config, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:          manager,
		gate:             gate,
		throttleInterval: config.Events.GetThrottleInterval(),
		logger:           logger,
	}
}

// HandleWebSocket authenticates, attaches a subscription, then upgrades.
// Auth and filter errors are answered with plain HTTP statuses so the
// client's dial fails visibly instead of being closed post-upgrade.
// GET /ws?filter=<jobID|*>&token=...
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := h.gate.Authenticate(r)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}
	if err := h.gate.AuthorizeRead(principal); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = "*"
	}

	sub, err := h.manager.Observe(r.Context(), filter)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.manager.SubscriberDetached()
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.logger.Debug().
		Str("filter", filter).
		Str("principal", principal.ID).
		Msg("WebSocket subscriber connected")

	writeMu := &sync.Mutex{}

	// Reader goroutine: its only job is to notice the client going away
	// and release the subscription so the pump unblocks.
	common.SafeGo(h.logger, "ws-reader", func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	})

	h.pumpEvents(conn, writeMu, sub)

	conn.Close()
	h.manager.SubscriberDetached()
	h.logger.Debug().Str("filter", filter).Msg("WebSocket subscriber disconnected")
}

// pumpEvents forwards subscription events to the connection until the
// stream ends. Non-terminal frames are throttled per job; progress
// snapshots are cumulative, so dropped intermediates lose nothing the
// next frame does not restate. Terminal frames always go out.
func (h *WebSocketHandler) pumpEvents(conn *websocket.Conn, writeMu *sync.Mutex, sub *events.Subscription) {
	var limiters map[string]*rate.Limiter
	if h.throttleInterval > 0 {
		limiters = make(map[string]*rate.Limiter)
	}

	for event := range sub.Events() {
		if limiters != nil {
			if event.IsTerminal() {
				delete(limiters, event.JobID)
			} else {
				limiter, ok := limiters[event.JobID]
				if !ok {
					limiter = rate.NewLimiter(rate.Every(h.throttleInterval), 1)
					limiters[event.JobID] = limiter
				}
				if !limiter.Allow() {
					continue
				}
			}
		}

		if !h.writeMessage(conn, writeMu, WSMessage{Type: "progress", Payload: event}) {
			sub.Close()
			return
		}
	}

	// Stream ended. A slow-consumer drop surfaces as a final error frame
	// so the client knows to reconcile via the list endpoint.
	if err := sub.Err(); err != nil {
		h.writeMessage(conn, writeMu, WSMessage{
			Type:    "error",
			Payload: ErrorBody{ErrorKind: models.KindOf(err), Message: err.Error()},
		})
	}
}

// writeMessage sends one frame under the connection write lock. Returns
// false when the connection is no longer writable.
func (h *WebSocketHandler) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, msg WSMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return true
	}

	writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	writeMu.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write to websocket client")
		return false
	}
	return true
}
