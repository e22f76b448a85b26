package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/aaronwang/live-auction/broadcast-service/internal/gateway"
	"github.com/aaronwang/live-auction/shared/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development (use proper CORS in production)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Forwarder executes viewer commands against the auction API.
type Forwarder interface {
	Forward(ctx context.Context, token, streamID string, cmd *gateway.Command) (json.RawMessage, error)
}

// Handler handles WebSocket connections
type Handler struct {
	manager   *Manager
	commands  Forwarder
	jwtSecret string
	timeout   time.Duration
	log       *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *Manager, commands Forwarder, jwtSecret string, log *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		commands:  commands,
		jwtSecret: jwtSecret,
		timeout:   10 * time.Second,
		log:       log,
	}
}

// SetupRoutes configures WebSocket routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// WebSocket endpoint: /ws/streams/{streamId}
	router.HandleFunc("/ws/streams/{streamId}", h.HandleWebSocket)

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Stats endpoint
	router.HandleFunc("/stats/streams/{streamId}", h.GetStats).Methods("GET")

	return router
}

// HandleWebSocket upgrades the connection and joins the stream's room.
// Viewers without a token may watch; commands require one.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["streamId"]

	token := bearerToken(r)
	var userID string
	if token != "" {
		var err error
		userID, err = auth.ParseUserID(h.jwtSecret, token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", slog.Any("error", err))
		return
	}

	client := &Client{
		ID:       uuid.New().String(),
		StreamID: streamID,
		UserID:   userID,
		Token:    token,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
	}

	if !h.manager.RegisterClient(client) {
		conn.Close()
		return
	}
	go client.readPump(h.manager, h.handleMessage)

	h.reply(client, map[string]any{
		"type":          "connected",
		"stream_id":     streamID,
		"client_id":     client.ID,
		"authenticated": userID != "",
	})
}

// handleMessage runs a viewer command and answers the sender only.
// Resulting state changes reach everyone through the event broadcast.
func (h *Handler) handleMessage(c *Client, raw []byte) {
	var cmd gateway.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.replyError(c, &cmd, "BAD_REQUEST", "invalid message")
		return
	}
	if c.UserID == "" {
		h.replyError(c, &cmd, "UNAUTHORIZED", "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	result, err := h.commands.Forward(ctx, c.Token, c.StreamID, &cmd)
	if err != nil {
		var apiErr *gateway.APIError
		switch {
		case errors.As(err, &apiErr):
			h.replyError(c, &cmd, apiErr.Code, apiErr.Message)
		case errors.Is(err, gateway.ErrUnknownCommand):
			h.replyError(c, &cmd, "UNKNOWN_COMMAND", err.Error())
		default:
			h.log.Error("failed to forward command",
				slog.String("stream_id", c.StreamID),
				slog.String("command", cmd.Type),
				slog.Any("error", err))
			h.replyError(c, &cmd, "UNAVAILABLE", "command could not be delivered")
		}
		return
	}

	h.reply(c, map[string]any{
		"type":       "command_result",
		"command":    cmd.Type,
		"request_id": cmd.RequestID,
		"result":     result,
	})
}

func (h *Handler) replyError(c *Client, cmd *gateway.Command, code, message string) {
	h.reply(c, map[string]any{
		"type":       "error",
		"command":    cmd.Type,
		"request_id": cmd.RequestID,
		"code":       code,
		"error":      message,
	})
}

func (h *Handler) reply(c *Client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error("failed to encode reply", slog.Any("error", err))
		return
	}
	h.manager.SendTo(c, b)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "broadcast-service",
	})
}

// GetStats returns the viewer count for a stream
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["streamId"]
	respondJSON(w, http.StatusOK, map[string]any{
		"stream_id":   streamID,
		"subscribers": h.manager.GetSubscriberCount(streamID),
	})
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
