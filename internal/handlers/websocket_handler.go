package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tillsync/server/internal/middleware"
	"github.com/tillsync/server/internal/repository"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Terminals authenticate with a sync token, not cookies
		return true
	},
}

// WebSocketHandler streams collection change notifications to terminals
type WebSocketHandler struct {
	hub         *services.WebSocketHub
	resolver    middleware.TokenResolver
	tokenHeader string
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.WebSocketHub, resolver middleware.TokenResolver, tokenHeader string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		resolver:    resolver,
		tokenHeader: tokenHeader,
	}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection.
// The sync token is only read from the token header; request URIs are logged.
// @Summary Change notifications
// @Description Upgrades to a websocket. Send {"type":"subscribe","payload":"products"} to follow a collection, or "*" for all of them.
// @Tags sync
// @Security SyncToken
// @Success 101
// @Failure 401 {object} models.ErrorResponse
// @Router /ws [get]
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(h.tokenHeader)

	terminalID, err := h.resolver.Resolve(r.Context(), token, middleware.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.WithField("terminal_id", terminalID).Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), terminalID, conn)
	h.hub.Register(client)

	observability.WithFields(map[string]interface{}{
		"client_id":   client.ID,
		"terminal_id": terminalID,
	}).Debug("WebSocket connected")

	// Start the write pump in a goroutine
	go client.WritePump()

	// Run the read pump (blocks until connection closes)
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		client.Reply(services.WSMessage{Type: services.WSTypeError, Payload: "invalid message"})
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe, services.WSTypeUnsubscribe:
		topic, ok := topicOf(msg.Payload)
		if !ok {
			client.Reply(services.WSMessage{Type: services.WSTypeError, Payload: "topic required"})
			return
		}
		if msg.Type == services.WSTypeSubscribe {
			h.hub.Subscribe(client, topic)
		} else {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		client.Reply(services.WSMessage{Type: services.WSTypePong})

	default:
		observability.WithField("client_id", client.ID).Debugf("Unknown WebSocket message type: %s", msg.Type)
	}
}

// topicOf accepts either a bare topic string or {"topic": "..."}
func topicOf(payload interface{}) (string, bool) {
	switch p := payload.(type) {
	case string:
		return p, p == services.TopicAll || repository.ValidCollectionName(p)
	case map[string]interface{}:
		if topic, ok := p["topic"].(string); ok {
			return topic, topic == services.TopicAll || repository.ValidCollectionName(topic)
		}
	}
	return "", false
}
