package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	ID         string
	TerminalID string
	Topics     map[string]bool
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *WebSocketHub
	mu         sync.Mutex
	closedOnce sync.Once

	// sendMu guards Send against Reply racing the hub closing it
	sendMu sync.Mutex
	closed bool
}

// WebSocketHub fans collection change events out to connected terminals
type WebSocketHub struct {
	clients       map[*WSClient]bool
	topics        map[string]map[*WSClient]bool // topic -> clients
	terminalConns map[string]map[*WSClient]bool // terminalID -> clients
	register      chan *WSClient
	unregister    chan *WSClient
	broadcast     chan *broadcastMsg
	done          chan struct{}
	mu            sync.RWMutex
}

type broadcastMsg struct {
	topic      string
	terminalID string // if set, only send to this terminal
	message    []byte
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:       make(map[*WSClient]bool),
		topics:        make(map[string]map[*WSClient]bool),
		terminalConns: make(map[string]map[*WSClient]bool),
		register:      make(chan *WSClient),
		unregister:    make(chan *WSClient),
		broadcast:     make(chan *broadcastMsg, 256),
		done:          make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled, closing
// every remaining client.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			h.removeLocked(client)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.TerminalID != "" {
				if h.terminalConns[client.TerminalID] == nil {
					h.terminalConns[client.TerminalID] = make(map[*WSClient]bool)
				}
				h.terminalConns[client.TerminalID][client] = true
			}
			h.mu.Unlock()
			observability.WithFields(map[string]interface{}{
				"client_id":   client.ID,
				"terminal_id": client.TerminalID,
			}).Debug("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			observability.WithField("client_id", client.ID).Debug("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.targetsLocked(msg) {
				select {
				case client.Send <- msg.message:
				default:
					// Client buffer full, close connection
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WebSocketHub) removeLocked(client *WSClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for topic := range client.Topics {
		if topicClients, ok := h.topics[topic]; ok {
			delete(topicClients, client)
			if len(topicClients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	if client.TerminalID != "" {
		if conns, ok := h.terminalConns[client.TerminalID]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.terminalConns, client.TerminalID)
			}
		}
	}
	client.sendMu.Lock()
	client.closed = true
	close(client.Send)
	client.sendMu.Unlock()
}

// targetsLocked resolves the recipients of msg. Subscribers of TopicAll
// receive every collection topic.
func (h *WebSocketHub) targetsLocked(msg *broadcastMsg) map[*WSClient]bool {
	switch {
	case msg.terminalID != "":
		return h.terminalConns[msg.terminalID]
	case msg.topic == "":
		return h.clients
	}

	targets := make(map[*WSClient]bool, len(h.topics[msg.topic])+len(h.topics[TopicAll]))
	for client := range h.topics[msg.topic] {
		targets[client] = true
	}
	for client := range h.topics[TopicAll] {
		targets[client] = true
	}
	return targets
}

// Register adds a client to the hub
func (h *WebSocketHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Conn.Close()
	}
}

// Unregister removes a client from the hub
func (h *WebSocketHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a topic
func (h *WebSocketHub) Subscribe(client *WSClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.Topics[topic] = true
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*WSClient]bool)
	}
	h.topics[topic][client] = true
	observability.WithFields(map[string]interface{}{
		"client_id": client.ID,
		"topic":     topic,
	}).Debug("WebSocket client subscribed")
}

// Unsubscribe removes a client from a topic
func (h *WebSocketHub) Unsubscribe(client *WSClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Topics, topic)
	if topicClients, ok := h.topics[topic]; ok {
		delete(topicClients, client)
		if len(topicClients) == 0 {
			delete(h.topics, topic)
		}
	}
}

// CollectionChanged broadcasts a committed metadata bump to the collection's
// subscribers. It never blocks the caller: when the hub is saturated the
// event is dropped and terminals catch up on their next poll.
func (h *WebSocketHub) CollectionChanged(collection string, meta models.SyncMetadata) {
	data, err := json.Marshal(WSMessage{
		Type: WSTypeCollectionChanged,
		Payload: CollectionChangedPayload{
			Collection:  collection,
			Version:     meta.Version,
			LastUpdated: meta.LastUpdated,
			ItemCount:   meta.ItemCount,
		},
	})
	if err != nil {
		observability.Errorf("Error marshaling WebSocket message: %v", err)
		return
	}

	select {
	case h.broadcast <- &broadcastMsg{topic: collection, message: data}:
	default:
		observability.WithField("collection", collection).Warn("WebSocket broadcast queue full, dropping change event")
	}
}

// TerminalReset tells the reset terminal, or every client when terminalID is
// ALL, to drop its local sync state and pull again
func (h *WebSocketHub) TerminalReset(terminalID string, terminalRemoved bool) {
	msg := WSMessage{
		Type:    WSTypeTerminalReset,
		Payload: TerminalResetPayload{TerminalID: terminalID, TerminalRemoved: terminalRemoved},
	}
	if terminalID == ResetAll {
		h.enqueue(&broadcastMsg{}, msg)
		return
	}
	h.SendToTerminal(terminalID, msg)
}

// SendToTerminal sends a message to all connections of a specific terminal
func (h *WebSocketHub) SendToTerminal(terminalID string, msg WSMessage) {
	h.enqueue(&broadcastMsg{terminalID: terminalID}, msg)
}

func (h *WebSocketHub) enqueue(bm *broadcastMsg, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		observability.Errorf("Error marshaling WebSocket message: %v", err)
		return
	}
	bm.message = data

	select {
	case h.broadcast <- bm:
	case <-h.done:
	}
}

// ClientCount returns the number of open connections
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsConnected reports whether the terminal has at least one open connection
func (h *WebSocketHub) IsConnected(terminalID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.terminalConns[terminalID]) > 0
}

// NewClient creates a new WebSocket client for an authenticated terminal
func (h *WebSocketHub) NewClient(id, terminalID string, conn *websocket.Conn) *WSClient {
	return &WSClient{
		ID:         id,
		TerminalID: terminalID,
		Topics:     make(map[string]bool),
		Conn:       conn,
		Send:       make(chan []byte, 256),
		hub:        h,
	}
}

// Close closes the client connection
func (c *WSClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// Reply queues a message for this client only
func (c *WSClient) Reply(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// WritePump pumps messages from the hub to the websocket connection
func (c *WSClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump pumps messages from the websocket connection to the hub
func (c *WSClient) ReadPump(onMessage func(client *WSClient, messageType int, data []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.WithField("client_id", c.ID).Warnf("WebSocket error: %v", err)
			}
			break
		}

		if onMessage != nil {
			onMessage(c, messageType, message)
		}
	}
}

// Message types
const (
	WSTypeCollectionChanged = "collection_changed"
	WSTypeTerminalReset     = "terminal_reset"
	WSTypeError             = "error"
	WSTypeSubscribe         = "subscribe"
	WSTypeUnsubscribe       = "unsubscribe"
	WSTypePing              = "ping"
	WSTypePong              = "pong"
)

// TopicAll receives the change events of every collection
const TopicAll = "*"

// CollectionChangedPayload is sent after every committed metadata bump
type CollectionChangedPayload struct {
	Collection  string `json:"collection"`
	Version     int64  `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	ItemCount   int    `json:"itemCount"`
}

// TerminalResetPayload is sent after a reset. A removed terminal must
// authenticate again.
type TerminalResetPayload struct {
	TerminalID      string `json:"terminalId"`
	TerminalRemoved bool   `json:"terminalRemoved"`
}
