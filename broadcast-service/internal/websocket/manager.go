package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Manager owns every viewer connection, grouped into one room per live
// stream. Room membership only changes inside Run.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	direct     chan *directMessage
	done       chan struct{}

	log *slog.Logger
}

// Client represents a WebSocket client connection
type Client struct {
	ID       string
	StreamID string
	UserID   string // empty for anonymous viewers
	Token    string
	Conn     *websocket.Conn
	Send     chan []byte
}

// BroadcastMessage is delivered to every client watching a stream.
type BroadcastMessage struct {
	StreamID string
	Payload  []byte
}

type directMessage struct {
	client  *Client
	payload []byte
}

// NewManager creates a new WebSocket manager
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		direct:     make(chan *directMessage, 256),
		done:       make(chan struct{}),
		log:        log.With(slog.String("component", "ws-manager")),
	}
}

// Run processes registrations and deliveries until ctx is cancelled, then
// disconnects every client.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for _, room := range m.rooms {
				for c := range room {
					close(c.Send)
				}
			}
			m.rooms = make(map[string]map[*Client]struct{})
			m.mu.Unlock()
			return

		case c := <-m.register:
			m.registerClient(c)

		case c := <-m.unregister:
			m.unregisterClient(c)

		case msg := <-m.broadcast:
			m.broadcastToStream(msg.StreamID, msg.Payload)

		case msg := <-m.direct:
			m.mu.Lock()
			if m.isMember(msg.client) {
				m.deliver(msg.client, msg.payload)
			}
			m.mu.Unlock()
		}
	}
}

// RegisterClient adds a client and starts its write pump. It returns false
// once the manager has stopped.
func (m *Manager) RegisterClient(c *Client) bool {
	select {
	case m.register <- c:
		return true
	case <-m.done:
		return false
	}
}

// UnregisterClient removes a client and closes its connection.
func (m *Manager) UnregisterClient(c *Client) {
	select {
	case m.unregister <- c:
	case <-m.done:
	}
}

// Broadcast queues payload for every client watching streamID.
func (m *Manager) Broadcast(streamID string, payload []byte) {
	select {
	case m.broadcast <- &BroadcastMessage{StreamID: streamID, Payload: payload}:
	case <-m.done:
	}
}

// SendTo queues payload for one client. It is dropped if the client has
// already been removed.
func (m *Manager) SendTo(c *Client, payload []byte) {
	select {
	case m.direct <- &directMessage{client: c, payload: payload}:
	case <-m.done:
	}
}

// GetSubscriberCount returns the number of clients watching a stream.
func (m *Manager) GetSubscriberCount(streamID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[streamID])
}

func (m *Manager) registerClient(c *Client) {
	m.mu.Lock()
	room, ok := m.rooms[c.StreamID]
	if !ok {
		room = make(map[*Client]struct{})
		m.rooms[c.StreamID] = room
	}
	room[c] = struct{}{}
	m.mu.Unlock()

	m.log.Debug("client joined",
		slog.String("client_id", c.ID),
		slog.String("stream_id", c.StreamID))

	go c.writePump()
}

func (m *Manager) unregisterClient(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(c)
}

// remove must be called with mu held.
func (m *Manager) remove(c *Client) {
	if !m.isMember(c) {
		return
	}
	room := m.rooms[c.StreamID]
	delete(room, c)
	if len(room) == 0 {
		delete(m.rooms, c.StreamID)
	}
	close(c.Send)

	m.log.Debug("client left",
		slog.String("client_id", c.ID),
		slog.String("stream_id", c.StreamID))
}

func (m *Manager) isMember(c *Client) bool {
	_, ok := m.rooms[c.StreamID][c]
	return ok
}

// deliver must be called with mu held. A client whose buffer is full is
// disconnected so one slow viewer never holds up the room.
func (m *Manager) deliver(c *Client, payload []byte) {
	select {
	case c.Send <- payload:
	default:
		m.log.Warn("dropping slow client", slog.String("client_id", c.ID))
		m.remove(c)
	}
}

func (m *Manager) broadcastToStream(streamID string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.rooms[streamID] {
		m.deliver(c, payload)
	}
}

// writePump pumps messages from the Send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands each inbound message to onMessage until the connection
// fails, then unregisters the client.
func (c *Client) readPump(m *Manager, onMessage func(*Client, []byte)) {
	defer m.UnregisterClient(c)

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.log.Debug("websocket closed", slog.String("client_id", c.ID), slog.Any("error", err))
			}
			return
		}
		onMessage(c, message)
	}
}
