// Package realtime pushes vitals and alert events to connected websocket
// clients.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 16
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

// Conn is the write side of a websocket connection
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Client is one subscribed connection
type Client struct {
	UserID string
	conn   Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// Done is closed once the client is unregistered
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Hub tracks clients per user. A client that cannot keep up is dropped rather
// than blocking publishers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ vitals.Publisher = (*Hub)(nil)

func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		metrics: m,
		logger:  logger.Named("realtime"),
	}
}

// Register subscribes conn to userID's events and starts its writer
func (h *Hub) Register(userID string, conn Conn) *Client {
	c := &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	h.metrics.IncrementActiveConnections()
	go h.writePump(c)
	return c
}

// Unregister removes the client and closes its connection. It is idempotent.
func (h *Hub) Unregister(c *Client) {
	c.once.Do(func() {
		h.mu.Lock()
		if set := h.clients[c.UserID]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.UserID)
			}
		}
		h.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		h.metrics.DecrementActiveConnections()
	})
}

// Publish implements vitals.Publisher
func (h *Hub) Publish(userID string, event vitals.Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow realtime client", zap.String("user_id", c.UserID))
		h.Unregister(c)
	}
}

// Clients returns the number of connections subscribed for userID
func (h *Hub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Unregister(c)
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := h.write(c, websocket.TextMessage, msg); err != nil {
				h.Unregister(c)
				return
			}
		case <-ticker.C:
			// keep connections alive through proxies
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				h.Unregister(c)
				return
			}
		}
	}
}

func (h *Hub) write(c *Client, messageType int, data []byte) error {
	if d, ok := c.conn.(deadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return c.conn.WriteMessage(messageType, data)
}
