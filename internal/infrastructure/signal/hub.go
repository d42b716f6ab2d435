package signal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"sfugate/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrPeerNotConnected = errors.New("peer not connected")
	ErrSendQueueFull    = errors.New("send queue full")
	errClientClosed     = errors.New("client closed")
)

// client is one signaling connection. Responses and notifications share the send
// queue and are written by writePump alone, so a peer that stops reading never
// blocks the goroutine that broadcasts to it.
type client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, writeTimeout time.Duration, queueSize int) *client {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &client{
		conn:         conn,
		writeTimeout: writeTimeout,
		send:         make(chan interface{}, queueSize),
		done:         make(chan struct{}),
	}
}

func (c *client) writePump(logger *zap.SugaredLogger) {
	defer c.close()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Infow("error writing message", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// reply queues a response of the connection's own request loop, waiting for room.
func (c *client) reply(v interface{}) error {
	select {
	case c.send <- v:
		return nil
	case <-c.done:
		return errClientClosed
	}
}

// enqueue queues a notification without waiting. A full queue closes the client.
func (c *client) enqueue(v interface{}) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- v:
		return nil
	default:
		c.close()
		return ErrSendQueueFull
	}
}

func (c *client) writeControl(messageType int, data []byte) error {
	return c.conn.WriteControl(messageType, data, time.Now().Add(c.writeTimeout))
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub is the table of live connections keyed by peer id. It delivers
// notifications for the room layer.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.PeerID]*client
	logger  *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients: make(map[domain.PeerID]*client),
		logger:  logger,
	}
}

func (h *Hub) register(peerID domain.PeerID, c *client) {
	h.mu.Lock()
	h.clients[peerID] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(peerID domain.PeerID, c *client) {
	h.mu.Lock()
	if current, ok := h.clients[peerID]; ok && current == c {
		delete(h.clients, peerID)
	}
	h.mu.Unlock()
}

// Notify implements ports.Notifier.
func (h *Hub) Notify(peerID domain.PeerID, method string, data interface{}) error {
	h.mu.RLock()
	c, ok := h.clients[peerID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}

	if err := c.enqueue(Notification{Notification: true, Method: method, Data: data}); err != nil {
		if errors.Is(err, ErrSendQueueFull) {
			h.logger.Warnw("dropping slow signaling connection", "peer_id", peerID, "method", method)
		}
		return fmt.Errorf("queue notification %s to %s: %w", method, peerID, err)
	}
	h.logger.Debugw("notification queued", "peer_id", peerID, "method", method)
	return nil
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) IsConnected(peerID domain.PeerID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[peerID]
	return ok
}

// CloseAll sends a close frame to every connection, which ends their handlers.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		if err := c.writeControl(websocket.CloseMessage, msg); err != nil {
			h.logger.Debugw("close frame not delivered", "error", err)
		}
		c.close()
	}
}
