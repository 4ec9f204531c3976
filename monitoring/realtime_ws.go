package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"neuroscan/db"
)

type MessageType string

const (
	ScanClassified MessageType = "scan_classified"
	ScanFailed     MessageType = "scan_failed"
	Heartbeat      MessageType = "heartbeat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Message is the envelope every websocket frame carries.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// Hub fans scan events out to connected websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sent    int64
	dropped int64
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start runs the hub loop until Stop is called.
func (h *Hub) Start() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("client", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.String("client", client.clientID), zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.sent++
				default:
					// Slow consumer.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every client and waits for the loop to exit.
func (h *Hub) Stop() error {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(writeWait):
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		clientID: uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}
	go client.writePump(h.logger)
	go client.readPump(h)
}

// PublishScan broadcasts a stored scan as a scan_classified or scan_failed event.
func (h *Hub) PublishScan(rec db.ScanRecord) error {
	msgType := ScanClassified
	if rec.Status == db.StatusFailed {
		msgType = ScanFailed
	}
	return h.publish(msgType, rec)
}

func (h *Hub) publish(msgType MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		ID:        uuid.NewString(),
		Data:      data,
	})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.logger.Warn("broadcast queue full, dropping message", zap.String("type", string(msgType)))
	}
	return nil
}

// HubStats reports delivery counters.
type HubStats struct {
	ConnectedClients int   `json:"connected_clients"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{ConnectedClients: len(h.clients), MessagesSent: h.sent, MessagesDropped: h.dropped}
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", zap.String("client", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; clients do not send commands.
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.String("client", c.clientID), zap.Error(err))
			}
			return
		}
	}
}
