package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/dexgate/pkg/metrics"
	"github.com/uhyunpark/dexgate/pkg/protocol"
)

// Greeting is the first frame sent on every new connection.
const Greeting = "Market maker service connected"

const (
	msgTooManyRequests = "Too many requests"

	sendBuffer = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced on the HTTP handler.
		return true
	},
}

// Hub tracks live websocket connections.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	sugar *zap.SugaredLogger
	stats *metrics.Registry
}

func NewHub(sugar *zap.SugaredLogger, stats *metrics.Registry) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sugar:      sugar,
		stats:      stats,
	}
}

// Run serves register and unregister requests until ctx ends, then closes
// every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			client.close()
			h.stats.ClientDisconnected()
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.stats.ClientConnected()
			h.sugar.Infow("ws_client_connected", "client", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.stats.ClientDisconnected()
				h.sugar.Infow("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close()
	}
}

// Client is one websocket connection. It is the owner of every subscription
// it opens and the target of every reply to its messages.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	limiter *rate.Limiter
	sugar   *zap.SugaredLogger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, limit float64, sugar *zap.SugaredLogger) *Client {
	c := &Client{
		hub:   hub,
		conn:  conn,
		id:    conn.RemoteAddr().String(),
		sugar: sugar,
		send:  make(chan []byte, sendBuffer),
	}
	if limit > 0 {
		burst := int(limit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return c
}

// Reply queues message for the client tagged with id. It never blocks: a
// full queue drops the message, and replies after disconnect are discarded.
func (c *Client) Reply(id string, message any) {
	data, err := json.Marshal(protocol.Envelope{ID: id, Message: message})
	if err != nil {
		c.sugar.Errorw("ws_marshal_failed", "client", c.id, "id", id, "err", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.sugar.Warnw("ws_send_dropped", "client", c.id, "bytes", len(data))
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// readPump hands every inbound frame to the dispatcher under a fresh
// correlation id. On exit the client's subscriptions are released before
// its send queue closes.
func (c *Client) readPump(s *Server) {
	defer func() {
		if s.subs != nil {
			s.subs.ReleaseOwner(c)
		}
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.sugar.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}

		id := s.ids.Next()
		if !c.allow() {
			c.Reply(id, msgTooManyRequests)
			continue
		}
		s.dispatcher.Dispatch(c, id, message)
	}
}

// writePump writes queued messages one frame each and keeps the
// connection alive with pings.
func (c *Client) writePump() {
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.sugar.Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := newClient(s.hub, conn, s.rateLimit, s.sugar)
	if !s.hub.add(client) {
		conn.Close()
		return
	}
	client.enqueue([]byte(Greeting))

	go client.writePump()
	go client.readPump(s)
}
