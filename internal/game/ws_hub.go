package game

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BeiningSAN/market-panic-server/internal/metrics"
	"github.com/BeiningSAN/market-panic-server/internal/protocol"
	"github.com/BeiningSAN/market-panic-server/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendQueue      = 64
)

// EventHandler consumes decoded inbound events.
type EventHandler interface {
	Handle(ctx context.Context, ev session.Event) session.Result
	Reject(conn string, err error)
}

type delivery struct {
	to  string
	msg []byte
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// WSHub owns the set of live connections. All deliveries go through one
// FIFO channel drained by Run, so frames reach every client in publish
// order. A client whose queue is full is dropped instead of stalling the
// session.
type WSHub struct {
	clients    map[string]*client
	outbound   chan delivery
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[string]*client),
		outbound:   make(chan delivery, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop until ctx is cancelled. Must be
// called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.clients[c.id] = c
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "conn", c.id, "total", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				h.drop(c)
			}

		case d := <-h.outbound:
			if d.to == "" {
				for _, c := range h.clients {
					h.deliver(c, d.msg)
				}
				continue
			}
			if c, ok := h.clients[d.to]; ok {
				h.deliver(c, d.msg)
			}
		}
	}
}

func (h *WSHub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		metrics.SlowClientsDropped.Inc()
		slog.Warn("ws client too slow, dropping", "conn", c.id)
		h.drop(c)
	}
}

func (h *WSHub) drop(c *client) {
	delete(h.clients, c.id)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Publish queues an encoded frame for one connection, or for all of them
// when to is empty. It blocks only while the queue is full.
func (h *WSHub) Publish(to string, msg []byte) {
	select {
	case h.outbound <- delivery{to: to, msg: msg}:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Browser clients are served from anywhere.
	},
}

// Serve returns the handler for GET /ws. Each connection gets a fresh id;
// its frames are decoded and passed to handler in arrival order, and a
// Disconnect is delivered when the socket goes away.
func (h *WSHub) Serve(handler EventHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("ws upgrade failed", "err", err)
			return
		}

		c := &client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, sendQueue),
		}
		select {
		case h.register <- c:
		case <-h.done:
			conn.Close()
			return
		}

		go c.writePump()
		h.readPump(context.WithoutCancel(r.Context()), c, handler)
	}
}

func (h *WSHub) readPump(ctx context.Context, c *client, handler EventHandler) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		handler.Handle(ctx, session.Disconnect{Conn: c.id})
		c.conn.Close()
		slog.Info("ws client disconnected", "conn", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws read failed", "conn", c.id, "err", err)
			}
			return
		}
		ev, err := protocol.Decode(c.id, data)
		if err != nil {
			handler.Reject(c.id, err)
			continue
		}
		handler.Handle(ctx, ev)
	}
}

// writePump drains the client's queue and keeps the connection alive
// through proxies. A closed queue ends the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
