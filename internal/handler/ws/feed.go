// Package ws pushes relay events to connected WebSocket clients.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/service/metrics"
	xlogger "TeeRelay/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[models.EventType]bool
	once  sync.Once
}

func (c *client) wants(t models.EventType) bool {
	return len(c.types) == 0 || c.types[t]
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Feed fans events out to subscribers. A slow subscriber loses events rather than blocking
// the publisher.
type Feed struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeWait    time.Duration
	buffer       int
	log          *xlogger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type Option func(*Feed)

func WithPingInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pingInterval = d
		}
	}
}

func WithBuffer(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

func WithLogger(l *xlogger.Logger) Option {
	return func(f *Feed) { f.log = l }
}

func NewFeed(opts ...Option) *Feed {
	metrics.Register()
	f := &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
		writeWait:    10 * time.Second,
		buffer:       256,
		log:          xlogger.Nop(),
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/feed", f.Serve)
}

// Serve upgrades the request. ?types=tx.executed,attestation.rotated limits what is pushed.
func (f *Feed) Serve(c echo.Context) error {
	conn, err := f.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		f.log.Warn("feed upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &client{conn: conn, send: make(chan []byte, f.buffer)}
	if raw := c.QueryParam("types"); raw != "" {
		cl.types = make(map[models.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			cl.types[models.EventType(strings.TrimSpace(t))] = true
		}
	}

	f.mu.Lock()
	f.clients[cl] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()
	metrics.FeedClients.Inc()
	f.log.Debug("feed client connected", xlogger.String("remote", c.RealIP()), xlogger.Int("clients", n))

	go f.writeLoop(cl)
	f.readLoop(cl)
	return nil
}

// readLoop discards client frames and returns when the connection drops.
func (f *Feed) readLoop(cl *client) {
	defer f.remove(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(2 * f.pingInterval))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(2 * f.pingInterval))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(cl *client) {
	ticker := time.NewTicker(f.pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(f.writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(f.writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) remove(cl *client) {
	f.mu.Lock()
	_, ok := f.clients[cl]
	delete(f.clients, cl)
	f.mu.Unlock()
	if ok {
		metrics.FeedClients.Dec()
		cl.close()
	}
}

// Broadcast implements middleware.Listener.
func (f *Feed) Broadcast(ev *models.RelayEvent) {
	if ev == nil {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		f.log.Warn("encode feed event", xlogger.Error(err))
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for cl := range f.clients {
		if !cl.wants(ev.Type) {
			continue
		}
		select {
		case cl.send <- msg:
		default:
			// drop on backpressure
		}
	}
}

// Len returns the number of connected clients.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[*client]struct{})
	f.mu.Unlock()
	for cl := range clients {
		metrics.FeedClients.Dec()
		cl.close()
	}
}
