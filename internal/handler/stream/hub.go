package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/domain/repository"
	xlogger "FinVerdict/pkg/logger"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	sendBuffer   = 64
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	symbol string
}

// Hub fans produced verdicts out to WebSocket subscribers. Slow subscribers
// lose messages instead of blocking Broadcast.
type Hub struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. allowedOrigins empty or containing "*" accepts any origin.
func NewHub(logger *xlogger.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		logger:  logger.With(xlogger.String("component", "stream")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/verdicts", h.Subscribe)
}

// Subscribe upgrades the request. ?symbol=BTC restricts the stream to one symbol.
func (h *Hub) Subscribe(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}

	cl := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		symbol: strings.ToUpper(strings.TrimSpace(c.QueryParam("symbol"))),
	}
	if !h.add(cl) {
		_ = conn.Close()
		return nil
	}

	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

func (h *Hub) add(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	h.logger.Debug("subscriber joined", xlogger.String("symbol", cl.symbol), xlogger.Int("subscribers", len(h.clients)))
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}

// readPump discards inbound frames and detects disconnects.
func (h *Hub) readPump(cl *client) {
	defer func() {
		h.remove(cl)
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends v to every matching subscriber without blocking.
func (h *Hub) Broadcast(v *models.Verdict) {
	if v == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal verdict", xlogger.Error(err))
		return
	}
	symbol := strings.ToUpper(v.Symbol)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if cl.symbol != "" && cl.symbol != symbol {
			continue
		}
		select {
		case cl.send <- b:
		default:
			h.logger.Warn("subscriber too slow, verdict dropped", xlogger.String("verdict_id", v.VerdictID))
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		delete(h.clients, cl)
		close(cl.send)
	}
}

var _ repository.VerdictBroadcaster = (*Hub)(nil)
