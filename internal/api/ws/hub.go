package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/andrewsiemer/matrix-os/internal/infrastructure/monitoring"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Event types sent to clients
const (
	EventHello     = "hello"
	EventFrame     = "frame"
	EventAppChange = "app_change"
	EventPong      = "pong"
)

// Event is one message on the stream. Pixels are packed RGB, base64 in
// JSON.
type Event struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id,omitempty"`
	AppID     string `json:"app_id,omitempty"`
	Previous  string `json:"previous,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Pixels    []byte `json:"pixels,omitempty"`
	Timestamp int64  `json:"ts"`
}

// Config controls the frame stream
type Config struct {
	StreamFPS    int
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultConfig returns the default stream configuration
func DefaultConfig() Config {
	return Config{
		StreamFPS:    10,
		SendBuffer:   8,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the monitor is read-mostly and CORS is open
	},
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans frames and app changes out to websocket clients. Publishing
// never blocks; slow clients lose messages.
type Hub struct {
	cfg     Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
	limiter *rate.Limiter

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// NewHub creates a hub
func NewHub(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	def := DefaultConfig()
	if cfg.StreamFPS <= 0 {
		cfg.StreamFPS = def.StreamFPS
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Limit(cfg.StreamFPS), 1),
		clients: make(map[string]*client),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishFrame streams f to every client, at most StreamFPS times a second
func (h *Hub) PublishFrame(appID string, f *frame.Frame) {
	if h.Clients() == 0 || !h.limiter.Allow() {
		return
	}
	h.broadcast(Event{
		Type:      EventFrame,
		AppID:     appID,
		Width:     f.Width(),
		Height:    f.Height(),
		Pixels:    f.Pixels(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishAppChange tells every client the current app changed
func (h *Hub) PublishAppChange(previous, current string) {
	if h.Clients() == 0 {
		return
	}
	h.broadcast(Event{
		Type:      EventAppChange,
		AppID:     current,
		Previous:  previous,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) broadcast(ev Event) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode stream event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, data)
	}
}

func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Debug("Stream client too slow, dropping event", zap.String("client_id", c.id))
	}
}

// HandleConnection upgrades the request and serves one client until it
// disconnects
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(cl) {
		_ = conn.Close()
		return
	}
	h.metrics.IncWSConnections()
	h.logger.Info("Stream client connected", zap.String("client_id", cl.id), zap.String("remote", c.ClientIP()))

	go h.writePump(cl)
	h.readPump(cl)

	h.remove(cl)
	h.metrics.DecWSConnections()
	h.logger.Info("Stream client disconnected", zap.String("client_id", cl.id))
}

// add registers cl and queues its hello before any other event
func (h *Hub) add(cl *client) bool {
	hello, err := sonic.Marshal(Event{Type: EventHello, ClientID: cl.id, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl.id] = cl
	cl.send <- hello
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl.id)
	h.mu.Unlock()
	cl.close()
}

func (h *Hub) readPump(cl *client) {
	cl.conn.SetReadLimit(512)
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := cl.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "ping" {
			if data, err := sonic.Marshal(Event{Type: EventPong, Timestamp: time.Now().UnixMilli()}); err == nil {
				h.enqueue(cl, data)
			}
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ping.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case data := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				cl.close()
				return
			}
		case <-ping.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				cl.close()
				return
			}
		}
	}
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, cl := range h.clients {
		cl.close()
	}
}
