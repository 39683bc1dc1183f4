package push

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"silvercare/pkg/logger"
	"silvercare/pkg/metrics"
)

// Event names streamed over the live channel.
const (
	EventConnected         = "connected"
	EventEmergencyAlert    = "emergency-alert"
	EventAlertStatusUpdate = "alert-status-update"
	EventNotification      = "notification"
	EventUnreadCount       = "unread-count"
	EventHeartbeat         = "heartbeat"
)

// Envelope is one queued event on a connection.
type Envelope struct {
	Event string
	Data  []byte
}

// Conn is one live client connection. A user may hold several at once
// (multiple tabs or devices); each gets its own send queue so ordering
// holds per connection.
type Conn struct {
	ID     string
	UserID uint

	ch   chan Envelope
	done chan struct{}
	once sync.Once
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed when the hub tears the connection down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// C is the connection's ordered event stream; the transport binding
// drains it.
func (c *Conn) C() <-chan Envelope { return c.ch }

// Hub is the process-wide registry of live connections. All access is
// safe for concurrent connect/disconnect, fanout and heartbeat sweeps;
// a send that cannot be queued removes the connection on the spot.
type Hub struct {
	mu    sync.RWMutex
	users map[uint]map[string]*Conn
	count int64

	idleTimeout time.Duration
	bufferSize  int
	closed      bool
}

// NewHub creates the registry. idleTimeout bounds a connection's
// maximum lifetime; clients are expected to reconnect after it fires.
func NewHub(idleTimeout time.Duration) *Hub {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Hub{
		users:       make(map[uint]map[string]*Conn),
		idleTimeout: idleTimeout,
		bufferSize:  64,
	}
}

// Register creates and registers a handle for the user and queues the
// initial connected event on it.
func (h *Hub) Register(userID uint) *Conn {
	conn := &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		ch:     make(chan Envelope, h.bufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.close()
		return conn
	}
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]*Conn)
	}
	h.users[userID][conn.ID] = conn
	atomic.AddInt64(&h.count, 1)
	h.mu.Unlock()

	metrics.LiveConnections.Inc()
	logger.Debug("connection registered",
		zap.String("conn", conn.ID), zap.Uint("user", userID))

	h.deliver(conn, EventConnected, mustMarshal(map[string]string{"connectionId": conn.ID}))
	return conn
}

// Remove unregisters a single handle; safe to call more than once.
func (h *Hub) Remove(conn *Conn) {
	h.mu.Lock()
	if conns, ok := h.users[conn.UserID]; ok {
		if _, ok := conns[conn.ID]; ok {
			delete(conns, conn.ID)
			if len(conns) == 0 {
				delete(h.users, conn.UserID)
			}
			atomic.AddInt64(&h.count, -1)
			metrics.LiveConnections.Dec()
		}
	}
	h.mu.Unlock()
	conn.close()
}

// CloseUser force-closes every handle the user holds.
func (h *Hub) CloseUser(userID uint) {
	h.mu.Lock()
	conns := h.users[userID]
	delete(h.users, userID)
	n := len(conns)
	atomic.AddInt64(&h.count, -int64(n))
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
		metrics.LiveConnections.Dec()
	}
}

// Send pushes an event to every live handle the user holds. Handles
// whose queue cannot accept the event are assumed dead and removed.
// Returns whether at least one handle accepted the event; a user with
// no connections is a no-op, not an error.
func (h *Hub) Send(userID uint, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("push payload marshal failed", zap.Error(err))
		return false
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := false
	for _, conn := range conns {
		if h.deliver(conn, event, data) {
			delivered = true
		}
	}
	return delivered
}

// Broadcast pushes an event to every connected user.
func (h *Hub) Broadcast(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("push payload marshal failed", zap.Error(err))
		return
	}

	for _, conn := range h.snapshot() {
		h.deliver(conn, event, data)
	}
}

// Heartbeat sends a heartbeat event to every handle. Half-open
// connections cannot drain their queue and get pruned here rather than
// lingering until the next real fanout.
func (h *Hub) Heartbeat() {
	data := mustMarshal(map[string]int64{"ts": time.Now().Unix()})
	for _, conn := range h.snapshot() {
		h.deliver(conn, EventHeartbeat, data)
	}
}

// Close drains the registry at shutdown, force-closing all handles.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*Conn, 0, atomic.LoadInt64(&h.count))
	for _, conns := range h.users {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	h.users = make(map[uint]map[string]*Conn)
	atomic.StoreInt64(&h.count, 0)
	h.mu.Unlock()

	for _, conn := range all {
		conn.close()
	}
	metrics.LiveConnections.Set(0)
	logger.Info("push hub closed", zap.Int("connections", len(all)))
}

func (h *Hub) ConnectionCount() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *Hub) UserConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// deliver queues one event on one handle. A full queue means the
// remote end stopped reading; the handle is removed, no retry.
func (h *Hub) deliver(conn *Conn, event string, data []byte) bool {
	select {
	case <-conn.done:
		return false
	default:
	}

	select {
	case conn.ch <- Envelope{Event: event, Data: data}:
		metrics.PushEventsSent.WithLabelValues(event).Inc()
		return true
	default:
		metrics.PushSendFailures.Inc()
		logger.Warn("send queue full, dropping connection",
			zap.String("conn", conn.ID), zap.Uint("user", conn.UserID))
		h.Remove(conn)
		return false
	}
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := make([]*Conn, 0, atomic.LoadInt64(&h.count))
	for _, conns := range h.users {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	return all
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
