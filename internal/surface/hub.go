package surface

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"
	"CryptoAgent/pkg/logger"

	"github.com/gorilla/websocket"
)

const maxInboundMessage = 512

// HubOption configures Hub.
type HubOption func(*Hub)

// WithPingInterval sets the keepalive period. Viewers that miss two pongs are dropped.
func WithPingInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithSendBuffer sets the per-viewer queue size. A viewer whose queue is full is dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l *logger.Logger) HubOption {
	return func(h *Hub) { h.log = l.Component("surface-hub") }
}

// WithHubMetrics sets the metrics recorder.
func WithHubMetrics(m repository.Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub fans surface ops out to websocket viewers, one room per panel.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	log          *logger.Logger
	metrics      repository.Metrics

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

type room struct {
	mu      sync.Mutex
	surface *Canvas
	viewers map[*viewer]struct{}
	removed bool
}

func (rm *room) idleLocked() bool { return rm.surface == nil && len(rm.viewers) == 0 }

type viewer struct {
	send   chan []byte
	primed bool
	once   sync.Once
}

func (v *viewer) stop() { v.once.Do(func() { close(v.send) }) }

// NewHub creates a hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		sendBuffer:   64,
		log:          logger.Nop(),
		metrics:      repository.NopMetrics{},
		rooms:        make(map[string]*room),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// lockRoom returns the panel's room with its lock held, or nil when it does not exist
// and create is false.
func (h *Hub) lockRoom(panelID string, create bool) *room {
	for {
		h.mu.Lock()
		rm, ok := h.rooms[panelID]
		if !ok && create {
			rm = &room{viewers: make(map[*viewer]struct{})}
			h.rooms[panelID] = rm
		}
		h.mu.Unlock()
		if rm == nil {
			return nil
		}
		rm.mu.Lock()
		if !rm.removed {
			return rm
		}
		rm.mu.Unlock()
	}
}

// prune forgets the room once it has neither a surface nor viewers.
func (h *Hub) prune(panelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[panelID]
	if !ok {
		return
	}
	rm.mu.Lock()
	if rm.idleLocked() {
		rm.removed = true
		delete(h.rooms, panelID)
	}
	rm.mu.Unlock()
}

// Attach makes c the current surface of the panel. Viewers still waiting for their
// first snapshot get the (empty) scene of the new surface.
func (h *Hub) Attach(panelID string, c *Canvas) {
	rm := h.lockRoom(panelID, true)
	defer rm.mu.Unlock()
	rm.surface = c
	scene := models.Scene{SurfaceID: c.ID(), Key: c.Key()}
	msg, err := json.Marshal(Op{Type: OpSnapshot, SurfaceID: c.ID(), Scene: &scene})
	if err != nil {
		return
	}
	for v := range rm.viewers {
		if !v.primed {
			h.deliverLocked(rm, v, msg)
		}
	}
}

// Observe broadcasts one op of the panel's surface.
func (h *Hub) Observe(panelID string, op Op) {
	msg, err := json.Marshal(op)
	if err != nil {
		h.log.Error("encode surface op", logger.String("panel", panelID), logger.Error(err))
		return
	}

	rm := h.lockRoom(panelID, false)
	if rm == nil {
		return
	}
	if op.Type == OpClose && rm.surface != nil && rm.surface.ID() == op.SurfaceID {
		rm.surface = nil
	}
	for v := range rm.viewers {
		switch {
		case op.Type == OpSnapshot && !v.primed:
			h.deliverLocked(rm, v, msg)
		case op.Type != OpSnapshot && v.primed:
			h.deliverLocked(rm, v, msg)
		}
	}
	idle := rm.idleLocked()
	rm.mu.Unlock()
	if idle {
		h.prune(panelID)
	}
}

// deliverLocked queues msg without blocking; a full queue drops the viewer.
func (h *Hub) deliverLocked(rm *room, v *viewer, msg []byte) {
	select {
	case v.send <- msg:
		v.primed = true
	default:
		delete(rm.viewers, v)
		v.stop()
		h.log.Warn("dropping slow viewer", logger.Int("buffer", h.sendBuffer))
	}
}

// Viewers returns the number of connected viewers of a panel.
func (h *Hub) Viewers(panelID string) int {
	rm := h.lockRoom(panelID, false)
	if rm == nil {
		return 0
	}
	defer rm.mu.Unlock()
	return len(rm.viewers)
}

// Rooms returns the number of panels with a surface or viewers.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// subscribe registers v and makes sure its first message is a snapshot.
func (h *Hub) subscribe(panelID string, v *viewer) {
	rm := h.lockRoom(panelID, true)
	rm.viewers[v] = struct{}{}
	rm.mu.Unlock()

	for {
		rm.mu.Lock()
		if _, ok := rm.viewers[v]; !ok || v.primed {
			rm.mu.Unlock()
			return
		}
		s := rm.surface
		if s == nil {
			msg, _ := json.Marshal(Op{Type: OpSnapshot, Scene: &models.Scene{}})
			h.deliverLocked(rm, v, msg)
			rm.mu.Unlock()
			return
		}
		rm.mu.Unlock()

		// Delivered through Observe so it is ordered with the surface's own ops. A
		// disposed surface has already cleared itself from the room.
		if err := s.EmitSnapshot(); err == nil {
			return
		}
	}
}

func (h *Hub) unsubscribe(panelID string, v *viewer) {
	if rm := h.lockRoom(panelID, false); rm != nil {
		delete(rm.viewers, v)
		rm.mu.Unlock()
	}
	v.stop()
	h.prune(panelID)
}

// ServeWS upgrades the request and streams the panel's ops until the viewer leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, panelID string) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return nil
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	v := &viewer{send: make(chan []byte, h.sendBuffer)}
	h.metrics.ViewerConnected(1)
	defer h.metrics.ViewerConnected(-1)

	h.subscribe(panelID, v)
	h.log.Debug("viewer connected", logger.String("panel", panelID), logger.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, v)
	}()
	h.readPump(conn)

	h.unsubscribe(panelID, v)
	<-done
	h.log.Debug("viewer disconnected", logger.String("panel", panelID))
	return nil
}

// readPump discards inbound frames and keeps the read deadline alive on pong.
func (h *Hub) readPump(conn *websocket.Conn) {
	wait := 2 * h.pingInterval
	conn.SetReadLimit(maxInboundMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, v *viewer) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every viewer and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*room, 0, len(h.rooms))
	for _, rm := range h.rooms {
		rooms = append(rooms, rm)
	}
	h.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		for v := range rm.viewers {
			delete(rm.viewers, v)
			v.stop()
		}
		rm.mu.Unlock()
	}
}
