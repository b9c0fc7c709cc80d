package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sablesec/strikepoint/internal/telemetry"
)

const (
	maxConnections = 200
	writeTimeout   = 5 * time.Second
	// snapshot queue depth; publishes beyond it are dropped, never blocked on
	queueDepth = 256
)

// Snapshot is one telemetry update fanned out to dashboard subscribers.
type Snapshot struct {
	TenantID    string            `json:"tenant_id"`
	CollectorID string            `json:"collector_id"`
	Sample      *telemetry.Sample `json:"sample"`
}

type registration struct {
	conn     *websocket.Conn
	tenantID string
}

// Hub fans telemetry snapshots out to WebSocket clients, one broadcaster
// goroutine for all connections. Publishing is fire-and-forget: a slow or
// full hub drops the snapshot rather than slowing the ingest path.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]string
	register   chan registration
	unregister chan *websocket.Conn
	snapshots  chan Snapshot
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		snapshots:  make(chan Snapshot, queueDepth),
	}
}

// Run is the hub main loop; it owns all connection membership changes.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				reg.conn.Close()
				slog.Warn("WebSocket connection rejected, hub full", "max", maxConnections)
				continue
			}
			h.clients[reg.conn] = reg.tenantID
			total := len(h.clients)
			h.mu.Unlock()
			slog.Debug("WebSocket client registered", "tenant_id", reg.tenantID, "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case snap := <-h.snapshots:
			h.broadcast(snap)
		}
	}
}

// Publish enqueues a snapshot for broadcast. Never blocks; returns false if
// the snapshot was dropped because the queue was full.
func (h *Hub) Publish(snap Snapshot) bool {
	select {
	case h.snapshots <- snap:
		return true
	default:
		return false
	}
}

// PublishSnapshot satisfies telemetry.SnapshotPublisher.
func (h *Hub) PublishSnapshot(tenantID string, sample *telemetry.Sample) {
	if !h.Publish(Snapshot{TenantID: tenantID, CollectorID: sample.CollectorID, Sample: sample}) {
		slog.Debug("Telemetry snapshot dropped, hub queue full", "collector_id", sample.CollectorID)
	}
}

func (h *Hub) broadcast(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, tenantID := range h.clients {
		if tenantID != snap.TenantID {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			slog.Debug("WebSocket write failed", "error", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
}

// Register adds a client connection scoped to a tenant.
func (h *Hub) Register(conn *websocket.Conn, tenantID string) {
	h.register <- registration{conn: conn, tenantID: tenantID}
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
