package progressws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
)

// Hub pushes progress events to WebSocket clients. Each connection is scoped
// to one user; events for other users are not delivered to it. The hub is a
// ProgressSink, so it receives events through the publisher's buffered
// delivery and never back-pressures the pipeline.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]string // conn -> userID
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and registers the connection. The user is
// identified by the user_id query parameter; authentication happens upstream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.addClient(userID, conn)
}

func (h *Hub) addClient(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = userID
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Progress client connected",
		zap.String("user_id", userID),
		zap.Int("total_clients", total))

	// Reader loop exists only to detect disconnects.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	total := len(h.clients)
	h.mu.Unlock()
	conn.Close()
	h.logger.Info("Progress client disconnected", zap.Int("total_clients", total))
}

// Publish sends the event to every connection belonging to the user.
func (h *Hub) Publish(userID string, event core.ProgressEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn, owner := range h.clients {
		if owner == userID {
			conns = append(conns, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debug("Failed to push progress event", zap.Error(err))
			h.removeClient(conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
