package handlers

import (
	"net/http"
	"sync"
	"time"

	"go-bridge/internal/events"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler streams bridge lifecycle events to connected clients.
type WebSocketHandler struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
	logger   *logrus.Logger

	mu      sync.Mutex
	clients map[string]chan events.Event
}

// NewWebSocketHandler creates the handler and hooks it into the event bus.
func NewWebSocketHandler(bus *events.Bus, logger *logrus.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &WebSocketHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[string]chan events.Event),
	}
	bus.Subscribe(h.broadcast)
	return h
}

// broadcast fans an event out to all connected clients. Slow clients drop
// events rather than blocking the bus.
func (h *WebSocketHandler) broadcast(evt events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- evt:
		default:
			h.logger.WithField("client", id).Debug("WebSocket client lagging, event dropped")
		}
	}
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithField("error", err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	messageChan := make(chan events.Event, 256)

	h.mu.Lock()
	h.clients[clientID] = messageChan
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
	}()

	h.logger.WithField("client", clientID).Info("WebSocket client connected")

	// Reader goroutine: drain control frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			h.logger.WithField("client", clientID).Info("WebSocket client disconnected")
			return
		case evt := <-messageChan:
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
