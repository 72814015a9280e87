// Package realtime streams risk decisions to dashboards over WebSocket.
//
// Every scored transaction is published as an event. Clients narrow the
// stream by sending a Subscription message (event types, risk levels,
// recommendations, minimum score).
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fashun/riskguard/internal/fraud"
	"github.com/fashun/riskguard/internal/metrics"
)

var _ fraud.Publisher = (*Hub)(nil)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// EventType for real-time events
type EventType string

const (
	// EventAssessment is a normally scored transaction.
	EventAssessment EventType = "risk_assessment"
	// EventFallback is a transaction that received the fallback score.
	EventFallback EventType = "risk_fallback"
)

// Event represents a real-time event
type Event struct {
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      *AssessmentEvent `json:"data"`
}

// AssessmentEvent is the streamed view of an assessment. Factor details
// are reduced to their types.
type AssessmentEvent struct {
	AssessmentID   string   `json:"assessmentId"`
	OrderID        string   `json:"orderId"`
	Score          int      `json:"score"`
	Level          string   `json:"level"`
	Recommendation string   `json:"recommendation"`
	Confidence     int      `json:"confidence"`
	FactorTypes    []string `json:"factorTypes"`
}

// Subscription filters for a client. Empty filters match everything.
type Subscription struct {
	EventTypes      []EventType `json:"eventTypes"`
	Levels          []string    `json:"levels"`
	Recommendations []string    `json:"recommendations"`
	MinScore        int         `json:"minScore"`
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 1000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	upgrader   websocket.Upgrader

	// Stats
	totalEvents  atomic.Int64
	droppedEvts  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub. Browser connections are accepted
// from the same host or from allowedOrigins.
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			host := r.Host
			if origin == "http://"+host || origin == "https://"+host {
				return true
			}
			return slices.Contains(allowedOrigins, origin) || slices.Contains(allowedOrigins, "*")
		},
	}
	return h
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			payload := h.serialize(event)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, event) {
					select {
					case client.send <- payload:
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
				h.logger.Warn("dropped slow websocket clients", "count", len(slow))
			}
		}
	}
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if len(sub.EventTypes) > 0 && !slices.Contains(sub.EventTypes, event.Type) {
		return false
	}
	d := event.Data
	if d == nil {
		return true
	}
	if len(sub.Levels) > 0 && !slices.Contains(sub.Levels, d.Level) {
		return false
	}
	if len(sub.Recommendations) > 0 && !slices.Contains(sub.Recommendations, d.Recommendation) {
		return false
	}
	return d.Score >= sub.MinScore
}

func (h *Hub) serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast sends an event to all matching clients. It never blocks; when
// the queue is full the event is dropped.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.droppedEvts.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// PublishAssessment streams a scored transaction.
func (h *Hub) PublishAssessment(a *fraud.Assessment) {
	types := make([]string, 0, len(a.Factors))
	for _, f := range a.Factors {
		types = append(types, f.Type)
	}
	evType := EventAssessment
	if a.Fallback {
		evType = EventFallback
	}
	h.Broadcast(&Event{
		Type:      evType,
		Timestamp: a.EvaluatedAt,
		Data: &AssessmentEvent{
			AssessmentID:   a.ID,
			OrderID:        a.OrderID,
			Score:          a.Score,
			Level:          string(a.Level),
			Recommendation: string(a.Recommendation),
			Confidence:     a.Confidence,
			FactorTypes:    types,
		},
	})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"droppedEvents":    h.droppedEvts.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads subscription updates from the client.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			break
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
