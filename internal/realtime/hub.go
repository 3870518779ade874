// Package realtime streams reputation engine events over WebSocket.
//
// Clients connect to /ws and receive every committed event by default. A
// client narrows its stream by sending a Subscription as a JSON text
// message at any time.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/mbd888/repscore/internal/metrics"
	"github.com/mbd888/repscore/internal/reputation"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType for real-time events
type EventType string

const (
	EventScoreUpdated   EventType = "score_updated"
	EventUserRegistered EventType = "user_registered"
	EventRiskAssessed   EventType = "risk_assessed"
)

// Event is one message on the stream.
type Event struct {
	Type      EventType `json:"type"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ScoreUpdate is the payload of score_updated.
type ScoreUpdate struct {
	ActivityID   uint64 `json:"activityId"`
	ActivityType string `json:"activityType"`
	Amount       uint64 `json:"amount"`
	ScoreImpact  int64  `json:"scoreImpact"`
	NewScore     uint64 `json:"newScore"`
	Block        uint64 `json:"block"`
}

// Registration is the payload of user_registered.
type Registration struct {
	Score uint64 `json:"score"`
	Block uint64 `json:"block"`
}

// RiskAssessment is the payload of risk_assessed.
type RiskAssessment struct {
	RiskLevel uint64 `json:"riskLevel"`
	Score     uint64 `json:"score"`
	Block     uint64 `json:"block"`
}

// Subscription filters for a client
type Subscription struct {
	AllEvents    bool        `json:"allEvents"`
	EventTypes   []EventType `json:"eventTypes"`
	Users        []string    `json:"users"`        // Watch specific users
	MinRiskLevel uint64      `json:"minRiskLevel"` // Only assessments at or above this
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
const MaxClients = 10000

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
	now        func() time.Time

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		now:        time.Now,
	}
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
				if client.matches(event) {
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

// matches checks if event passes the client's subscription
func (c *Client) matches(event *Event) bool {
	c.mu.RLock()
	sub := c.sub
	c.mu.RUnlock()
	return sub.matches(event)
}

func (s Subscription) matches(event *Event) bool {
	if s.AllEvents {
		return true
	}

	if len(s.EventTypes) > 0 {
		matched := false
		for _, t := range s.EventTypes {
			if t == event.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(s.Users) > 0 {
		matched := false
		for _, u := range s.Users {
			if strings.EqualFold(u, event.User) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if s.MinRiskLevel > 0 && event.Type == EventRiskAssessed {
		if ra, ok := event.Data.(RiskAssessment); ok && ra.RiskLevel < s.MinRiskLevel {
			return false
		}
	}

	return true
}

func (h *Hub) serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast sends an event to all matching clients
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", string(event.Type))
	}
}

// EmitRegistered implements reputation.EventEmitter.
func (h *Hub) EmitRegistered(p *reputation.Profile) {
	h.Broadcast(&Event{
		Type:      EventUserRegistered,
		User:      p.User.Hex(),
		Timestamp: h.now(),
		Data:      Registration{Score: p.ReputationScore, Block: p.RegistrationBlock},
	})
}

// EmitScoreUpdated implements reputation.EventEmitter.
func (h *Hub) EmitScoreUpdated(p *reputation.Profile, rec *reputation.ActivityRecord) {
	h.Broadcast(&Event{
		Type:      EventScoreUpdated,
		User:      p.User.Hex(),
		Timestamp: h.now(),
		Data: ScoreUpdate{
			ActivityID:   rec.ID,
			ActivityType: rec.ActivityType.String(),
			Amount:       rec.Amount,
			ScoreImpact:  rec.ScoreImpact,
			NewScore:     p.ReputationScore,
			Block:        rec.Timestamp,
		},
	})
}

// EmitRiskAssessed implements reputation.EventEmitter.
func (h *Hub) EmitRiskAssessed(user common.Address, riskLevel, score, at uint64) {
	h.Broadcast(&Event{
		Type:      EventRiskAssessed,
		User:      user.Hex(),
		Timestamp: h.now(),
		Data:      RiskAssessment{RiskLevel: riskLevel, Score: score, Block: at},
	})
}

var _ reputation.EventEmitter = (*Hub)(nil)

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
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

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true}, // Default: all events
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// ServeHTTP makes the hub mountable as an http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// readPump reads subscription updates from the client
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
				c.hub.logger.Warn("websocket read error", "error", err)
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
				c.hub.logger.Warn("websocket write error", "error", err)
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
