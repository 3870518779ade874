package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/mbd888/repscore/internal/reputation"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func newTestClient(h *Hub, sub Subscription) *Client {
	c := &Client{hub: h, send: make(chan []byte, 256), sub: sub}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

// ---------------------------------------------------------------------------
// subscription tests
// ---------------------------------------------------------------------------

func TestSubscription_AllEvents(t *testing.T) {
	sub := Subscription{AllEvents: true, EventTypes: []EventType{EventRiskAssessed}}
	if !sub.matches(&Event{Type: EventScoreUpdated}) {
		t.Error("AllEvents overrides every other filter")
	}
}

func TestSubscription_EventTypeFilter(t *testing.T) {
	sub := Subscription{EventTypes: []EventType{EventScoreUpdated, EventUserRegistered}}

	if !sub.matches(&Event{Type: EventScoreUpdated}) {
		t.Error("Should receive score_updated events")
	}
	if !sub.matches(&Event{Type: EventUserRegistered}) {
		t.Error("Should receive user_registered events")
	}
	if sub.matches(&Event{Type: EventRiskAssessed}) {
		t.Error("Should NOT receive risk_assessed events")
	}
}

func TestSubscription_UserFilter(t *testing.T) {
	sub := Subscription{Users: []string{strings.ToLower(alice.Hex())}}

	if !sub.matches(&Event{Type: EventScoreUpdated, User: alice.Hex()}) {
		t.Error("Should match user case-insensitively")
	}
	if sub.matches(&Event{Type: EventScoreUpdated, User: bob.Hex()}) {
		t.Error("Should NOT match other users")
	}
}

func TestSubscription_MinRiskLevel(t *testing.T) {
	sub := Subscription{MinRiskLevel: 5}

	if sub.matches(&Event{Type: EventRiskAssessed, Data: RiskAssessment{RiskLevel: 4}}) {
		t.Error("Should NOT receive assessments below the minimum")
	}
	if !sub.matches(&Event{Type: EventRiskAssessed, Data: RiskAssessment{RiskLevel: 6}}) {
		t.Error("Should receive assessments above the minimum")
	}
	if !sub.matches(&Event{Type: EventScoreUpdated, Data: ScoreUpdate{}}) {
		t.Error("MinRiskLevel should only apply to risk_assessed")
	}
}

func TestSubscription_Empty(t *testing.T) {
	if !(Subscription{}).matches(&Event{Type: EventScoreUpdated}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := startHub(t)
	client := newTestClient(h, Subscription{AllEvents: true})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_EmitScoreUpdated(t *testing.T) {
	h := startHub(t)
	client := newTestClient(h, Subscription{AllEvents: true})

	h.EmitScoreUpdated(
		&reputation.Profile{User: alice, ReputationScore: 510},
		&reputation.ActivityRecord{ID: 7, User: alice, ActivityType: reputation.LoanRepaid, Amount: 99, Timestamp: 1200, ScoreImpact: 10},
	)

	ev := receive(t, client)
	if ev.Type != EventScoreUpdated || ev.User != alice.Hex() {
		t.Fatalf("unexpected event %+v", ev)
	}
	data := ev.Data.(map[string]any)
	if data["activityType"] != "loan_repaid" || data["newScore"].(float64) != 510 || data["activityId"].(float64) != 7 {
		t.Errorf("unexpected payload %v", data)
	}
}

func TestHub_EmitRegisteredAndAssessed(t *testing.T) {
	h := startHub(t)
	client := newTestClient(h, Subscription{Users: []string{bob.Hex()}})

	h.EmitRegistered(&reputation.Profile{User: alice, ReputationScore: 500})
	h.EmitRegistered(&reputation.Profile{User: bob, ReputationScore: 500, RegistrationBlock: 3})
	h.EmitRiskAssessed(bob, 4, 500, 10)

	ev := receive(t, client)
	if ev.Type != EventUserRegistered || ev.User != bob.Hex() {
		t.Fatalf("expected bob's registration first, got %+v", ev)
	}
	ev = receive(t, client)
	if ev.Type != EventRiskAssessed {
		t.Fatalf("expected risk_assessed, got %+v", ev)
	}
	if got := ev.Data.(map[string]any)["riskLevel"].(float64); got != 4 {
		t.Errorf("riskLevel = %v, want 4", got)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Narrow the stream to risk assessments only.
	if err := conn.WriteJSON(Subscription{EventTypes: []EventType{EventRiskAssessed}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.EmitRegistered(&reputation.Profile{User: alice})
	h.EmitRiskAssessed(alice, 6, 460, 1200)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventRiskAssessed {
		t.Errorf("expected risk_assessed, got %s", ev.Type)
	}
}
