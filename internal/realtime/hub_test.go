package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fashun/riskguard/internal/fraud"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func assessmentEvent(level, rec string, score int) *Event {
	return &Event{
		Type:      EventAssessment,
		Timestamp: time.Now(),
		Data:      &AssessmentEvent{Level: level, Recommendation: rec, Score: score},
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, assessmentEvent("low", "approve", 10)) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{EventTypes: []EventType{EventFallback}}}

	if h.shouldSend(client, assessmentEvent("low", "approve", 10)) {
		t.Error("Should NOT receive normal assessments")
	}
	fb := assessmentEvent("medium", "review", 50)
	fb.Type = EventFallback
	if !h.shouldSend(client, fb) {
		t.Error("Should receive fallback events")
	}
}

func TestShouldSend_LevelAndRecommendationFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{
		Levels:          []string{"high", "critical"},
		Recommendations: []string{"decline"},
	}}

	if !h.shouldSend(client, assessmentEvent("critical", "decline", 90)) {
		t.Error("Should receive critical declines")
	}
	if h.shouldSend(client, assessmentEvent("high", "review", 70)) {
		t.Error("Should NOT receive reviews")
	}
	if h.shouldSend(client, assessmentEvent("low", "decline", 10)) {
		t.Error("Should NOT receive low level")
	}
}

func TestShouldSend_MinScore(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinScore: 51}}

	if h.shouldSend(client, assessmentEvent("medium", "review", 50)) {
		t.Error("Score 50 is below minimum")
	}
	if !h.shouldSend(client, assessmentEvent("high", "review", 51)) {
		t.Error("Score 51 meets minimum")
	}
}

func TestShouldSend_NilData(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinScore: 80}}

	if !h.shouldSend(client, &Event{Type: EventAssessment}) {
		t.Error("Events without data should pass data filters")
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
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}
	h.register <- client
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

func TestHub_PublishAssessment(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}
	h.register <- client

	h.PublishAssessment(&fraud.Assessment{
		ID:             "ra_1",
		OrderID:        "ord_1",
		Score:          60,
		Level:          fraud.LevelHigh,
		Recommendation: fraud.RecommendReview,
		Confidence:     60,
		Factors:        []fraud.RiskFactor{{Type: "rule"}, {Type: "country_mismatch"}},
		EvaluatedAt:    time.Now(),
	})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad event: %v", err)
		}
		if ev.Type != EventAssessment || ev.Data.OrderID != "ord_1" || ev.Data.Score != 60 {
			t.Errorf("Unexpected event %+v", ev.Data)
		}
		if strings.Join(ev.Data.FactorTypes, ",") != "rule,country_mismatch" {
			t.Errorf("Unexpected factor types %v", ev.Data.FactorTypes)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for broadcast")
	}
}

func TestHub_FallbackEventType(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{EventTypes: []EventType{EventFallback}}}
	h.register <- client

	h.PublishAssessment(&fraud.Assessment{OrderID: "ok", Score: 10, Level: fraud.LevelLow})
	h.PublishAssessment(&fraud.Assessment{OrderID: "fb", Score: 50, Level: fraud.LevelMedium, Fallback: true})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), `"orderId":"fb"`) {
			t.Errorf("Expected only the fallback event, got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for fallback event")
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

// ---------------------------------------------------------------------------
// WebSocket round trip
// ---------------------------------------------------------------------------

func TestHub_WebSocketSubscription(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Subscription{Recommendations: []string{"decline"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.PublishAssessment(&fraud.Assessment{OrderID: "ord_ok", Score: 5, Level: fraud.LevelLow, Recommendation: fraud.RecommendApprove})
	h.PublishAssessment(&fraud.Assessment{OrderID: "ord_bad", Score: 95, Level: fraud.LevelCritical, Recommendation: fraud.RecommendDecline})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Data == nil || ev.Data.OrderID != "ord_bad" {
		t.Errorf("Expected only the declined order, got %+v", ev.Data)
	}
}
