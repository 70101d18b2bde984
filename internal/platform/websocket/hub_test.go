package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestClient(hub *Hub, id string, topics ...string) *Client {
	return &Client{
		ID:     id,
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newTestClient(hub, "client-1", TopicCases))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicCases) != 1 {
		t.Fatalf("expected 1 client on cases, got %d", hub.TopicCount(TopicCases))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "client-2", TopicHospitals)
	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicHospitals) != 0 {
		t.Fatalf("expected 0 clients on hospitals, got %d", hub.TopicCount(TopicHospitals))
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := newTestClient(hub, "sub-1", TopicCases)
	other := newTestClient(hub, "sub-2", TopicHospitals)
	hub.Register(subscriber)
	hub.Register(other)

	hub.Broadcast(TopicCases, Event{Type: "case.accepted", Topic: TopicCases, Subject: "7", Timestamp: time.Now()})

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Type != "case.accepted" || received.Subject != "7" {
			t.Fatalf("unexpected event: %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("hospitals subscriber should not receive a cases event")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{TopicCases}, Send: make(chan []byte, 1), hub: hub}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(TopicCases, Event{Type: "a", Topic: TopicCases})
		hub.Broadcast(TopicCases, Event{Type: "b", Topic: TopicCases})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if len(client.Send) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(client.Send))
	}
}

func TestHub_PublishFillsTimestamp(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "pub-1", TopicHospitals)
	hub.Register(client)

	if err := hub.Publish(context.Background(), Event{Type: "hospital.updated", Topic: TopicHospitals}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var received Event
	if err := json.Unmarshal(<-client.Send, &received); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if received.Timestamp.IsZero() {
		t.Error("expected Publish to set a timestamp")
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "dyn-1")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicCases, TopicHospitals, TopicCases}})
	if hub.TopicCount(TopicCases) != 1 || hub.TopicCount(TopicHospitals) != 1 {
		t.Fatalf("expected one subscriber per topic, got cases=%d hospitals=%d", hub.TopicCount(TopicCases), hub.TopicCount(TopicHospitals))
	}
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics on client, got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicCases}})
	if hub.TopicCount(TopicCases) != 0 {
		t.Fatalf("expected 0 on cases, got %d", hub.TopicCount(TopicCases))
	}
	if len(client.Topics) != 1 || client.Topics[0] != TopicHospitals {
		t.Fatalf("expected only hospitals left, got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "bogus", Topics: []string{TopicCases}})
	if hub.TopicCount(TopicCases) != 0 {
		t.Fatal("unknown action should be ignored")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(hub, "c", TopicCases)
			hub.Register(c)
			hub.Broadcast(TopicCases, Event{Type: "x", Topic: TopicCases})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Error("request without Origin should be allowed")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if !check(req) {
		t.Error("configured origin should be allowed")
	}
	req.Header.Set("Origin", "http://evil.example")
	if check(req) {
		t.Error("unknown origin should be rejected")
	}

	if !originChecker([]string{"*"})(req) {
		t.Error("wildcard should allow any origin")
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewHandler(NewHub(zerolog.Nop()), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, nil).RegisterRoutes(e)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=" + TopicCases

	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(TopicCases) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(TopicCases) != 1 {
		t.Fatalf("expected 1 subscriber on cases, got %d", hub.TopicCount(TopicCases))
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{TopicHospitals}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for hub.TopicCount(TopicHospitals) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(TopicHospitals, Event{Type: "hospital.updated", Topic: TopicHospitals, Subject: "City General Hospital"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Subject != "City General Hospital" {
		t.Fatalf("expected subject City General Hospital, got %q", received.Subject)
	}
}
