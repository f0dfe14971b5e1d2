package events_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coda-voice/coda-go-sdk/events"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	time.Sleep(100 * time.Millisecond)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}

	hub.Emit(events.New(events.TypeMemoryStore, "session-1", events.MemoryStore{
		ContentPreview: "My dog is named Max",
		MemoryType:     "fact",
		Importance:     0.5,
		MemoryID:       "mem-1",
	}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var got struct {
		Version   string `json:"version"`
		Seq       uint64 `json:"seq"`
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Payload   struct {
			ContentPreview string  `json:"content_preview"`
			MemoryType     string  `json:"memory_type"`
			Importance     float64 `json:"importance"`
			MemoryID       string  `json:"memory_id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Client received invalid JSON: %v", err)
	}
	if got.Version != events.Version || got.Type != "memory_store" || got.Seq == 0 {
		t.Errorf("Envelope = %+v", got)
	}
	if got.SessionID != "session-1" || got.Payload.MemoryID != "mem-1" {
		t.Errorf("Payload = %+v", got.Payload)
	}
	if got.Payload.ContentPreview != "My dog is named Max" || got.Payload.Importance != 0.5 {
		t.Errorf("Payload = %+v", got.Payload)
	}
}

func TestHubMultipleClients(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	first := dialHub(t, srv)
	second := dialHub(t, srv)
	time.Sleep(100 * time.Millisecond)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}

	hub.Emit(events.New(events.TypeConversationTurn, "s",
		events.ConversationTurn{Role: "user", Content: "hello"}))

	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Errorf("Client %d missed the broadcast: %v", i, err)
		}
	}
}

func TestHubClientDisconnect(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	time.Sleep(100 * time.Millisecond)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount after disconnect = %d, want 0", got)
	}

	// Broadcasting into an empty hub is a no-op.
	hub.Emit(events.New(events.TypeConversationTurn, "s",
		events.ConversationTurn{Role: "user", Content: "anyone there"}))
}

func TestHubCloseRejectsNewClients(t *testing.T) {
	hub := events.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	if err := hub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Errorf("Second close = %v", err)
	}

	// The handshake may still complete, but the connection is shut
	// immediately and never registered.
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if conn, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("Expected the connection to be closed")
		}
		conn.Close()
	}
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0 after close", got)
	}
}
