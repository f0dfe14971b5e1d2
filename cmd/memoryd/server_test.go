package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/coda-voice/coda-go-sdk/events"
	"github.com/coda-voice/coda-go-sdk/memory"
	"github.com/coda-voice/coda-go-sdk/memory/embedder/mock"
	"github.com/coda-voice/coda-go-sdk/memory/store/chromem"
)

// promauto registers on the process-global default registry, so every
// test server gets its own metrics namespace.
var testNamespace atomic.Int64

func newTestServer(t *testing.T, cfg *memory.Config, opts ...memory.Option) *httptest.Server {
	t.Helper()

	var store memory.Store
	if cfg.LongTermEnabled {
		st, err := chromem.New(chromem.Config{Path: filepath.Join(t.TempDir(), "memories")})
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		store = st
	}
	mgr, err := memory.NewManager(cfg, mock.New(), store, opts...)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	hub := events.NewHub()
	t.Cleanup(func() { hub.Close() })

	metrics := NewMetrics(fmt.Sprintf("memoryd_test_%d", testNamespace.Add(1)))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(mgr, hub, metrics, logger).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doGet(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Decode %s failed: %v", url, err)
		}
	}
	return resp.StatusCode
}

func doPost(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Decode %s failed: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServerHealth(t *testing.T) {
	srv := newTestServer(t, &memory.Config{LongTermEnabled: true})

	var body struct {
		Status    string `json:"status"`
		SessionID string `json:"session_id"`
	}
	if status := doGet(t, srv.URL+"/healthz", &body); status != http.StatusOK {
		t.Fatalf("Status = %d", status)
	}
	if body.Status != "ok" || body.SessionID == "" {
		t.Errorf("Body = %+v", body)
	}
	if status := doGet(t, srv.URL+"/readyz", nil); status != http.StatusOK {
		t.Errorf("readyz status = %d", status)
	}
}

func TestServerTurnsAndContext(t *testing.T) {
	srv := newTestServer(t, &memory.Config{LongTermEnabled: true})

	var turn struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Sequence int    `json:"sequence"`
	}
	status := doPost(t, srv.URL+"/v1/turns",
		`{"role":"system","content":"You are Coda, a helpful voice assistant."}`, &turn)
	if status != http.StatusCreated {
		t.Fatalf("Status = %d", status)
	}
	if turn.Role != "system" || turn.Sequence != 0 {
		t.Errorf("Turn = %+v", turn)
	}
	doPost(t, srv.URL+"/v1/turns", `{"role":"user","content":"hello there"}`, nil)

	var ctxBody struct {
		Turns []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"turns"`
	}
	if status := doGet(t, srv.URL+"/v1/context?input=hello", &ctxBody); status != http.StatusOK {
		t.Fatalf("Context status = %d", status)
	}
	if len(ctxBody.Turns) != 2 || ctxBody.Turns[0].Role != "system" {
		t.Errorf("Context turns = %+v", ctxBody.Turns)
	}

	var errBody errorResponse
	if status := doPost(t, srv.URL+"/v1/turns", `{"role":"memory","content":"x"}`, &errBody); status != http.StatusBadRequest {
		t.Errorf("Memory role status = %d", status)
	}
	if errBody.Code != "invalid_input" {
		t.Errorf("Code = %q", errBody.Code)
	}
	if status := doPost(t, srv.URL+"/v1/turns", `{"role":"user",`, &errBody); status != http.StatusBadRequest {
		t.Errorf("Malformed JSON status = %d", status)
	}
	if status := doPost(t, srv.URL+"/v1/turns",
		`{"role":"user","content":"hi","extra":true}`, &errBody); status != http.StatusBadRequest {
		t.Errorf("Unknown field status = %d", status)
	}
	if status := doGet(t, srv.URL+"/v1/context?max_tokens=lots", &errBody); status != http.StatusBadRequest {
		t.Errorf("Bad max_tokens status = %d", status)
	}
}

func TestServerFactsAndSearch(t *testing.T) {
	srv := newTestServer(t, &memory.Config{LongTermEnabled: true})

	var created struct {
		ID string `json:"id"`
	}
	status := doPost(t, srv.URL+"/v1/facts", `{"content":"My dog is named Max"}`, &created)
	if status != http.StatusCreated {
		t.Fatalf("Status = %d", status)
	}
	if created.ID == "" {
		t.Fatal("No ID returned")
	}

	var rec struct {
		ID         string  `json:"id"`
		Content    string  `json:"content"`
		SourceType string  `json:"source_type"`
		Source     string  `json:"source"`
		Importance float64 `json:"importance"`
	}
	if status := doGet(t, srv.URL+"/v1/memories/"+created.ID, &rec); status != http.StatusOK {
		t.Fatalf("Get status = %d", status)
	}
	if rec.Content != "My dog is named Max" || rec.SourceType != "fact" {
		t.Errorf("Record = %+v", rec)
	}
	if rec.Source != "api" {
		t.Errorf("Source = %q, want the api default", rec.Source)
	}

	var search struct {
		Query   string `json:"query"`
		Count   int    `json:"count"`
		Results []struct {
			Record struct {
				ID string `json:"id"`
			} `json:"record"`
			Similarity float64 `json:"similarity"`
		} `json:"results"`
	}
	if status := doGet(t, srv.URL+"/v1/memories/search?q=my+dog", &search); status != http.StatusOK {
		t.Fatalf("Search status = %d", status)
	}
	if search.Count == 0 || search.Results[0].Record.ID != created.ID {
		t.Errorf("Search = %+v", search)
	}

	if status := doGet(t, srv.URL+"/v1/memories/search?q=zzz+qqq&min_similarity=0.99", &search); status != http.StatusOK {
		t.Fatalf("Search status = %d", status)
	}
	if search.Count != 0 {
		t.Errorf("Expected no results above 0.99, got %d", search.Count)
	}

	var errBody errorResponse
	if status := doGet(t, srv.URL+"/v1/memories/search", &errBody); status != http.StatusBadRequest {
		t.Errorf("Missing q status = %d", status)
	}

	var listing struct {
		Count    int `json:"count"`
		Memories []struct {
			ID string `json:"id"`
		} `json:"memories"`
	}
	if status := doGet(t, srv.URL+"/v1/memories", &listing); status != http.StatusOK {
		t.Fatalf("List status = %d", status)
	}
	if listing.Count != 1 || listing.Memories[0].ID != created.ID {
		t.Errorf("Listing = %+v", listing)
	}
}

func TestServerPreferencesAndTopics(t *testing.T) {
	srv := newTestServer(t, &memory.Config{LongTermEnabled: true})

	var created struct {
		ID string `json:"id"`
	}
	status := doPost(t, srv.URL+"/v1/preferences",
		`{"content":"I prefer short answers","topics":["style"]}`, &created)
	if status != http.StatusCreated {
		t.Fatalf("Status = %d", status)
	}

	var rec struct {
		SourceType string  `json:"source_type"`
		Source     string  `json:"source"`
		Importance float64 `json:"importance"`
	}
	doGet(t, srv.URL+"/v1/memories/"+created.ID, &rec)
	if rec.SourceType != "preference" || rec.Source != "user" || rec.Importance != 0.8 {
		t.Errorf("Record = %+v", rec)
	}

	var topics struct {
		Topics []string `json:"topics"`
	}
	if status := doGet(t, srv.URL+"/v1/topics", &topics); status != http.StatusOK {
		t.Fatalf("Topics status = %d", status)
	}
	if len(topics.Topics) != 1 || topics.Topics[0] != "style" {
		t.Errorf("Topics = %v", topics.Topics)
	}
}

func TestServerPersistStatsClear(t *testing.T) {
	srv := newTestServer(t, &memory.Config{LongTermEnabled: true})

	for _, body := range []string{
		`{"role":"system","content":"You are Coda, a helpful voice assistant."}`,
		`{"role":"user","content":"I walked Max in the park"}`,
		`{"role":"assistant","content":"Park walks are great for dogs"}`,
	} {
		if status := doPost(t, srv.URL+"/v1/turns", body, nil); status != http.StatusCreated {
			t.Fatalf("AddTurn status = %d", status)
		}
	}

	var persisted struct {
		Chunks int `json:"chunks"`
	}
	if status := doPost(t, srv.URL+"/v1/persist", "{}", &persisted); status != http.StatusOK {
		t.Fatalf("Persist status = %d", status)
	}
	if persisted.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", persisted.Chunks)
	}

	var stats struct {
		SessionID       string `json:"session_id"`
		Turns           int    `json:"turns"`
		LongTermRecords int    `json:"long_term_records"`
		PersistedChunks int    `json:"persisted_chunks"`
		WSClients       int    `json:"ws_clients"`
	}
	if status := doGet(t, srv.URL+"/v1/stats", &stats); status != http.StatusOK {
		t.Fatalf("Stats status = %d", status)
	}
	if stats.SessionID == "" || stats.Turns != 3 {
		t.Errorf("Stats = %+v", stats)
	}
	if stats.LongTermRecords != 1 || stats.PersistedChunks != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	if status := doPost(t, srv.URL+"/v1/clear", "{}", nil); status != http.StatusOK {
		t.Fatalf("Clear status = %d", status)
	}
	doGet(t, srv.URL+"/v1/stats", &stats)
	if stats.Turns != 1 {
		t.Errorf("Turns after clear = %d, want the pinned system turn", stats.Turns)
	}
}

func TestServerErrorMapping(t *testing.T) {
	srv := newTestServer(t, &memory.Config{LongTermEnabled: true})

	var errBody errorResponse
	if status := doGet(t, srv.URL+"/v1/memories/no-such-id", &errBody); status != http.StatusNotFound {
		t.Errorf("Status = %d", status)
	}
	if errBody.Code != "not_found" {
		t.Errorf("Code = %q", errBody.Code)
	}

	if status := doPost(t, srv.URL+"/v1/summarize", "{}", &errBody); status != http.StatusNotImplemented {
		t.Errorf("Summarize status = %d", status)
	}
	if errBody.Code != "summarizer_not_configured" {
		t.Errorf("Code = %q", errBody.Code)
	}

	disabled := newTestServer(t, &memory.Config{})
	if status := doPost(t, disabled.URL+"/v1/facts", `{"content":"a fact"}`, &errBody); status != http.StatusConflict {
		t.Errorf("Disabled facts status = %d", status)
	}
	if errBody.Code != "long_term_disabled" {
		t.Errorf("Code = %q", errBody.Code)
	}
}
