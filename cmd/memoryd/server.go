package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coda-voice/coda-go-sdk/core"
	"github.com/coda-voice/coda-go-sdk/events"
	"github.com/coda-voice/coda-go-sdk/memory"
)

// Server exposes the memory manager over HTTP: a small control API,
// Prometheus metrics, and the websocket event feed.
type Server struct {
	manager *memory.Manager
	hub     *events.Hub
	metrics *Metrics
	log     *slog.Logger
}

func NewServer(manager *memory.Manager, hub *events.Hub, metrics *Metrics, log *slog.Logger) *Server {
	return &Server{
		manager: manager,
		hub:     hub,
		metrics: metrics,
		log:     log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	r.Get("/ws", s.handleWS)

	r.Post("/v1/turns", s.handleAddTurn)
	r.Get("/v1/context", s.handleContext)
	r.Post("/v1/facts", s.handleAddFact)
	r.Post("/v1/preferences", s.handleAddPreference)
	r.Get("/v1/memories/search", s.handleSearch)
	r.Get("/v1/memories/{id}", s.handleGetMemory)
	r.Get("/v1/memories", s.handleListMemories)
	r.Get("/v1/topics", s.handleTopics)
	r.Get("/v1/stats", s.handleStats)
	r.Post("/v1/persist", s.handlePersist)
	r.Post("/v1/clear", s.handleClear)
	r.Post("/v1/summarize", s.handleSummarize)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"session_id": s.manager.SessionID(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
	s.metrics.WSClients.Set(float64(s.hub.ClientCount()))
}

type addTurnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleAddTurn(w http.ResponseWriter, r *http.Request) {
	var req addTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	turn, err := s.manager.AddTurn(r.Context(), core.Role(req.Role), req.Content)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, turn)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := q.Get("input")

	var opts []memory.ContextOption
	if v := q.Get("max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "max_tokens must be an integer")
			return
		}
		opts = append(opts, memory.WithContextTokens(n))
	}
	if v := q.Get("max_memories"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "max_memories must be an integer")
			return
		}
		opts = append(opts, memory.WithContextMemories(n))
	}

	turns, err := s.manager.GetEnhancedContext(r.Context(), input, opts...)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

type addFactRequest struct {
	Content    string   `json:"content"`
	Source     string   `json:"source"`
	Importance *float64 `json:"importance"`
	Topics     []string `json:"topics"`
}

func (s *Server) handleAddFact(w http.ResponseWriter, r *http.Request) {
	var req addFactRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = "api"
	}
	var opts []memory.RecordOption
	if req.Importance != nil {
		opts = append(opts, memory.WithImportance(*req.Importance))
	}
	if len(req.Topics) > 0 {
		opts = append(opts, memory.WithTopics(req.Topics...))
	}
	id, err := s.manager.AddFact(r.Context(), req.Content, req.Source, opts...)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleAddPreference(w http.ResponseWriter, r *http.Request) {
	var req addFactRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var opts []memory.RecordOption
	if req.Importance != nil {
		opts = append(opts, memory.WithImportance(*req.Importance))
	}
	if len(req.Topics) > 0 {
		opts = append(opts, memory.WithTopics(req.Topics...))
	}
	id, err := s.manager.AddPreference(r.Context(), req.Content, opts...)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}

	var opts []memory.RetrieveOption
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		opts = append(opts, memory.WithLimit(n))
	}
	if v := q.Get("min_similarity"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "min_similarity must be a number")
			return
		}
		opts = append(opts, memory.WithMinSimilarity(float32(f)))
	}
	for _, key := range []string{"source_type", "source", "topic"} {
		if v := q.Get(key); v != "" {
			opts = append(opts, memory.WithFilter(key, v))
		}
	}

	results, err := s.manager.RetrieveRelevantMemories(r.Context(), query, opts...)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.manager.GetMemoryByID(r.Context(), id)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	recs, err := s.manager.GetAllMemories(r.Context())
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(recs),
		"memories": recs,
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
			return
		}
		limit = n
	}
	topics, err := s.manager.RecentTopics(r.Context(), limit)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Stats(r.Context())
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	s.metrics.LongTermRecords.Set(float64(st.LongTermRecords))
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":              st.SessionID,
		"turns":                   st.Turns,
		"session_duration_ms":     st.SessionDuration.Milliseconds(),
		"long_term_records":       st.LongTermRecords,
		"persisted_chunks":        st.PersistedChunks,
		"assistant_since_persist": st.AssistantSincePersist,
		"ws_clients":              s.hub.ClientCount(),
	})
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.PersistShortTermMemory(r.Context())
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"chunks": n})
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.manager.ClearShortTerm()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	summary, err := s.manager.SummarizeSession(r.Context())
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// respondManagerError maps the memory error taxonomy onto HTTP codes.
func (s *Server) respondManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, memory.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, memory.ErrLongTermDisabled):
		respondError(w, http.StatusConflict, "long_term_disabled", err.Error())
	case errors.Is(err, memory.ErrNoSummarizer):
		respondError(w, http.StatusNotImplemented, "summarizer_not_configured", err.Error())
	case errors.Is(err, memory.ErrStoreClosed):
		respondError(w, http.StatusServiceUnavailable, "store_closed", err.Error())
	default:
		s.log.Error("[API] request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
