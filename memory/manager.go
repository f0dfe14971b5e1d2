package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coda-voice/coda-go-sdk/core"
	"github.com/coda-voice/coda-go-sdk/events"
)

const (
	// previewLen caps content previews in events and logs.
	previewLen = 100

	// defaultRetrieveLimit is the result cap when the caller does not
	// set one.
	defaultRetrieveLimit = 5
)

// Manager orchestrates the two memory tiers for one conversation
// session.
//
// Turns flow into short-term memory as the conversation runs. Every
// PersistInterval assistant turns, the manager chunks the conversation
// and writes it through to long-term memory in the background. Facts
// and preferences are captured explicitly, and context for the next
// model call is assembled from both tiers within a token budget.
//
// All methods are safe for concurrent use. Embedding and storage never
// run under the manager's lock.
type Manager struct {
	cfg      *Config
	embedder Embedder
	store    Store
	log      *slog.Logger
	sink     events.Sink
	summ     Summarizer

	sessionID string
	shortTerm *ShortTermMemory

	mu              sync.Mutex
	assistantSince  int // assistant turns since the last successful persist
	persistInFlight bool
	persistedSeq    int // highest turn sequence already written through
	chunksWritten   int // lifetime count of persisted chunks
	closed          bool

	persistMu sync.Mutex // serializes persist runs
	persistWG sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink delivers operation events to s. Sinks observe only: they
// run after an operation succeeds and cannot alter its result.
func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithLogger replaces the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithSummarizer enables SummarizeSession.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.summ = s }
}

// WithSessionID overrides the generated session ID, for resuming a
// known session.
func WithSessionID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.sessionID = id
		}
	}
}

// NewManager creates a Manager. A nil cfg means DefaultConfig; a
// partially filled cfg has zero-valued numeric fields filled from the
// defaults. The embedder is always required; the store only when
// long-term memory is enabled.
func NewManager(cfg *Config, embedder Embedder, store Store, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("memory config: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidInput)
	}
	if cfg.LongTermEnabled && store == nil {
		return nil, fmt.Errorf("%w: store is required when long-term memory is enabled", ErrInvalidInput)
	}

	m := &Manager{
		cfg:          cfg,
		embedder:     embedder,
		store:        store,
		log:          slog.Default(),
		sessionID:    uuid.New().String(),
		shortTerm:    NewShortTermMemory(cfg.MaxTurns, cfg.MaxTokens),
		persistedSeq: -1,
	}
	for _, opt := range opts {
		opt(m)
	}

	if d := embedder.Dimensions(); d != cfg.EmbeddingDim {
		m.log.Warn("[MEMORY] embedder dimensions differ from config",
			"embedder", d, "config", cfg.EmbeddingDim)
	}
	return m, nil
}

// SessionID identifies this manager's session in emitted events.
func (m *Manager) SessionID() string { return m.sessionID }

// ShortTerm exposes the underlying turn buffer.
func (m *Manager) ShortTerm() *ShortTermMemory { return m.shortTerm }

// AddTurn records a conversation turn in short-term memory. Assistant
// turns advance the auto-persist counter; when it reaches
// PersistInterval a background persist starts. AddTurn never waits on
// persistence. The memory role is reserved for context assembly and
// rejected here.
func (m *Manager) AddTurn(ctx context.Context, role core.Role, content string) (core.Turn, error) {
	switch role {
	case core.RoleSystem, core.RoleUser, core.RoleAssistant:
	default:
		return core.Turn{}, fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if strings.TrimSpace(content) == "" {
		return core.Turn{}, fmt.Errorf("%w: empty turn content", ErrInvalidInput)
	}

	turn := m.shortTerm.AddTurn(role, content)

	if role == core.RoleAssistant && m.cfg.LongTermEnabled && m.cfg.AutoPersist {
		m.bumpAssistantCounter()
	}

	m.emit(events.New(events.TypeConversationTurn, m.sessionID, events.ConversationTurn{
		Role:    string(role),
		Content: content,
	}))
	return turn, nil
}

// bumpAssistantCounter advances the auto-persist counter and starts a
// background persist when the interval is reached. On failure the
// counter is restored so the next assistant turn retries. At most one
// auto-persist runs at a time.
func (m *Manager) bumpAssistantCounter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistantSince++
	if m.assistantSince < m.cfg.PersistInterval || m.persistInFlight || m.closed {
		return
	}
	m.assistantSince -= m.cfg.PersistInterval
	m.persistInFlight = true
	m.persistWG.Add(1)
	go m.backgroundPersist()
}

func (m *Manager) backgroundPersist() {
	defer m.persistWG.Done()
	n, err := m.PersistShortTermMemory(context.Background())

	m.mu.Lock()
	m.persistInFlight = false
	if err != nil {
		m.assistantSince += m.cfg.PersistInterval
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("[MEMORY] auto-persist failed", "error", err)
		return
	}
	if n > 0 {
		m.log.Info("[MEMORY] auto-persisted conversation", "chunks", n)
	}
}

// PersistShortTermMemory chunks the eligible conversation turns not
// yet written through and stores each chunk in long-term memory.
// Returns the number of chunks written. Short-term memory is not
// cleared, and already-persisted turns are skipped on repeat calls.
// With long-term memory disabled the call is a no-op returning zero.
func (m *Manager) PersistShortTermMemory(ctx context.Context) (int, error) {
	if !m.cfg.LongTermEnabled {
		return 0, nil
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	watermark := m.persistedSeq
	m.mu.Unlock()

	var pending []core.Turn
	maxEligible := watermark
	for _, t := range m.shortTerm.Turns() {
		if t.Sequence <= watermark {
			continue
		}
		pending = append(pending, t)
		if (t.Role == core.RoleUser || t.Role == core.RoleAssistant) && t.Sequence > maxEligible {
			maxEligible = t.Sequence
		}
	}
	if maxEligible == watermark {
		return 0, nil
	}

	recs, err := encodeConversation(pending, chunker{
		size:    m.cfg.ChunkSize,
		overlap: m.cfg.ChunkOverlap,
		minLen:  m.cfg.MinChunkLength,
	})
	if err != nil {
		return 0, fmt.Errorf("encode conversation: %w", err)
	}

	stored := 0
	var firstErr error
	for _, rec := range recs {
		if _, err := m.addRecord(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.log.Warn("[MEMORY] failed to persist chunk", "source", rec.Source, "error", err)
			continue
		}
		stored++
	}
	if firstErr != nil {
		// The watermark stays put so a retry covers the failed turns.
		return stored, fmt.Errorf("persist conversation: %w", firstErr)
	}

	m.mu.Lock()
	m.persistedSeq = maxEligible
	m.chunksWritten += stored
	m.mu.Unlock()

	m.log.Info("[MEMORY] persisted short-term conversation",
		"chunks", stored, "through_seq", maxEligible)
	return stored, nil
}

// addRecord embeds and writes one record through the store, then
// reports it. No manager lock is held across the embed or store call.
func (m *Manager) addRecord(ctx context.Context, rec *MemoryRecord) (string, error) {
	emb, err := m.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return "", &EncodingError{Model: m.cfg.EmbeddingModel, Err: err}
	}
	rec.Embedding = emb

	if err := m.store.Add(ctx, rec); err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}

	m.emit(events.New(events.TypeMemoryStore, m.sessionID, events.MemoryStore{
		ContentPreview: truncate(rec.Content, previewLen),
		MemoryType:     rec.SourceType,
		Importance:     rec.Importance,
		MemoryID:       rec.ID,
	}))
	return rec.ID, nil
}

// RecordOption adjusts how AddFact and AddPreference build a record.
type RecordOption func(*recordParams)

type recordParams struct {
	importance float64
	topics     []string
	source     string
}

// WithImportance overrides the default importance. AddPreference
// raises values at or below 0.5 back to the preference floor.
func WithImportance(v float64) RecordOption {
	return func(p *recordParams) { p.importance = v }
}

// WithTopics replaces the heuristically extracted topics.
func WithTopics(topics ...string) RecordOption {
	return func(p *recordParams) { p.topics = topics }
}

// AddFact stores a discrete fact in long-term memory and returns the
// record ID. Importance defaults to 0.5 and topics to the extraction
// heuristic.
func (m *Manager) AddFact(ctx context.Context, content, source string, opts ...RecordOption) (string, error) {
	if !m.cfg.LongTermEnabled {
		return "", ErrLongTermDisabled
	}
	p := recordParams{importance: defaultFactImportance, source: source}
	for _, opt := range opts {
		opt(&p)
	}
	if p.topics == nil {
		p.topics = extractTopics(content)
	}
	rec, err := NewMemoryRecord(content, SourceTypeFact, p.source, p.importance, p.topics)
	if err != nil {
		return "", err
	}
	return m.addRecord(ctx, rec)
}

// AddPreference stores a user preference and returns the record ID.
// Preferences always outrank the neutral fact default: importance at
// or below 0.5, including the unset default, becomes 0.8.
func (m *Manager) AddPreference(ctx context.Context, content string, opts ...RecordOption) (string, error) {
	if !m.cfg.LongTermEnabled {
		return "", ErrLongTermDisabled
	}
	p := recordParams{importance: defaultPrefImportance, source: "user"}
	for _, opt := range opts {
		opt(&p)
	}
	if p.importance <= 0.5 {
		p.importance = defaultPrefImportance
	}
	if p.topics == nil {
		p.topics = extractTopics(content)
	}
	rec, err := NewMemoryRecord(content, SourceTypePreference, p.source, p.importance, p.topics)
	if err != nil {
		return "", err
	}
	return m.addRecord(ctx, rec)
}

// RetrieveOption narrows a retrieval.
type RetrieveOption func(*SearchOptions)

// WithLimit caps the number of results. Default: 5.
func WithLimit(n int) RetrieveOption {
	return func(o *SearchOptions) { o.Limit = n }
}

// WithMinSimilarity excludes results scoring below the threshold.
// Default: 0, no floor.
func WithMinSimilarity(v float32) RetrieveOption {
	return func(o *SearchOptions) { o.MinSimilarity = v }
}

// WithFilter adds a metadata filter term. Supported keys:
// "source_type", "source", "topic".
func WithFilter(key, value string) RetrieveOption {
	return func(o *SearchOptions) {
		if o.Filter == nil {
			o.Filter = make(map[string]string)
		}
		o.Filter[key] = value
	}
}

// RetrieveRelevantMemories embeds the query and returns the long-term
// records most similar to it. An encoder failure is reported as an
// EncodingError; a store failure degrades to an empty result with a
// log line. No match is an empty result, never an error.
func (m *Manager) RetrieveRelevantMemories(ctx context.Context, query string, opts ...RetrieveOption) ([]SearchResult, error) {
	if !m.cfg.LongTermEnabled {
		return nil, nil
	}
	so := SearchOptions{Limit: defaultRetrieveLimit}
	for _, opt := range opts {
		opt(&so)
	}

	emb, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &EncodingError{Model: m.cfg.EmbeddingModel, Err: err}
	}

	results, err := m.store.Search(ctx, emb, so)
	if err != nil {
		m.log.Warn("[MEMORY] search failed, returning no memories", "error", err)
		return nil, nil
	}

	items := make([]events.RetrievedItem, 0, len(results))
	for _, r := range results {
		items = append(items, events.RetrievedItem{
			ID:         r.Record.ID,
			Content:    truncate(r.Record.Content, previewLen),
			Similarity: r.Similarity,
		})
	}
	m.emit(events.New(events.TypeMemoryRetrieve, m.sessionID, events.MemoryRetrieve{
		Query:       truncate(query, previewLen),
		ResultCount: len(results),
		Results:     items,
	}))

	m.log.Info("[MEMORY] retrieved memories",
		"count", len(results), "query", truncate(query, 50))
	return results, nil
}

// ContextOption adjusts enhanced context assembly.
type ContextOption func(*contextParams)

type contextParams struct {
	maxTokens     int
	maxMemories   int
	includeSystem bool
}

// WithContextTokens overrides the token budget. Default:
// Config.MaxTokens.
func WithContextTokens(n int) ContextOption {
	return func(p *contextParams) { p.maxTokens = n }
}

// WithContextMemories caps the injected memory turns. Default: 5.
func WithContextMemories(n int) ContextOption {
	return func(p *contextParams) { p.maxMemories = n }
}

// WithoutSystemTurn leaves the pinned system turn out of the context.
func WithoutSystemTurn() ContextOption {
	return func(p *contextParams) { p.includeSystem = false }
}

// GetEnhancedContext assembles the prompt context for the next model
// call: the pinned system turn, then one memory-role turn per record
// relevant to userInput (most similar first), then the buffered
// conversation in sequence order.
//
// The total token estimate never exceeds the budget. When over, the
// oldest conversation turns are trimmed first, then the least relevant
// memory turns; the system turn is never trimmed, even when it alone
// exceeds the budget. A store failure degrades to context without
// memories; an encoder failure is reported.
func (m *Manager) GetEnhancedContext(ctx context.Context, userInput string, opts ...ContextOption) ([]core.Turn, error) {
	p := contextParams{
		maxTokens:     m.cfg.MaxTokens,
		maxMemories:   defaultRetrieveLimit,
		includeSystem: true,
	}
	for _, opt := range opts {
		opt(&p)
	}

	budget := p.maxTokens
	var system *core.Turn
	if p.includeSystem {
		if pinned, ok := m.shortTerm.PinnedTurn(); ok {
			system = &pinned
			budget -= core.EstimateTokens(pinned.Content)
		}
	}

	var memTurns []core.Turn
	if m.cfg.LongTermEnabled && p.maxMemories > 0 && strings.TrimSpace(userInput) != "" {
		results, err := m.RetrieveRelevantMemories(ctx, userInput, WithLimit(p.maxMemories))
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			memTurns = append(memTurns, core.Turn{
				Role:      core.RoleMemory,
				Content:   r.Record.Content,
				Timestamp: r.Record.CreatedAt,
			})
		}
	}

	conv := m.shortTerm.ConversationTurns()

	memCost := core.EstimateTurnTokens(memTurns)
	convCost := core.EstimateTurnTokens(conv)
	for len(conv) > 0 && memCost+convCost > budget {
		convCost -= core.EstimateTokens(conv[0].Content)
		conv = conv[1:]
	}
	for len(memTurns) > 0 && memCost+convCost > budget {
		last := len(memTurns) - 1
		memCost -= core.EstimateTokens(memTurns[last].Content)
		memTurns = memTurns[:last]
	}

	out := make([]core.Turn, 0, 1+len(memTurns)+len(conv))
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, memTurns...)
	out = append(out, conv...)
	return out, nil
}

// GetContext returns the short-term context within maxTokens, without
// consulting long-term memory.
func (m *Manager) GetContext(maxTokens int) []core.Turn {
	return m.shortTerm.GetContext(maxTokens)
}

// ClearShortTerm empties the conversation buffer. The pinned system
// turn survives.
func (m *Manager) ClearShortTerm() {
	m.shortTerm.Clear()
	m.emit(events.New(events.TypeMemoryUpdate, m.sessionID, events.MemoryUpdate{
		MemoryID: "short_term",
		Field:    "cleared",
		OldValue: false,
		NewValue: true,
	}))
	m.log.Info("[MEMORY] cleared short-term memory")
}

// GetMemoryByID returns one long-term record, ErrNotFound when absent.
func (m *Manager) GetMemoryByID(ctx context.Context, id string) (*MemoryRecord, error) {
	if !m.cfg.LongTermEnabled {
		return nil, ErrLongTermDisabled
	}
	return m.store.Get(ctx, id)
}

// GetAllMemories returns every long-term record in insertion order.
func (m *Manager) GetAllMemories(ctx context.Context) ([]*MemoryRecord, error) {
	if !m.cfg.LongTermEnabled {
		return nil, nil
	}
	return m.store.All(ctx)
}

// GetAllTopics returns the union of topics across long-term records,
// sorted.
func (m *Manager) GetAllTopics(ctx context.Context) ([]string, error) {
	if !m.cfg.LongTermEnabled {
		return nil, nil
	}
	return m.store.Topics(ctx)
}

// RecentTopics returns the most frequent topics across long-term
// records, most frequent first with alphabetical ties. limit <= 0
// returns all.
func (m *Manager) RecentTopics(ctx context.Context, limit int) ([]string, error) {
	if !m.cfg.LongTermEnabled {
		return nil, nil
	}
	recs, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rec := range recs {
		for _, t := range rec.Topics {
			counts[t]++
		}
	}
	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	return topics, nil
}

// ManagerStats is a point-in-time snapshot of the memory layer.
type ManagerStats struct {
	SessionID             string
	Turns                 int
	SessionDuration       time.Duration
	LongTermRecords       int
	PersistedChunks       int
	AssistantSincePersist int
}

// Stats reports the current state of both tiers.
func (m *Manager) Stats(ctx context.Context) (ManagerStats, error) {
	st := ManagerStats{
		SessionID:       m.sessionID,
		Turns:           m.shortTerm.Len(),
		SessionDuration: m.shortTerm.SessionDuration(),
	}
	m.mu.Lock()
	st.PersistedChunks = m.chunksWritten
	st.AssistantSincePersist = m.assistantSince
	m.mu.Unlock()

	if m.cfg.LongTermEnabled {
		n, err := m.store.Count(ctx)
		if err != nil {
			return st, fmt.Errorf("count memories: %w", err)
		}
		st.LongTermRecords = n
	}
	return st, nil
}

// SummarizeSession condenses the buffered conversation through the
// configured summarizer and stores the result as a fact with source
// "summary". Returns the summary text.
func (m *Manager) SummarizeSession(ctx context.Context) (string, error) {
	if m.summ == nil {
		return "", ErrNoSummarizer
	}
	turns := m.shortTerm.Turns()
	if len(turns) == 0 {
		return "", fmt.Errorf("%w: no turns to summarize", ErrInvalidInput)
	}
	summary, err := m.summ.Summarize(ctx, turns)
	if err != nil {
		return "", fmt.Errorf("summarize session: %w", err)
	}
	if m.cfg.LongTermEnabled {
		if _, err := m.AddFact(ctx, summary, "summary", WithImportance(summaryImportance)); err != nil {
			return summary, fmt.Errorf("store summary: %w", err)
		}
	}
	return summary, nil
}

// Close flushes unpersisted conversation (best effort), waits for any
// in-flight auto-persist, and closes the store. The manager must not
// be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.cfg.LongTermEnabled && m.cfg.AutoPersist {
		if _, err := m.PersistShortTermMemory(context.Background()); err != nil {
			m.log.Warn("[MEMORY] final persist failed", "error", err)
		}
	}
	m.persistWG.Wait()

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}

// emit delivers an event to the sink, if any. A panicking sink is
// contained: observation never fails the operation.
func (m *Manager) emit(ev events.Event) {
	if m.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("[MEMORY] event sink panicked", "type", ev.Type, "panic", r)
		}
	}()
	m.sink.Emit(ev)
}
