// Package chromem implements the long-term memory store on top of
// chromem-go, a pure Go embedded vector database.
//
// chromem-go serves as the cosine similarity engine; durability comes
// from a JSON journal kept alongside it, one file per record, written
// atomically (temp file, then rename). Construction replays the
// journal, so a store reopened on the same path serves everything that
// was ever written through it.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/coda-voice/coda-go-sdk/memory"
)

const collectionName = "memories"

// Config holds store settings.
type Config struct {
	// Path is the journal directory. Created if missing. Required.
	Path string

	// MaxMemories caps stored records; when the cap is reached the
	// oldest lowest-importance record is evicted to make room. Zero
	// means no cap.
	MaxMemories int

	// Dimensions validates embeddings on Add and Search when > 0.
	Dimensions int

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Store is the chromem-go backed memory.Store implementation.
type Store struct {
	cfg Config
	log *slog.Logger
	db  *chromem.DB
	col *chromem.Collection

	mu      sync.RWMutex
	records map[string]*memory.MemoryRecord
	order   []string // insertion order of record IDs
	closed  bool
}

// New opens a store on the given journal directory, creating it if
// missing and loading every record already journaled there.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: journal path is required", memory.ErrInvalidInput)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, &memory.StorageError{Op: "open", Path: cfg.Path, Err: err}
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, &memory.StorageError{Op: "open", Err: err}
	}

	s := &Store{
		cfg:     cfg,
		log:     cfg.Logger,
		db:      db,
		col:     col,
		records: make(map[string]*memory.MemoryRecord),
	}
	if err := s.loadJournal(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadJournal replays the per-record files into the index. Unreadable
// entries are logged and skipped, never fatal: one corrupt file must
// not take the whole store down.
func (s *Store) loadJournal() error {
	paths, err := filepath.Glob(filepath.Join(s.cfg.Path, "*.json"))
	if err != nil {
		return &memory.StorageError{Op: "load", Path: s.cfg.Path, Err: err}
	}

	var recs []*memory.MemoryRecord
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			s.log.Warn("[CHROMEM] skipping unreadable journal entry", "path", p, "error", err)
			continue
		}
		var rec memory.MemoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("[CHROMEM] skipping corrupt journal entry", "path", p, "error", err)
			continue
		}
		if rec.ID == "" || len(rec.Embedding) == 0 {
			s.log.Warn("[CHROMEM] skipping incomplete journal entry", "path", p)
			continue
		}
		if s.cfg.Dimensions > 0 && len(rec.Embedding) != s.cfg.Dimensions {
			s.log.Warn("[CHROMEM] skipping journal entry with wrong embedding width",
				"path", p, "got", len(rec.Embedding), "want", s.cfg.Dimensions)
			continue
		}
		recs = append(recs, &rec)
	}

	// Journal files carry no ordering; creation time recovers it.
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})

	ctx := context.Background()
	for _, rec := range recs {
		if err := s.col.AddDocument(ctx, s.document(rec)); err != nil {
			s.log.Warn("[CHROMEM] failed to index journal entry", "id", rec.ID, "error", err)
			continue
		}
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}

	if len(s.order) > 0 {
		s.log.Info("[CHROMEM] loaded journal", "records", len(s.order), "path", s.cfg.Path)
	}
	return nil
}

// document builds the chromem document for a record. The metadata
// mirrors the filterable fields so searches can narrow inside chromem.
func (s *Store) document(rec *memory.MemoryRecord) chromem.Document {
	return chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"source_type": rec.SourceType,
			"source":      rec.Source,
			"created_at":  rec.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

// Add persists a record. Write-through: the journal entry is published
// (temp file, then rename) and the index updated before Add returns,
// so the record is durable and immediately searchable. When the store
// is at capacity the oldest lowest-importance record is evicted first.
func (s *Store) Add(ctx context.Context, rec *memory.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record without ID", memory.ErrInvalidInput)
	}
	if strings.TrimSpace(rec.Content) == "" {
		return fmt.Errorf("%w: record without content", memory.ErrInvalidInput)
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("%w: record without embedding", memory.ErrInvalidInput)
	}
	if s.cfg.Dimensions > 0 && len(rec.Embedding) != s.cfg.Dimensions {
		return fmt.Errorf("%w: embedding width %d, store expects %d",
			memory.ErrInvalidInput, len(rec.Embedding), s.cfg.Dimensions)
	}
	if rec.Importance < 0 || rec.Importance > 1 {
		return fmt.Errorf("%w: importance %.2f outside [0, 1]", memory.ErrInvalidInput, rec.Importance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return memory.ErrStoreClosed
	}
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("%w: duplicate record ID %s", memory.ErrInvalidInput, rec.ID)
	}

	if s.cfg.MaxMemories > 0 && len(s.records) >= s.cfg.MaxMemories {
		if err := s.evictLocked(ctx); err != nil {
			return err
		}
	}

	if err := s.writeJournal(rec); err != nil {
		return err
	}
	if err := s.col.AddDocument(ctx, s.document(rec)); err != nil {
		// Keep journal and index in step: drop the file again.
		os.Remove(s.journalPath(rec.ID))
		return &memory.StorageError{Op: "add", Err: err}
	}

	stored := *rec
	s.records[rec.ID] = &stored
	s.order = append(s.order, rec.ID)

	s.log.Debug("[CHROMEM] stored memory",
		"id", rec.ID, "type", rec.SourceType, "importance", rec.Importance)
	return nil
}

// evictLocked removes the oldest lowest-importance record to make room.
func (s *Store) evictLocked(ctx context.Context) error {
	victim := ""
	for _, id := range s.order {
		if victim == "" {
			victim = id
			continue
		}
		v, c := s.records[victim], s.records[id]
		if c.Importance < v.Importance ||
			(c.Importance == v.Importance && c.CreatedAt.Before(v.CreatedAt)) {
			victim = id
		}
	}
	if victim == "" {
		return nil
	}
	if err := s.removeLocked(ctx, victim); err != nil {
		return err
	}
	s.log.Info("[CHROMEM] evicted memory at capacity", "id", victim, "max", s.cfg.MaxMemories)
	return nil
}

func (s *Store) removeLocked(ctx context.Context, id string) error {
	if err := os.Remove(s.journalPath(id)); err != nil && !os.IsNotExist(err) {
		return &memory.StorageError{Op: "evict", Path: s.journalPath(id), Err: err}
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return &memory.StorageError{Op: "evict", Err: err}
	}
	delete(s.records, id)
	for i, have := range s.order {
		if have == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) journalPath(id string) string {
	return filepath.Join(s.cfg.Path, id+".json")
}

// writeJournal publishes one record atomically: write a temp file in
// the journal directory, then rename it into place. A crash mid-write
// leaves an orphan temp file the loader never picks up, not a corrupt
// record.
func (s *Store) writeJournal(rec *memory.MemoryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &memory.StorageError{Op: "add", Err: err}
	}
	final := s.journalPath(rec.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &memory.StorageError{Op: "add", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return &memory.StorageError{Op: "add", Path: final, Err: err}
	}
	return nil
}

// Search ranks records against the query embedding. Results come back
// cosine similarity descending; ties break by importance descending,
// then creation time descending. No match is an empty result.
func (s *Store) Search(ctx context.Context, query []float32, opts memory.SearchOptions) ([]memory.SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", memory.ErrInvalidInput)
	}
	if s.cfg.Dimensions > 0 && len(query) != s.cfg.Dimensions {
		return nil, fmt.Errorf("%w: query width %d, store expects %d",
			memory.ErrInvalidInput, len(query), s.cfg.Dimensions)
	}
	if err := validateFilter(opts.Filter); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, memory.ErrStoreClosed
	}
	total := len(s.records)
	if total == 0 {
		return nil, nil
	}

	// chromem can narrow by exact metadata; topics stay local.
	where := map[string]string{}
	for _, key := range []string{"source_type", "source"} {
		if v, ok := opts.Filter[key]; ok {
			where[key] = v
		}
	}
	if len(where) == 0 {
		where = nil
	}

	// chromem requires nResults <= collection size; ask for everything
	// and rank locally so tie-breaking stays deterministic.
	raw, err := s.col.QueryEmbedding(ctx, query, total, where, nil)
	if err != nil && isInsufficientDocsError(err) {
		// The where clause can shrink the candidate set below
		// nResults; the local filter below covers it instead.
		raw, err = s.col.QueryEmbedding(ctx, query, total, nil, nil)
	}
	if err != nil {
		return nil, &memory.StorageError{Op: "search", Err: err}
	}

	var results []memory.SearchResult
	for _, r := range raw {
		rec, ok := s.records[r.ID]
		if !ok {
			continue
		}
		if !matchesFilter(rec, opts.Filter) {
			continue
		}
		if r.Similarity < opts.MinSimilarity {
			continue
		}
		cp := *rec
		results = append(results, memory.SearchResult{Record: &cp, Similarity: r.Similarity})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Record.Importance != results[j].Record.Importance {
			return results[i].Record.Importance > results[j].Record.Importance
		}
		return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func validateFilter(filter map[string]string) error {
	for key := range filter {
		switch key {
		case "source_type", "source", "topic":
		default:
			return fmt.Errorf("%w: unknown filter key %q", memory.ErrInvalidInput, key)
		}
	}
	return nil
}

func matchesFilter(rec *memory.MemoryRecord, filter map[string]string) bool {
	for key, want := range filter {
		switch key {
		case "source_type":
			if rec.SourceType != want {
				return false
			}
		case "source":
			if rec.Source != want {
				return false
			}
		case "topic":
			if !rec.HasTopic(want) {
				return false
			}
		}
	}
	return true
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*memory.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, memory.ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %q", memory.ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

// All returns every record in insertion order.
func (s *Store) All(ctx context.Context) ([]*memory.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, memory.ErrStoreClosed
	}
	out := make([]*memory.MemoryRecord, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.records[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Topics returns the union of record topics, sorted.
func (s *Store) Topics(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, memory.ErrStoreClosed
	}
	set := make(map[string]struct{})
	for _, rec := range s.records {
		for _, t := range rec.Topics {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, memory.ErrStoreClosed
	}
	return len(s.records), nil
}

// Close marks the store closed. The journal needs no flushing: every
// Add published its record before returning.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// isInsufficientDocsError checks whether a chromem error is only about
// requesting more results than the (filtered) collection holds.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
