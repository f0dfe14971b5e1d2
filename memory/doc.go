// Package memory provides the conversational memory layer for voice
// assistants: a bounded short-term transcript plus a persistent,
// vector-searchable long-term store.
//
// Architecture:
//   - ShortTermMemory: In-session conversation buffer with turn and
//     token budgets. The first system turn is pinned and survives
//     eviction and Clear.
//   - Store: Long-term persistence backend (chromem-go embedded
//     vector database with a JSON journal for restarts)
//   - Embedder: Text-to-vector conversion (mock for tests, Ollama or
//     ONNX for real semantic search)
//   - Manager: Orchestrates both tiers, auto-persists conversation
//     chunks, and assembles retrieval-augmented prompt contexts
//
// Typical flow per exchange:
//   - AddTurn records what was said
//   - GetEnhancedContext builds the next prompt: system turn, relevant
//     long-term memories, then the recent conversation
//   - Every few assistant turns the manager chunks the transcript and
//     writes it to long-term storage in the background
//
// Facts and preferences can also be stored directly with AddFact and
// AddPreference, bypassing the conversation pipeline.
package memory
