// Package llm is the narrow model-runtime surface the generation pipeline
// depends on: backend initialization, model loading, per-request decoding
// contexts, tokenization and logits.
//
// Build tags:
//
//   - `-tags=llama` links the in-process llama.cpp runtime through cgo
//     (llama.go). libllama and libggml must sit next to the binary or in
//     ./bin at link time.
//   - Without the tag a stub (llama_stub.go) is compiled; InitBackend fails
//     with ErrUnavailable so default builds stay CGO-free.
package llm

import (
	"errors"
	"fmt"
)

// Token is a vocabulary id.
type Token int32

// ErrUnavailable is returned by InitBackend when the binary was built
// without model runtime support.
var ErrUnavailable = errors.New("llama support not built (missing 'llama' build tag)")

// ModelParams configures weight loading.
type ModelParams struct {
	// GPULayers is the number of layers offloaded to the GPU (0 = CPU only).
	GPULayers int
	// NoMmap disables memory-mapping the weight file.
	NoMmap bool
}

// ContextParams sizes a decoding context.
type ContextParams struct {
	// ContextSize is the token window (n_ctx).
	ContextSize int
	// BatchSize is the physical micro-batch (n_ubatch).
	BatchSize int
	// Threads used for decoding; 0 lets the runtime choose.
	Threads int
}

// Backend is the process-wide runtime handle. Initialize it once.
type Backend interface {
	LoadModel(path string, p ModelParams) (Model, error)
	Close() error
}

// Model holds read-only weights and the vocabulary. Implementations must be
// safe for concurrent use by independent contexts.
type Model interface {
	NewContext(p ContextParams) (Context, error)
	// Tokenize converts text to tokens. Special markers in text are parsed
	// as special tokens.
	Tokenize(text string, addBOS bool) ([]Token, error)
	// TokenToBytes renders a token, special tokens included.
	TokenToBytes(t Token) ([]byte, error)
	EOS() Token
	VocabSize() int
	Close() error
}

// Context is the mutable decoding state of one request. It is not safe for
// concurrent use.
type Context interface {
	Decode(b *Batch) error
	// Logits returns the scores for the last batch entry that requested
	// output. The slice is only valid until the next Decode.
	Logits() []float32
	Close() error
}

// BatchEntry is one token placed at a sequence position.
type BatchEntry struct {
	Token  Token
	Pos    int
	Logits bool
}

// Batch collects tokens for a single Decode call (sequence 0 only).
type Batch struct {
	entries []BatchEntry
}

// NewBatch returns a batch with room for n entries.
func NewBatch(n int) *Batch { return &Batch{entries: make([]BatchEntry, 0, n)} }

func (b *Batch) Add(t Token, pos int, logits bool) {
	b.entries = append(b.entries, BatchEntry{Token: t, Pos: pos, Logits: logits})
}

func (b *Batch) Clear() { b.entries = b.entries[:0] }

func (b *Batch) Len() int { return len(b.entries) }

// Entries exposes the batch contents to runtime implementations.
func (b *Batch) Entries() []BatchEntry { return b.entries }

// DecodeError reports a non-zero status from the runtime's decode call.
type DecodeError struct {
	Status int
}

func (e *DecodeError) Error() string { return fmt.Sprintf("llama_decode returned %d", e.Status) }
