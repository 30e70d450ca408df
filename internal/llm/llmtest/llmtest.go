// Package llmtest provides a deterministic byte-level model runtime for tests.
//
// Every byte is its own token (ids 0..255); EOS and BOS follow. After the
// prompt is prefilled, a context replays Reply(prompt) one byte per step and
// then emits EOS, so generated text is a pure function of the prompt the
// context actually received.
package llmtest

import (
	"errors"
	"fmt"
	"sync"

	"inferd/internal/llm"
)

const (
	EOS llm.Token = 256
	BOS llm.Token = 257

	vocabSize = 258
)

// Model is a scripted llm.Model. Zero value replies with EOS immediately.
type Model struct {
	// Reply maps the decoded prompt to the text the model will generate.
	Reply func(prompt string) string

	NewContextErr error
	TokenizeErr   error
	// PieceErr fails TokenToBytes for the given token when non-nil.
	PieceErr func(t llm.Token) error
	// DecodeErrAt fails the n-th Decode call (1-based) of every context.
	DecodeErrAt int
	// OnDecode runs before every Decode with the 1-based call number.
	OnDecode func(call int)

	mu       sync.Mutex
	contexts []*Context
	open     int
}

var _ llm.Model = (*Model)(nil)

func (m *Model) NewContext(p llm.ContextParams) (llm.Context, error) {
	if m.NewContextErr != nil {
		return nil, m.NewContextErr
	}
	c := &Context{m: m, Params: p}
	m.mu.Lock()
	m.contexts = append(m.contexts, c)
	m.open++
	m.mu.Unlock()
	return c, nil
}

func (m *Model) Tokenize(text string, addBOS bool) ([]llm.Token, error) {
	if m.TokenizeErr != nil {
		return nil, m.TokenizeErr
	}
	out := make([]llm.Token, 0, len(text)+1)
	if addBOS {
		out = append(out, BOS)
	}
	for i := 0; i < len(text); i++ {
		out = append(out, llm.Token(text[i]))
	}
	return out, nil
}

func (m *Model) TokenToBytes(t llm.Token) ([]byte, error) {
	if m.PieceErr != nil {
		if err := m.PieceErr(t); err != nil {
			return nil, err
		}
	}
	switch {
	case t >= 0 && t < 256:
		return []byte{byte(t)}, nil
	case t == EOS:
		return []byte("</s>"), nil
	case t == BOS:
		return []byte("<s>"), nil
	default:
		return nil, fmt.Errorf("token %d out of range", t)
	}
}

func (m *Model) EOS() llm.Token { return EOS }

func (m *Model) VocabSize() int { return vocabSize }

func (m *Model) Close() error { return nil }

// Contexts returns every context created so far.
func (m *Model) Contexts() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Context(nil), m.contexts...)
}

// Open reports contexts created but not yet closed.
func (m *Model) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Context records every batch it decodes.
type Context struct {
	m      *Model
	Params llm.ContextParams
	Calls  [][]llm.BatchEntry

	prompt  []byte
	reply   []byte
	emitted int
	logits  []float32
	closed  bool
}

func (c *Context) Decode(b *llm.Batch) error {
	if c.closed {
		return errors.New("decode on closed context")
	}
	entries := append([]llm.BatchEntry(nil), b.Entries()...)
	c.Calls = append(c.Calls, entries)
	call := len(c.Calls)
	if c.m.OnDecode != nil {
		c.m.OnDecode(call)
	}
	if c.m.DecodeErrAt == call {
		return &llm.DecodeError{Status: 1}
	}
	if call == 1 {
		for _, e := range entries {
			if e.Token >= 0 && e.Token < 256 {
				c.prompt = append(c.prompt, byte(e.Token))
			}
		}
		if c.m.Reply != nil {
			c.reply = []byte(c.m.Reply(string(c.prompt)))
		}
	} else {
		c.emitted += len(entries)
	}
	c.logits = nil
	if len(entries) > 0 && entries[len(entries)-1].Logits {
		next := EOS
		if c.emitted < len(c.reply) {
			next = llm.Token(c.reply[c.emitted])
		}
		c.logits = OneHot(next)
	}
	return nil
}

func (c *Context) Logits() []float32 { return c.logits }

func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.m.mu.Lock()
	c.m.open--
	c.m.mu.Unlock()
	return nil
}

// Prompt returns the bytes prefilled into this context.
func (c *Context) Prompt() string { return string(c.prompt) }

// Closed reports whether Close was called.
func (c *Context) Closed() bool { return c.closed }

// OneHot returns logits that select t under greedy decoding.
func OneHot(t llm.Token) []float32 {
	v := make([]float32, vocabSize)
	v[t] = 1
	return v
}

// Backend hands out a fixed model; LoadErr fails LoadModel.
type Backend struct {
	Model   llm.Model
	LoadErr error
	Paths   []string
	closed  bool
}

func (b *Backend) LoadModel(path string, _ llm.ModelParams) (llm.Model, error) {
	b.Paths = append(b.Paths, path)
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	return b.Model, nil
}

func (b *Backend) Close() error {
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool { return b.closed }
