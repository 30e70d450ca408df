//go:build llama

package llm

// The binary is linked with an rpath of $ORIGIN so libllama.so and
// libggml*.so are found next to it; -L points at ./bin for link time and the
// llama.h header is expected under ./include.

/*
#cgo CFLAGS: -I${SRCDIR}/../../include
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
#include <stdlib.h>
#include <stdbool.h>
#include "llama.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

type llamaBackend struct {
	once sync.Once
}

// InitBackend initializes the llama.cpp backend. Call it once per process.
func InitBackend() (Backend, error) {
	C.llama_backend_init()
	return &llamaBackend{}, nil
}

func (b *llamaBackend) LoadModel(path string, p ModelParams) (Model, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	mp := C.llama_model_default_params()
	mp.n_gpu_layers = C.int32_t(p.GPULayers)
	mp.use_mmap = C.bool(!p.NoMmap)
	m := C.llama_model_load_from_file(cpath, mp)
	if m == nil {
		return nil, fmt.Errorf("load model %s: llama_model_load_from_file returned NULL", path)
	}
	vocab := C.llama_model_get_vocab(m)
	return &llamaModel{m: m, vocab: vocab, nVocab: int(C.llama_vocab_n_tokens(vocab))}, nil
}

func (b *llamaBackend) Close() error {
	b.once.Do(func() { C.llama_backend_free() })
	return nil
}

type llamaModel struct {
	m      *C.struct_llama_model
	vocab  *C.struct_llama_vocab
	nVocab int
}

func (m *llamaModel) NewContext(p ContextParams) (Context, error) {
	if p.ContextSize <= 0 || p.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid context params: ctx=%d batch=%d", p.ContextSize, p.BatchSize)
	}
	cp := C.llama_context_default_params()
	cp.n_ctx = C.uint32_t(p.ContextSize)
	// Logical batch covers the whole window so a prompt prefills in one call;
	// the physical micro-batch is BatchSize.
	cp.n_batch = C.uint32_t(p.ContextSize)
	cp.n_ubatch = C.uint32_t(p.BatchSize)
	cp.n_seq_max = 1
	if p.Threads > 0 {
		cp.n_threads = C.int32_t(p.Threads)
		cp.n_threads_batch = C.int32_t(p.Threads)
	}
	c := C.llama_init_from_model(m.m, cp)
	if c == nil {
		return nil, errors.New("llama_init_from_model returned NULL")
	}
	return &llamaContext{c: c, nVocab: m.nVocab}, nil
}

func (m *llamaModel) Tokenize(text string, addBOS bool) ([]Token, error) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	n := C.int32_t(len(text))

	// A first call with no buffer reports the required size as a negative count.
	need := -int(C.llama_tokenize(m.vocab, ctext, n, nil, 0, C.bool(addBOS), C.bool(true)))
	if need <= 0 {
		if need == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("llama_tokenize: unexpected result %d", -need)
	}
	buf := make([]C.llama_token, need)
	got := C.llama_tokenize(m.vocab, ctext, n, &buf[0], C.int32_t(need), C.bool(addBOS), C.bool(true))
	if got < 0 {
		return nil, fmt.Errorf("llama_tokenize: buffer too small (need %d)", -int(got))
	}
	out := make([]Token, int(got))
	for i := range out {
		out[i] = Token(buf[i])
	}
	return out, nil
}

func (m *llamaModel) TokenToBytes(t Token) ([]byte, error) {
	buf := make([]byte, 64)
	n := m.piece(t, buf)
	if n < 0 {
		buf = make([]byte, -n)
		n = m.piece(t, buf)
	}
	if n < 0 {
		return nil, fmt.Errorf("llama_token_to_piece(%d): buffer too small (need %d)", t, -n)
	}
	return buf[:n], nil
}

func (m *llamaModel) piece(t Token, buf []byte) int {
	return int(C.llama_token_to_piece(m.vocab, C.llama_token(t),
		(*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), 0, C.bool(true)))
}

func (m *llamaModel) EOS() Token { return Token(C.llama_vocab_eos(m.vocab)) }

func (m *llamaModel) VocabSize() int { return m.nVocab }

func (m *llamaModel) Close() error {
	if m.m != nil {
		C.llama_model_free(m.m)
		m.m = nil
	}
	return nil
}

type llamaContext struct {
	c        *C.struct_llama_context
	nVocab   int
	batch    C.struct_llama_batch
	capacity int
}

func (c *llamaContext) Decode(b *Batch) error {
	n := b.Len()
	if n == 0 {
		return errors.New("decode: empty batch")
	}
	if n > c.capacity {
		if c.capacity > 0 {
			C.llama_batch_free(c.batch)
		}
		c.batch = C.llama_batch_init(C.int32_t(n), 0, 1)
		c.capacity = n
	}
	tokens := unsafe.Slice(c.batch.token, n)
	pos := unsafe.Slice(c.batch.pos, n)
	nSeq := unsafe.Slice(c.batch.n_seq_id, n)
	seqs := unsafe.Slice(c.batch.seq_id, n)
	logits := unsafe.Slice(c.batch.logits, n)
	for i, e := range b.Entries() {
		tokens[i] = C.llama_token(e.Token)
		pos[i] = C.llama_pos(e.Pos)
		nSeq[i] = 1
		*seqs[i] = 0
		logits[i] = 0
		if e.Logits {
			logits[i] = 1
		}
	}
	c.batch.n_tokens = C.int32_t(n)
	if rc := C.llama_decode(c.c, c.batch); rc != 0 {
		return &DecodeError{Status: int(rc)}
	}
	return nil
}

func (c *llamaContext) Logits() []float32 {
	p := C.llama_get_logits_ith(c.c, -1)
	if p == nil {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(p)), c.nVocab)
}

func (c *llamaContext) Close() error {
	if c.capacity > 0 {
		C.llama_batch_free(c.batch)
		c.capacity = 0
	}
	if c.c != nil {
		C.llama_free(c.c)
		c.c = nil
	}
	return nil
}
