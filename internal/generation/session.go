// Package generation runs one greedy decode cycle for one prompt against a
// loaded model: context acquisition, tokenization, batched prefill and the
// autoregressive loop.
package generation

import (
	"context"
	"strings"
	"unicode/utf8"

	"inferd/internal/chat"
	"inferd/internal/llm"
)

// Defaults applied when corresponding Params fields are unset.
const (
	DefaultContextSize  = 4096
	DefaultBatchSize    = 512
	DefaultMaxNewTokens = 4096
)

// Params bounds one generation.
type Params struct {
	MaxNewTokens int
	ContextSize  int
	BatchSize    int
	Threads      int
}

func (p Params) withDefaults() Params {
	if p.MaxNewTokens <= 0 {
		p.MaxNewTokens = DefaultMaxNewTokens
	}
	if p.ContextSize <= 0 {
		p.ContextSize = DefaultContextSize
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	return p
}

// StopReason says why the loop ended.
type StopReason string

const (
	StopEOS     StopReason = "eos"
	StopLength  StopReason = "length"
	StopContext StopReason = "context"
)

// Result is the outcome of a successful generation.
type Result struct {
	Text            string
	PromptTokens    int
	GeneratedTokens int
	// Iterations counts loop passes, including the one that sampled EOS.
	Iterations int
	StopReason StopReason
}

// Generate runs prompt through model and returns the raw generated text. The
// decoding context is private to this call and always released. Running out
// of budget is not an error; every runtime failure is returned as a
// *StageError without retry.
func Generate(ctx context.Context, model llm.Model, prompt chat.Prompt, p Params) (Result, error) {
	p = p.withDefaults()
	if !prompt.Cued() {
		return Result{}, stageErr(StageTokenize, ErrMissingCue)
	}

	lctx, err := model.NewContext(llm.ContextParams{
		ContextSize: p.ContextSize,
		BatchSize:   p.BatchSize,
		Threads:     p.Threads,
	})
	if err != nil {
		return Result{}, stageErr(StageContext, err)
	}
	defer lctx.Close()

	// The template already carries every structural marker, so no BOS.
	toks, err := model.Tokenize(prompt.String(), false)
	if err != nil {
		return Result{}, stageErr(StageTokenize, err)
	}
	if len(toks) == 0 {
		return Result{}, stageErr(StageTokenize, ErrEmptyPrompt)
	}
	if len(toks) >= p.ContextSize {
		return Result{}, stageErr(StageDecode, ErrPromptTooLong)
	}

	batch := llm.NewBatch(len(toks))
	last := len(toks) - 1
	for i, t := range toks {
		batch.Add(t, i, i == last)
	}
	if err := lctx.Decode(batch); err != nil {
		return Result{}, stageErr(StageDecode, err)
	}

	res := Result{PromptTokens: len(toks), StopReason: StopLength}
	budget := p.MaxNewTokens
	if room := p.ContextSize - len(toks); room < budget {
		budget = room
		res.StopReason = StopContext
	}

	eos := model.EOS()
	pos := len(toks)
	var out []byte
	for i := 0; i < budget; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, stageErr(StageCanceled, err)
		}
		res.Iterations++
		logits := lctx.Logits()
		if len(logits) == 0 {
			return Result{}, stageErr(StageDecode, ErrNoLogits)
		}
		next := llm.Token(Argmax(logits))
		if next == eos {
			res.StopReason = StopEOS
			break
		}
		piece, err := model.TokenToBytes(next)
		if err != nil {
			return Result{}, stageErr(StageToken, err)
		}
		out = append(out, piece...)
		res.GeneratedTokens++

		batch.Clear()
		batch.Add(next, pos, true)
		if err := lctx.Decode(batch); err != nil {
			return Result{}, stageErr(StageDecode, err)
		}
		pos++
	}

	res.Text = lossyString(out)
	return res, nil
}

// Argmax returns the index of the highest score. Only a strictly greater
// value replaces the current best, so ties resolve to the lowest index.
// It returns -1 for an empty slice.
func Argmax(logits []float32) int {
	if len(logits) == 0 {
		return -1
	}
	best, bestV := 0, logits[0]
	for i := 1; i < len(logits); i++ {
		if logits[i] > bestV {
			best, bestV = i, logits[i]
		}
	}
	return best
}

// lossyString decodes b as UTF-8, replacing invalid sequences with U+FFFD.
// Pieces are joined before decoding so characters split across tokens
// survive.
func lossyString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
