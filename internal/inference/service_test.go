package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"inferd/internal/chat"
	"inferd/internal/generation"
	"inferd/internal/llm"
	"inferd/internal/llm/llmtest"
)

func userHistory(content string) chat.History {
	return chat.History{
		{Role: chat.RoleSystem, Content: "be brief"},
		{Role: chat.RoleUser, Content: content},
	}
}

// lastUserTurn extracts the final user content from a rendered prompt.
func lastUserTurn(prompt string) string {
	const open = chat.TurnStart + "user\n"
	i := strings.LastIndex(prompt, open)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(open):]
	if j := strings.Index(rest, chat.TurnEnd); j >= 0 {
		return rest[:j]
	}
	return rest
}

func newService(t *testing.T, cfg Config) *Service {
	t.Helper()
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without model")
	}
}

func TestRunReturnsAnswer(t *testing.T) {
	m := &llmtest.Model{Reply: func(p string) string { return "echo: " + lastUserTurn(p) }}
	svc := newService(t, Config{Model: m, Logger: zerolog.Nop()})
	got, err := svc.Run(context.Background(), userHistory("hello"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "echo: hello" {
		t.Fatalf("answer=%q", got)
	}
	if m.Open() != 0 {
		t.Fatalf("context leaked")
	}
}

func TestRunHidesThoughtAndLogsIt(t *testing.T) {
	var buf bytes.Buffer
	m := &llmtest.Model{Reply: func(string) string {
		return "<think>count the syllables</think>\n\nWaves fold into foam"
	}}
	svc := newService(t, Config{Model: m, Logger: zerolog.New(&buf)})
	out, err := svc.RunDetailed(context.Background(), userHistory("haiku"))
	if err != nil {
		t.Fatalf("RunDetailed: %v", err)
	}
	if out.Answer != "Waves fold into foam" {
		t.Fatalf("answer=%q", out.Answer)
	}
	if out.Thought == nil || *out.Thought != "<think>count the syllables</think>" {
		t.Fatalf("thought=%v", out.Thought)
	}
	logs := buf.String()
	if !strings.Contains(logs, "model thought") || !strings.Contains(logs, "count the syllables") {
		t.Fatalf("thought not logged: %s", logs)
	}
	if !strings.Contains(logs, out.SessionID) {
		t.Fatalf("session id missing from logs: %s", logs)
	}
}

func TestRunWithoutThought(t *testing.T) {
	m := &llmtest.Model{Reply: func(string) string { return "  plain answer" }}
	svc := newService(t, Config{Model: m, Logger: zerolog.Nop()})
	out, err := svc.RunDetailed(context.Background(), userHistory("q"))
	if err != nil {
		t.Fatalf("RunDetailed: %v", err)
	}
	if out.Thought != nil || out.Answer != "  plain answer" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Result.StopReason != generation.StopEOS || out.Result.GeneratedTokens != len("  plain answer") {
		t.Fatalf("unexpected result: %+v", out.Result)
	}
}

func TestRunErrorKinds(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name   string
		model  *llmtest.Model
		kind   Kind
		prefix string
	}{
		{"context", &llmtest.Model{NewContextErr: boom}, KindContextCreation, "Failed to create LLaMA context: "},
		{"tokenize", &llmtest.Model{TokenizeErr: boom}, KindTokenize, "Failed to tokenize prompt: "},
		{"prefill", &llmtest.Model{DecodeErrAt: 1}, KindDecode, "Failed to decode prompt: "},
		{"incremental", &llmtest.Model{DecodeErrAt: 2, Reply: func(string) string { return "ab" }}, KindDecode, "Failed to decode prompt: "},
		{"token", &llmtest.Model{
			Reply:    func(string) string { return "ab" },
			PieceErr: func(llm.Token) error { return boom },
		}, KindTokenProcess, "Failed to process token: "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(t, Config{Model: tc.model, Logger: zerolog.Nop()})
			before := testutil.ToFloat64(runsTotal.WithLabelValues(tc.kind.Code()))
			answer, err := svc.Run(context.Background(), userHistory("x"))
			if answer != "" {
				t.Fatalf("partial answer leaked: %q", answer)
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *Error, got %T %v", err, err)
			}
			if e.Kind != tc.kind {
				t.Fatalf("kind=%v want %v", e.Kind, tc.kind)
			}
			if !strings.HasPrefix(e.Error(), tc.prefix) {
				t.Fatalf("message %q lacks prefix %q", e.Error(), tc.prefix)
			}
			if e.StatusCode() != 500 {
				t.Fatalf("status=%d", e.StatusCode())
			}
			if k, ok := KindOf(err); !ok || k != tc.kind {
				t.Fatalf("KindOf=%v,%v", k, ok)
			}
			if after := testutil.ToFloat64(runsTotal.WithLabelValues(tc.kind.Code())); after != before+1 {
				t.Fatalf("runs_total{%s} %v -> %v", tc.kind.Code(), before, after)
			}
			if tc.model.Open() != 0 {
				t.Fatalf("context leaked")
			}
		})
	}
}

func TestPrefillDecodeFailureKeepsStatus(t *testing.T) {
	svc := newService(t, Config{Model: &llmtest.Model{DecodeErrAt: 1}, Logger: zerolog.Nop()})
	_, err := svc.Run(context.Background(), userHistory("x"))
	var de *llm.DecodeError
	if !errors.As(err, &de) || de.Status != 1 {
		t.Fatalf("expected DecodeError in chain, got %v", err)
	}
	if err.Error() != "Failed to decode prompt: llama_decode returned 1" {
		t.Fatalf("message=%q", err.Error())
	}
}

func TestRunConcurrentIsolation(t *testing.T) {
	m := &llmtest.Model{Reply: func(p string) string { return "re:" + lastUserTurn(p) }}
	svc := newService(t, Config{Model: m, Workers: 4, Logger: zerolog.Nop()})

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("question-%02d", i)
			got, err := svc.Run(context.Background(), userHistory(q))
			if err != nil {
				errs <- err
				return
			}
			if got != "re:"+q {
				errs <- fmt.Errorf("request %d got %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if len(m.Contexts()) != n || m.Open() != 0 {
		t.Fatalf("contexts=%d open=%d", len(m.Contexts()), m.Open())
	}
}

func TestRunTooBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m := &llmtest.Model{OnDecode: func(call int) {
		if call == 1 {
			once.Do(func() { close(started) })
			<-release
		}
	}}
	svc := newService(t, Config{Model: m, Workers: 1, QueueWait: 20 * time.Millisecond, Logger: zerolog.Nop()})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), userHistory("first"))
		done <- err
	}()
	<-started

	_, err := svc.Run(context.Background(), userHistory("second"))
	close(release)
	if !IsTooBusy(err) {
		t.Fatalf("expected too busy, got %v", err)
	}
	var he interface{ StatusCode() int }
	if !errors.As(err, &he) || he.StatusCode() != 429 {
		t.Fatalf("expected 429 status from %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	m := &llmtest.Model{Reply: func(string) string { panic("kaboom") }}
	svc := newService(t, Config{Model: m, Workers: 1, Logger: zerolog.Nop()})
	_, err := svc.Run(context.Background(), userHistory("x"))
	if k, ok := KindOf(err); !ok || k != KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if err.Error() != "Internal Server Error" {
		t.Fatalf("message=%q", err.Error())
	}
	var pe panicError
	if !errors.As(err, &pe) {
		t.Fatalf("panic value not preserved: %v", err)
	}
	if m.Open() != 0 {
		t.Fatalf("context leaked")
	}
	// The only worker slot must have been released.
	m.Reply = nil
	if _, err := svc.Run(context.Background(), userHistory("y")); err != nil {
		t.Fatalf("pool stuck after panic: %v", err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &llmtest.Model{
		Reply: func(string) string { return strings.Repeat("z", 64) },
		OnDecode: func(call int) {
			if call == 4 {
				cancel()
			}
		},
	}
	svc := newService(t, Config{Model: m, Logger: zerolog.Nop()})
	_, err := svc.Run(ctx, userHistory("x"))
	if k, _ := KindOf(err); k != KindCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cause lost: %v", err)
	}
	if m.Open() != 0 {
		t.Fatalf("context leaked")
	}
}

func TestRunDeadlineIsGatewayTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	svc := newService(t, Config{Model: &llmtest.Model{}, Logger: zerolog.Nop()})
	_, err := svc.Run(ctx, userHistory("x"))
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
	if e.StatusCode() != 504 {
		t.Fatalf("status=%d", e.StatusCode())
	}
}

func TestRunCache(t *testing.T) {
	var calls atomic.Int32
	m := &llmtest.Model{Reply: func(p string) string {
		calls.Add(1)
		return "cached " + lastUserTurn(p)
	}}
	svc := newService(t, Config{Model: m, CacheTTL: time.Minute, Logger: zerolog.Nop()})
	hits := testutil.ToFloat64(cacheHitsTotal)

	first, err := svc.RunDetailed(context.Background(), userHistory("a"))
	if err != nil || first.Cached {
		t.Fatalf("first run: %+v %v", first, err)
	}
	second, err := svc.RunDetailed(context.Background(), userHistory("a"))
	if err != nil || !second.Cached || second.Answer != first.Answer {
		t.Fatalf("second run: %+v %v", second, err)
	}
	other, err := svc.RunDetailed(context.Background(), userHistory("b"))
	if err != nil || other.Cached || other.Answer != "cached b" {
		t.Fatalf("other run: %+v %v", other, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("model replied %d times, want 2", calls.Load())
	}
	if got := testutil.ToFloat64(cacheHitsTotal); got != hits+1 {
		t.Fatalf("cache hits %v -> %v", hits, got)
	}
}

func TestRunCacheDisabledByDefault(t *testing.T) {
	m := &llmtest.Model{}
	svc := newService(t, Config{Model: m, Logger: zerolog.Nop()})
	for i := 0; i < 2; i++ {
		out, err := svc.RunDetailed(context.Background(), userHistory("a"))
		if err != nil || out.Cached {
			t.Fatalf("run %d: %+v %v", i, out, err)
		}
	}
	if len(m.Contexts()) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(m.Contexts()))
	}
}

func TestRunSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	m := &llmtest.Model{Reply: func(string) string { return "hi" }}
	svc := newService(t, Config{Model: m, Tracer: tp.Tracer("test"), Logger: zerolog.Nop()})
	if _, err := svc.Run(context.Background(), userHistory("x")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		byName[s.Name()] = s
	}
	run, gen := byName["inference.run"], byName["inference.generate"]
	if run == nil || gen == nil {
		t.Fatalf("missing spans: %v", byName)
	}
	if gen.Parent().SpanID() != run.SpanContext().SpanID() {
		t.Fatalf("generate span is not a child of run")
	}
	var generated int64 = -1
	for _, kv := range gen.Attributes() {
		if kv.Key == "inference.generated_tokens" {
			generated = kv.Value.AsInt64()
		}
	}
	if generated != 2 {
		t.Fatalf("generated_tokens attribute=%d", generated)
	}
}

func TestCloseRejectsWork(t *testing.T) {
	svc := newService(t, Config{Model: &llmtest.Model{}, CacheTTL: time.Minute, Logger: zerolog.Nop()})
	if !svc.Ready() {
		t.Fatalf("expected ready")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if svc.Ready() {
		t.Fatalf("expected not ready after Close")
	}
	_, err := svc.Run(context.Background(), userHistory("x"))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
