package httpapi

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"inferd/internal/inference"
	"inferd/internal/llm/llmtest"
	"inferd/pkg/types"
)

func newInferenceMux(t *testing.T, cfg inference.Config) http.Handler {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	svc, err := inference.New(cfg)
	if err != nil {
		t.Fatalf("inference.New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return NewMux(svc)
}

func TestEndToEndThoughtIsStripped(t *testing.T) {
	m := &llmtest.Model{Reply: func(string) string { return "<think>plan it</think>\n\nFinal." }}
	h := newInferenceMux(t, inference.Config{Model: m})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonRequest("/infer", validBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body types.InferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.GeneratedText != "Final." {
		t.Fatalf("generated_text=%q", body.GeneratedText)
	}
}

func TestEndToEndPrefillFailure(t *testing.T) {
	h := newInferenceMux(t, inference.Config{Model: &llmtest.Model{DecodeErrAt: 1}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonRequest("/infer", validBody))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != "decode_error" || body.Error != "Failed to decode prompt: llama_decode returned 1" {
		t.Fatalf("body=%+v", body)
	}
}

func TestEndToEndQueueBackpressure(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m := &llmtest.Model{OnDecode: func(call int) {
		if call == 1 {
			once.Do(func() { close(started) })
			<-release
		}
	}}
	h := newInferenceMux(t, inference.Config{Model: m, Workers: 1, QueueWait: 20 * time.Millisecond})
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue"))

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(first, jsonRequest("/infer", validBody))
		close(done)
	}()
	<-started

	second := httptest.NewRecorder()
	h.ServeHTTP(second, jsonRequest("/infer", validBody))
	close(release)
	<-done

	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", second.Code)
	}
	if body := decodeError(t, second); body.Code != "too_busy" {
		t.Fatalf("body=%+v", body)
	}
	if first.Code != http.StatusOK {
		t.Fatalf("first status=%d", first.Code)
	}
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue")); got != before+1 {
		t.Fatalf("backpressure{queue} %v -> %v", before, got)
	}
}
