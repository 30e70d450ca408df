package inference

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"inferd/internal/generation"
	"inferd/internal/llm"
	"inferd/internal/reasoning"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultCacheCapacity = 256
)

// Config encapsulates all tunables for Service construction.
type Config struct {
	// Model is shared read-only by every request.
	Model  llm.Model
	Params generation.Params
	// Workers bounds concurrent generations (default: NumCPU).
	Workers int
	// QueueWait is how long a request may wait for a worker; 0 waits until
	// the request context ends.
	QueueWait time.Duration
	// ThoughtMarker closes the reasoning block (default </think>).
	ThoughtMarker string
	// CacheTTL enables the answer cache when positive.
	CacheTTL      time.Duration
	CacheCapacity uint64
	Logger        zerolog.Logger
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueWait < 0 {
		c.QueueWait = 0
	}
	if c.ThoughtMarker == "" {
		c.ThoughtMarker = reasoning.ThinkClose
	}
	if c.CacheTTL > 0 && c.CacheCapacity == 0 {
		c.CacheCapacity = defaultCacheCapacity
	}
	return c
}
