package inference

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"inferd/internal/chat"
	"inferd/internal/generation"
	"inferd/internal/llm"
	"inferd/internal/reasoning"
)

const tracerName = "inferd/internal/inference"

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("inference service closed")

// Service turns conversation histories into answers using a shared model.
// It is safe for concurrent use.
type Service struct {
	model  llm.Model
	params generation.Params
	marker string
	pool   *pool
	cache  *answerCache
	log    zerolog.Logger
	tracer trace.Tracer
	closed atomic.Bool
}

// Outcome is the detailed result of one run.
type Outcome struct {
	SessionID string
	Answer    string
	// Thought is the reasoning block, if any. It is logged, never served.
	Thought *string
	// Result is zero when Cached is true.
	Result generation.Result
	Cached bool
}

// New constructs a Service. The caller keeps ownership of cfg.Model.
func New(cfg Config) (*Service, error) {
	if cfg.Model == nil {
		return nil, errors.New("inference: model is required")
	}
	cfg = cfg.withDefaults()
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		model:  cfg.Model,
		params: cfg.Params,
		marker: cfg.ThoughtMarker,
		pool:   newPool(cfg.Workers, cfg.QueueWait),
		cache:  newAnswerCache(cfg.CacheTTL, cfg.CacheCapacity),
		log:    cfg.Logger,
		tracer: tracer,
	}, nil
}

// Run generates the answer for history. Pipeline failures are *Error;
// IsTooBusy(err) reports admission failures.
func (s *Service) Run(ctx context.Context, history chat.History) (string, error) {
	out, err := s.RunDetailed(ctx, history)
	if err != nil {
		return "", err
	}
	return out.Answer, nil
}

// RunDetailed is Run with token counts, the thought and cache status.
func (s *Service) RunDetailed(ctx context.Context, history chat.History) (Outcome, error) {
	id := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "inference.run", trace.WithAttributes(
		attribute.String("inference.session_id", id),
		attribute.Int("inference.messages", len(history)),
	))
	defer span.End()
	log := s.log.With().Str("session", id).Logger()
	out := Outcome{SessionID: id}

	if s.closed.Load() {
		return out, &Error{Kind: KindInternal, Err: ErrClosed}
	}

	prompt := chat.Format(history)
	if answer, ok := s.cache.get(prompt); ok {
		cacheHitsTotal.Inc()
		runsTotal.WithLabelValues("cached").Inc()
		span.SetAttributes(attribute.Bool("inference.cache_hit", true))
		log.Debug().Msg("answer served from cache")
		out.Answer, out.Cached = answer, true
		return out, nil
	}

	start := time.Now()
	var res generation.Result
	err := s.pool.Do(ctx, func() error {
		gctx, gspan := s.tracer.Start(ctx, "inference.generate")
		defer gspan.End()
		var gerr error
		res, gerr = generation.Generate(gctx, s.model, prompt, s.params)
		gspan.SetAttributes(
			attribute.Int("inference.prompt_tokens", res.PromptTokens),
			attribute.Int("inference.generated_tokens", res.GeneratedTokens),
			attribute.String("inference.stop_reason", string(res.StopReason)),
		)
		if gerr != nil {
			gspan.RecordError(gerr)
			gspan.SetStatus(codes.Error, string(generation.StageOf(gerr)))
		}
		return gerr
	})
	if err != nil {
		if IsTooBusy(err) {
			runsTotal.WithLabelValues("too_busy").Inc()
			span.SetStatus(codes.Error, "too busy")
			log.Warn().Err(err).Msg("no worker available")
			return out, err
		}
		e := classify(err)
		runsTotal.WithLabelValues(e.Code()).Inc()
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Code())
		if e.Kind == KindCanceled {
			log.Info().Err(e.Err).Msg("generation canceled")
		} else {
			log.Error().Err(e).Str("code", e.Code()).Msg("inference failed")
		}
		return out, e
	}

	generationDuration.WithLabelValues(string(res.StopReason)).Observe(time.Since(start).Seconds())
	tokensTotal.WithLabelValues("prompt").Add(float64(res.PromptTokens))
	tokensTotal.WithLabelValues("generated").Add(float64(res.GeneratedTokens))

	split := reasoning.SplitAt(res.Text, s.marker)
	if split.HasThought() {
		log.Info().Str("thought", *split.Thought).Msg("model thought")
	}
	s.cache.set(prompt, split.Answer)
	runsTotal.WithLabelValues("ok").Inc()
	log.Debug().
		Int("prompt_tokens", res.PromptTokens).
		Int("generated_tokens", res.GeneratedTokens).
		Str("stop_reason", string(res.StopReason)).
		Dur("elapsed", time.Since(start)).
		Msg("generation complete")

	out.Answer = split.Answer
	out.Thought = split.Thought
	out.Result = res
	return out, nil
}

// Ready reports whether the service accepts work.
func (s *Service) Ready() bool { return !s.closed.Load() }

// Close stops accepting work and releases the cache. In-flight runs finish.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cache.close()
	return nil
}
