package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inferd/internal/chat"
	"inferd/internal/inference"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Run(ctx context.Context, history chat.History) (string, error)
	Ready() bool
}

var errMessagesRequired = errors.New("messages is required")

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(corsAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         corsMaxAge,
		}))
	}

	r.Post("/infer", inferHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// inferHandler godoc
//
//	@Summary		Generate a reply
//	@Description	Formats the conversation, runs greedy decoding and returns the answer with any reasoning block removed.
//	@Tags			inference
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.InferRequest	true	"Conversation history"
//	@Success		200		{object}	types.InferResponse
//	@Failure		400		{object}	types.ErrorResponse
//	@Failure		415		{object}	types.ErrorResponse
//	@Failure		429		{object}	types.ErrorResponse
//	@Failure		500		{object}	types.ErrorResponse
//	@Failure		504		{object}	types.ErrorResponse
//	@Router			/infer [post]
func inferHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "unsupported_media_type")
			return
		}
		if l := limiter(); l != nil && !l.Allow() {
			IncrementBackpressure("rate_limit")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.InferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// Oversized bodies surface here too; report them as plain 400.
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request")
			return
		}
		history, err := toHistory(req)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error(), "invalid_request")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			withRequestID(zlog.Info(), r).Int("messages", len(history)).Msg("infer start")
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if inferTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(inferTimeout)*time.Second)
			defer tcancel()
		}

		answer, err := svc.Run(ctx, history)
		if err != nil {
			// Client went away or the server is stopping: nobody to answer.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status, code := http.StatusInternalServerError, ""
			switch {
			case inference.IsTooBusy(err):
				IncrementBackpressure("queue")
				status, code = http.StatusTooManyRequests, "too_busy"
			default:
				var he HTTPError
				if errors.As(err, &he) {
					status = he.StatusCode()
				}
				var ce interface{ Code() string }
				if errors.As(err, &ce) {
					code = ce.Code()
				}
			}
			writeJSONError(w, status, err.Error(), code)
			if lvl >= LevelError {
				withRequestID(zlog.Error(), r).Int("status", status).Str("code", code).Dur("dur", time.Since(start)).Err(err).Msg("infer end")
			}
			return
		}

		writeJSON(w, http.StatusOK, types.InferResponse{GeneratedText: answer})
		if lvl >= LevelInfo {
			ev := withRequestID(zlog.Info(), r).Int("status", http.StatusOK).Dur("dur", time.Since(start))
			if lvl >= LevelDebug {
				ev = ev.Str("generated_text", answer)
			}
			ev.Msg("infer end")
		}
	}
}

func toHistory(req types.InferRequest) (chat.History, error) {
	if req.Messages == nil {
		return nil, errMessagesRequired
	}
	h := make(chat.History, 0, len(req.Messages))
	for i, m := range req.Messages {
		role, err := chat.ParseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		h = append(h, chat.Message{Role: role, Content: m.Content})
	}
	return h, nil
}

func withRequestID(e *zerolog.Event, r *http.Request) *zerolog.Event {
	e = e.Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		e = e.Str("request_id", rid)
	}
	return e
}
