package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/generation"
	"inferd/internal/httpapi"
	"inferd/internal/inference"
	"inferd/internal/llm"
)

const shutdownGrace = 5 * time.Second

func runServeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	return serve(cmd.Context(), cfg, log, nil)
}

// loadModel initializes the runtime and loads the configured weights. Both
// are released by the returned cleanup.
func loadModel(cfg config.Config, log zerolog.Logger) (llm.Model, func(), error) {
	path, err := fsutil.ResolveFile(cfg.ModelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("model path: %w", err)
	}
	backend, err := initBackend()
	if err != nil {
		return nil, nil, fmt.Errorf("init backend: %w", err)
	}
	start := time.Now()
	model, err := backend.LoadModel(path, llm.ModelParams{GPULayers: cfg.GPULayers})
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("load model %s: %w", path, err)
	}
	log.Info().Str("model", path).Int("vocab", model.VocabSize()).Dur("took", time.Since(start)).Msg("model loaded")
	return model, func() {
		_ = model.Close()
		_ = backend.Close()
	}, nil
}

// serve runs the HTTP server until ctx is done. onListen, if set, receives
// the bound address.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, onListen func(net.Addr)) error {
	model, release, err := loadModel(cfg, log)
	if err != nil {
		return err
	}
	defer release()

	svc, err := inference.New(inference.Config{
		Model: model,
		Params: generation.Params{
			MaxNewTokens: cfg.MaxNewTokens,
			ContextSize:  cfg.ContextSize,
			BatchSize:    cfg.BatchSize,
			Threads:      cfg.Threads,
		},
		Workers:       cfg.Workers,
		QueueWait:     cfg.QueueWait(),
		CacheTTL:      cfg.CacheTTL(),
		CacheCapacity: uint64(cfg.CacheCapacity),
		Logger:        log.With().Str("component", "inference").Logger(),
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultRequestLogLevel(requestLogLevel(cfg.LogLevel))
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInferTimeoutSeconds(int64(cfg.InferTimeoutSeconds))
	httpapi.SetCORSOptions(cfg.AllowedOrigins, nil, nil, 0)
	httpapi.SetRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	httpapi.SetBaseContext(gctx)
	defer httpapi.SetBaseContext(nil)

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Strs("origins", cfg.AllowedOrigins).Msg("inferd listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown error")
		}
		return nil
	})
	if onListen != nil {
		onListen(ln.Addr())
	}
	return g.Wait()
}
