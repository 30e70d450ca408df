package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"inferd/internal/config"
	"inferd/internal/llm"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// initBackend is replaced in tests.
var initBackend = llm.InitBackend

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Local LLM chat inference over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServeCmd,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.String("addr", "", "HTTP listen address (default 127.0.0.1:8080)")
	pf.String("model", "", "Path to the GGUF model file")
	pf.String("allowed-origins", "", "Comma-separated CORS origins")
	pf.Int("context-size", 0, "Context window in tokens (default 4096)")
	pf.Int("batch-size", 0, "Physical batch size (default 512)")
	pf.Int("max-new-tokens", 0, "Generation budget per request (default 4096)")
	pf.Int("threads", 0, "Decode threads (0 = runtime default)")
	pf.Int("gpu-layers", 0, "Layers offloaded to the GPU")
	pf.Int("workers", 0, "Concurrent generations (0 = number of CPUs)")
	pf.String("log-level", "", "Log level: debug|info|warn|error (default info)")
	pf.String("log-format", "", "Log format: json|console (default json)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve POST /infer",
		RunE:  runServeCmd,
	}
	check := &cobra.Command{
		Use:   "check",
		Short: "Load the model and run a tokenization smoke test",
		RunE:  runCheckCmd,
	}
	ver := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "inferd %s (%s)\n", version, commit)
			return err
		},
	}
	root.AddCommand(serve, check, ver)
	return root
}

// loadConfig resolves defaults < config file < INFERD_* env < flags and
// validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	str("addr", &cfg.Addr)
	str("model", &cfg.ModelPath)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	num("context-size", &cfg.ContextSize)
	num("batch-size", &cfg.BatchSize)
	num("max-new-tokens", &cfg.MaxNewTokens)
	num("threads", &cfg.Threads)
	num("gpu-layers", &cfg.GPULayers)
	num("workers", &cfg.Workers)
	if flags.Changed("allowed-origins") {
		v, _ := flags.GetString("allowed-origins")
		cfg.AllowedOrigins = config.SplitCSV(v)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
