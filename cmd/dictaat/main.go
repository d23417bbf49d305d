// Command dictaat is the speech-to-text gateway server for dental dictation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mondzorgtools/dictaat/internal/asr"
	"github.com/mondzorgtools/dictaat/internal/auth"
	"github.com/mondzorgtools/dictaat/internal/config"
	"github.com/mondzorgtools/dictaat/internal/health"
	"github.com/mondzorgtools/dictaat/internal/lexicon"
	"github.com/mondzorgtools/dictaat/internal/observe"
	"github.com/mondzorgtools/dictaat/internal/pairing"
	"github.com/mondzorgtools/dictaat/internal/resilience"
	"github.com/mondzorgtools/dictaat/internal/server"
	"github.com/mondzorgtools/dictaat/internal/transcribe"
)

// startupPingTimeout bounds the ASR reachability probe at startup. An
// unreachable backend is a deployment error, reported as exit code 2.
const startupPingTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dictaat: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dictaat: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("dictaat starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dictaat"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── ASR provider ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	backend, err := reg.CreateASR(cfg.ASR)
	if err != nil {
		slog.Error("failed to create asr provider", "provider", cfg.ASR.Provider, "err", err)
		return 1
	}
	provider := resilience.NewASR(backend, resilience.BreakerConfig{Logger: logger})
	slog.Info("asr provider created", "provider", provider.Name(), "model", provider.Model())

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	err = provider.Ping(pingCtx)
	cancel()
	if err != nil {
		slog.Error("asr backend unreachable", "provider", provider.Name(), "err", err)
		return 2
	}

	// ── Lexicon store ─────────────────────────────────────────────────────────
	var (
		store   lexicon.Store
		storeCk health.Checker
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := lexicon.NewPGStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		storeCk = health.Checker{Name: "store", Check: pg.Ping}
		slog.Info("lexicon store ready", "backend", "postgres")
	} else {
		store = lexicon.NewMemStore()
		storeCk = health.Checker{Name: "store", Check: func(context.Context) error { return nil }}
		slog.Info("lexicon store ready", "backend", "memory")
	}
	cache := lexicon.NewCache(lexicon.NewLoader(store))

	// ── Core services ─────────────────────────────────────────────────────────
	orchestrator := transcribe.New(provider, cache,
		transcribe.WithConcurrency(cfg.ASR.Concurrency),
		transcribe.WithASRTimeout(cfg.ASR.Timeout),
		transcribe.WithLogger(logger),
	)

	issuer, err := auth.NewIssuer([]byte(cfg.Auth.SigningKey), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		slog.Error("failed to create token issuer", "err", err)
		return 1
	}

	pairs := pairing.NewStore(pairing.WithTTL(cfg.Pairing.CodeTTL))

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies live; anything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.Empty() {
			return
		}
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.LimitsChanged || diff.PairingChanged {
			slog.Warn("limits or pairing config changed on disk; restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(cfg, provider, orchestrator, pairs, issuer,
		server.WithLogger(logger),
		server.WithReadyCheck(storeCk),
		server.WithReadyCheck(health.Checker{Name: "asr", Check: provider.Ping}),
	)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the ASR backends that ship with dictaat
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterASR("whisper-server", func(cfg config.ASRConfig) (asr.Provider, error) {
		opts := []asr.WhisperOption{asr.WithWhisperTimeout(cfg.Timeout)}
		if cfg.Model != "" {
			opts = append(opts, asr.WithWhisperModel(cfg.Model))
		}
		return asr.NewWhisperServer(cfg.URL, opts...)
	})

	reg.RegisterASR("openai", func(cfg config.ASRConfig) (asr.Provider, error) {
		opts := []asr.OpenAIOption{asr.WithOpenAITimeout(cfg.Timeout)}
		if cfg.Model != "" {
			opts = append(opts, asr.WithOpenAIModel(cfg.Model))
		}
		if cfg.URL != "" {
			opts = append(opts, asr.WithOpenAIBaseURL(cfg.URL))
		}
		return asr.NewOpenAI(cfg.APIKey, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered asr provider", "name", name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
