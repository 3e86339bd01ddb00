// Command converse is the realtime conversational voice agent: it streams
// microphone audio to a dialog service and plays the synthesised replies
// with barge-in support.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/app"
	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/config"
	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/health"
	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/history"
	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/observe"
	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/resilience"
	paudio "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/portaudio"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/capture"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog"
	dialoggenai "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog/genai"
	geminilive "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog/gemini"
	oairealtime "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog/openai"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/transcript"
	transcriptpg "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/transcript/postgres"
)

// outputSampleRate is the playback rate; the dialog services synthesise
// 24 kHz PCM16.
const outputSampleRate = 24000

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
			fmt.Fprintf(os.Stderr, "converse: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "converse: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("converse starting",
		"config", *configPath,
		"provider", cfg.Agent.Provider.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "converse"})
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

	// ── Dialog provider ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.Create(cfg.Agent.Provider)
	if err != nil {
		slog.Error("failed to create dialog provider", "name", cfg.Agent.Provider.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.Agent.Provider.Name, "model", cfg.Agent.Provider.Model)

	if len(cfg.Agent.Fallbacks) > 0 {
		chain := resilience.NewProviderChain(cfg.Agent.Provider.Name, provider, resilience.ChainConfig{})
		for _, fb := range cfg.Agent.Fallbacks {
			p, err := reg.Create(fb)
			if err != nil {
				slog.Error("failed to create fallback provider", "name", fb.Name, "err", err)
				return 1
			}
			chain.Add(fb.Name, p)
			slog.Info("fallback provider created", "name", fb.Name, "model", fb.Model)
		}
		provider = chain
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	if err := paudio.Initialize(); err != nil {
		slog.Error("failed to initialise audio", "err", err)
		return 1
	}
	defer func() {
		if err := paudio.Terminate(); err != nil {
			slog.Warn("audio terminate error", "err", err)
		}
	}()

	output, err := paudio.OpenOutput(outputSampleRate)
	if err != nil {
		slog.Error("failed to open output device", "err", err)
		return 1
	}
	defer output.Close()

	// ── Transcript store ──────────────────────────────────────────────────────
	var store transcript.Store
	if cfg.Transcript.PostgresDSN != "" {
		pgStore, err := transcriptpg.NewStore(ctx, cfg.Transcript.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect transcript store", "err", err)
			return 1
		}
		defer pgStore.Close()
		store = pgStore
		slog.Info("transcript store connected")
	}

	conversationID := cfg.Agent.ConversationID
	if conversationID == "" {
		conversationID = newConversationID()
	}

	// ── Agent ─────────────────────────────────────────────────────────────────
	var captureOpts []capture.Option
	if cfg.Audio.SampleRate > 0 {
		captureOpts = append(captureOpts, capture.WithSampleRate(cfg.Audio.SampleRate))
	}
	if cfg.Audio.Window > 0 {
		captureOpts = append(captureOpts, capture.WithWindow(cfg.Audio.Window))
	}
	if cfg.Audio.QueueDepth > 0 {
		captureOpts = append(captureOpts, capture.WithQueueDepth(cfg.Audio.QueueDepth))
	}

	agent := app.New(app.Config{
		Provider: provider,
		Dialog: dialog.Config{
			Model:        cfg.Agent.Provider.Model,
			Voice:        cfg.Agent.Voice,
			Instructions: cfg.Agent.Instructions,
		},
		Input:          &paudio.InputDevice{},
		Output:         output,
		Store:          store,
		ConversationID: conversationID,
		CaptureOpts:    captureOpts,
	})
	agent.OnStatus(func(s app.Status) {
		slog.Info("agent status", "status", s)
	})

	if err := agent.Start(ctx); err != nil {
		slog.Error("failed to start agent", "err", err)
		return 1
	}
	if err := agent.StartRecording(ctx); err != nil {
		slog.Error("failed to start recording", "err", err)
		agent.Stop()
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		if !reflect.DeepEqual(old.Agent, next.Agent) {
			slog.Info("agent configuration changed, resetting session")
			if err := agent.Reset(ctx, "config-change"); err != nil {
				slog.Error("session reset after config change failed", "err", err)
			}
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("conversation ready — press Ctrl+C to shut down", "conversation_id", conversationID)

	// ── Metrics / health endpoint ─────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		if store != nil {
			history.New(store, conversationID).Register(mux)
		}
		health.New(
			health.NewChecker("session", func(context.Context) error {
				if agent.Status() == app.StatusError {
					return agent.Err()
				}
				return nil
			}),
		).Register(mux)

		srv := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: observe.Middleware(observe.DefaultMetrics())(mux),
		}

		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	if stopErr := agent.Stop(); stopErr != nil {
		slog.Warn("agent stop error", "err", stopErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the built-in dialog provider factories into
// reg. Each factory receives a config.ProviderEntry and constructs the
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini-live", func(entry config.ProviderEntry) (dialog.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.Register("openai-realtime", func(entry config.ProviderEntry) (dialog.Provider, error) {
		var opts []oairealtime.Option
		if entry.Model != "" {
			opts = append(opts, oairealtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oairealtime.WithBaseURL(entry.BaseURL))
		}
		return oairealtime.New(entry.APIKey, opts...), nil
	})

	reg.Register("genai", func(entry config.ProviderEntry) (dialog.Provider, error) {
		var opts []dialoggenai.Option
		if entry.Model != "" {
			opts = append(opts, dialoggenai.WithModel(entry.Model))
		}
		return dialoggenai.New(entry.APIKey, opts...), nil
	})
}

// newConversationID generates a short random identifier for labelling
// transcript entries.
func newConversationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("conv-%d", time.Now().UnixNano())
	}
	return "conv-" + hex.EncodeToString(b[:])
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
