// Command voicerelay is the main entry point for the realtime voice relay
// server.
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

	"github.com/MeGallin/ai-chat-bot-api/internal/config"
	"github.com/MeGallin/ai-chat-bot-api/internal/observe"
	"github.com/MeGallin/ai-chat-bot-api/internal/relay"
	"github.com/MeGallin/ai-chat-bot-api/internal/server"
	"github.com/MeGallin/ai-chat-bot-api/internal/speech"
	rtopenai "github.com/MeGallin/ai-chat-bot-api/pkg/realtime/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voicerelay starting",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"allowed_origins", cfg.Server.AllowedOrigins,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:   "voicerelay",
		UpstreamModel: cfg.OpenAI.RealtimeModel,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Upstream clients ──────────────────────────────────────────────────────
	var rtOpts []rtopenai.Option
	if cfg.OpenAI.RealtimeModel != "" {
		rtOpts = append(rtOpts, rtopenai.WithModel(cfg.OpenAI.RealtimeModel))
	}
	if cfg.OpenAI.RealtimeURL != "" {
		rtOpts = append(rtOpts, rtopenai.WithBaseURL(cfg.OpenAI.RealtimeURL))
	}
	upstream := rtopenai.New(cfg.OpenAI.APIKey, rtOpts...)

	speechOpts := []speech.Option{
		speech.WithChatModel(cfg.OpenAI.ChatModel),
		speech.WithTTSModel(cfg.OpenAI.TTSModel),
		speech.WithVoice(cfg.OpenAI.Voice),
		speech.WithTimeout(cfg.OpenAI.Timeout),
	}
	if cfg.OpenAI.BaseURL != "" {
		speechOpts = append(speechOpts, speech.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	pipeline, err := speech.New(cfg.OpenAI.APIKey, speechOpts...)
	if err != nil {
		slog.Error("failed to build speech pipeline", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies live; anything else logs a restart reminder.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				logLevel.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level updated", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes need a restart to apply", "settings", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Error("failed to watch config file", "path", *configPath, "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// ── Server ────────────────────────────────────────────────────────────────
	registry := relay.NewRegistry()
	srv := server.New(cfg, registry, upstream, pipeline,
		server.WithLogger(logger),
	)

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// slogLevel maps the configured level onto the slog scale.
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
