package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"tomme-assistant/config"
	"tomme-assistant/internal/application"
	"tomme-assistant/internal/infra/anthropic"
	"tomme-assistant/internal/infra/audio"
	"tomme-assistant/internal/infra/bridge"
	"tomme-assistant/internal/infra/gemini"
	"tomme-assistant/internal/infra/openai"
	"tomme-assistant/internal/infra/pushover"
	"tomme-assistant/internal/infra/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	memoryStore, err := store.NewFileStore(afero.NewOsFs(), cfg.Memory.Dir)
	if err != nil {
		logger.Error("opening memory store", "error", err)
		os.Exit(1)
	}

	ui := bridge.NewServer(cfg.Bridge.Addr, cfg.Bridge.AuthToken, cfg.Bridge.RateLimit, logger)

	clock := application.SystemClock()
	memory := application.NewMemory(cfg.Memory.Capacity, memoryStore, ui, clock, logger)
	if err := memory.Load(ctx); err != nil {
		logger.Warn("loading conversation memory, starting empty", "error", err)
	}

	pendingTTL := config.Duration(logger, "memory.pending_ttl", cfg.Memory.PendingTTL, 30*time.Second)
	resolver := application.NewResolver(
		createInterpreter(cfg.Interpreter, logger),
		application.NewFallbackResponder(pendingTTL, uint64(time.Now().UnixNano())),
		application.ResolverConfig{
			Timeout:           config.Duration(logger, "interpreter.timeout", cfg.Interpreter.Timeout, 6*time.Second),
			HistoryTurns:      cfg.Interpreter.HistoryTurns,
			MaxUtteranceChars: cfg.Interpreter.MaxUtteranceChars,
			PendingTTL:        pendingTTL,
			Clock:             clock,
		},
		logger,
	)

	notifiers := application.Notifiers{ui}
	if cfg.Pushover.Enabled {
		notifiers = append(notifiers, pushover.NewClient(pushover.Config{
			Token:    cfg.Pushover.Token,
			UserKey:  cfg.Pushover.UserKey,
			Device:   cfg.Pushover.Device,
			Priority: cfg.Pushover.Priority,
		}))
	}

	session := application.NewSession(
		application.SessionConfig{
			WakePhrases:    cfg.Voice.WakePhrases,
			Greeting:       cfg.Voice.Greeting,
			Nudge:          cfg.Voice.Nudge,
			Continuous:     *cfg.Voice.Continuous,
			NudgeAfter:     config.Duration(logger, "voice.continuous_nudge_after", cfg.Voice.NudgeAfter, 45*time.Second),
			StopAfter:      config.Duration(logger, "voice.continuous_stop_after", cfg.Voice.StopAfter, 20*time.Second),
			ListenTimeout:  config.Duration(logger, "voice.listen_timeout", cfg.Voice.ListenTimeout, 30*time.Second),
			RestartBackoff: config.Duration(logger, "voice.restart_backoff", cfg.Voice.RestartBackoff, 300*time.Millisecond),
			Voice:          cfg.Voice.Voice,
		},
		application.SessionDeps{
			Recognizer:  createRecognizer(cfg, ui, logger),
			Synthesizer: ui.Synthesizer(),
			Resolver:    resolver,
			Memory:      memory,
			Navigator:   ui,
			Notifier:    notifiers,
			Clock:       clock,
			Logger:      logger,
		},
	)
	session.Watch(ui.PublishState)
	ui.Attach(session, memory)

	if err := ui.Start(ctx); err != nil {
		logger.Error("starting bridge", "error", err)
		os.Exit(1)
	}
	defer ui.Stop()

	suggester := application.NewSuggester(memory, memory, logger)
	interval := config.Duration(logger, "suggestions.interval", cfg.Suggestions.Interval, time.Minute)
	suggester.StartPeriodic(ctx, interval, ui.PublishSuggestions)

	go func() {
		if err := session.EnableWakeListening(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("wake listening not enabled", "error", err)
		}
	}()

	logger.Info("starting tomme voice assistant",
		"audio_source", cfg.Audio.Source,
		"interpreter", cfg.Interpreter.Provider,
		"bridge_addr", cfg.Bridge.Addr,
	)

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session error", "error", err)
		os.Exit(1)
	}
}

func createInterpreter(cfg config.InterpreterConfig, logger *slog.Logger) application.Interpreter {
	if cfg.APIKey == "" || cfg.Provider == "none" {
		logger.Warn("no interpreter configured, using fallback rules only")
		return application.UnavailableInterpreter{}
	}

	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClaudeClient(anthropic.Config{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			Attempts: cfg.Attempts,
		})
	case "gemini":
		return gemini.NewClient(gemini.Config{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			Attempts: cfg.Attempts,
		})
	default:
		logger.Warn("unknown interpreter provider, using fallback rules only", "provider", cfg.Provider)
		return application.UnavailableInterpreter{}
	}
}

func createRecognizer(cfg *config.Config, ui *bridge.Server, logger *slog.Logger) application.SpeechRecognizer {
	switch cfg.Audio.Source {
	case "bridge":
		return ui.Recognizer()
	case "microphone":
		var stt application.SpeechToText = &application.NoopSTT{}
		if cfg.OpenAI.APIKey != "" {
			stt = openai.NewWhisperClient(openai.WhisperConfig{
				APIKey:     cfg.OpenAI.APIKey,
				Language:   cfg.OpenAI.Language,
				Model:      cfg.OpenAI.Model,
				BaseURL:    cfg.OpenAI.BaseURL,
				Vocabulary: append([]string{"Tomme"}, cfg.Voice.WakePhrases...),
			})
		}
		segments := audio.DefaultSegmentConfig(cfg.Audio.SampleRate)
		input := audio.NewPortAudioInput(segments.SampleRate, segments.FrameSize)
		return audio.NewMicrophoneRecognizer(input, stt, segments, logger)
	default:
		logger.Warn("unknown audio source, using bridge", "source", cfg.Audio.Source)
		return ui.Recognizer()
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("component", "tomme")
}
