package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smitsp11/sonna-mlh/internal/config"
	"github.com/smitsp11/sonna-mlh/internal/generate"
	"github.com/smitsp11/sonna-mlh/internal/metrics"
	"github.com/smitsp11/sonna-mlh/internal/server"
	"github.com/smitsp11/sonna-mlh/internal/store"
	"github.com/smitsp11/sonna-mlh/internal/synthesize"
	"github.com/smitsp11/sonna-mlh/internal/transcribe"
	"github.com/smitsp11/sonna-mlh/internal/turn"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "sonna"
	serviceVersion    = "1.0.0"

	defaultUserEmail = "default@sonna.local"
	defaultUserName  = "Default User"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("address", cfg.HTTP.Address),
		slog.String("store_path", cfg.Store.Path),
		slog.Int("history_limit", cfg.Context.HistoryLimit),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("generation_provider", cfg.Generation.Provider),
		slog.String("generation_model", cfg.Generation.Model),
		slog.String("synthesis_endpoint", cfg.Synthesis.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open the conversation store
	conversationStore, err := store.New(cfg.Store.Path)
	if err != nil {
		logger.Error("Failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conversationStore.Close()
	logger.Info("Conversation store opened", slog.String("path", cfg.Store.Path))

	// Initialize the transcription client
	transcriber, err := transcribe.NewClient(transcribe.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Language:      cfg.Transcription.Language,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the reasoning backend
	generator, err := newGenerator(cfg.Generation)
	if err != nil {
		logger.Error("Failed to create generator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Generator initialized",
		slog.String("provider", generator.Name()),
		slog.String("model", cfg.Generation.Model),
	)

	// Initialize the synthesis client
	synthesizer, err := synthesize.NewClient(synthesize.Config{
		Endpoint:      cfg.Synthesis.Endpoint,
		APIKey:        cfg.Synthesis.APIKey,
		Voice:         cfg.Synthesis.Voice,
		MaxTextLength: cfg.Synthesis.MaxTextLength,
		Timeout:       cfg.Synthesis.GetTimeoutDuration(),
		MaxConcurrent: cfg.Synthesis.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Wire the turn orchestrator
	orchestrator, err := turn.NewOrchestrator(turn.Config{
		HistoryLimit:     cfg.Context.HistoryLimit,
		ActivityWindow:   cfg.Store.GetActivityWindow(),
		MaxRetries:       cfg.Generation.MaxRetries,
		BackoffBase:      cfg.Generation.GetBackoffBase(),
		DefaultUserEmail: defaultUserEmail,
		DefaultUserName:  defaultUserName,
		DefaultTimezone:  cfg.Context.DefaultTimezone,
		Location:         cfg.Context.Location,
	}, transcriber, generator, synthesizer, conversationStore, appMetrics, logger, nil)
	if err != nil {
		logger.Error("Failed to create orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Turn orchestrator initialized",
		slog.Int("history_limit", cfg.Context.HistoryLimit),
		slog.Duration("activity_window", cfg.Store.GetActivityWindow()),
	)

	// Initialize and start the HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, orchestrator, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// newGenerator builds the configured reasoning backend
func newGenerator(cfg config.GenerationConfig) (generate.Generator, error) {
	switch cfg.Provider {
	case "openai":
		return generate.NewOpenAIGenerator(generate.OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.GetTimeoutDuration(),
		})
	case "gemini", "":
		return generate.NewGeminiGenerator(generate.GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.GetTimeoutDuration(),
		})
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
