package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smitsp11/sonna-mlh/internal/config"
	"github.com/smitsp11/sonna-mlh/internal/metrics"
	"github.com/smitsp11/sonna-mlh/internal/turn"
)

// TurnRunner executes one voice turn
type TurnRunner interface {
	Run(ctx context.Context, req turn.Request) (*turn.Result, error)
}

// HTTPServer exposes the voice turn endpoint plus monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	runner  TurnRunner
	metrics *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
	turns     int64
	degraded  int64
	failed    int64
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, runner TurnRunner, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		runner:    runner,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// A turn spans transcription, generation and synthesis; the write
		// timeout has to cover the whole pipeline.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// The voice turn endpoint
	mux.HandleFunc("/voice-loop", h.withMetrics("/voice-loop", h.handleVoiceLoop))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleVoiceLoop implements the POST /voice-loop endpoint. The request
// carries one audio utterance, either as a multipart "audio" file or as a
// raw body with an audio content type. On success the response body is MP3
// audio and the transcript and reply text travel in headers; when synthesis
// degraded, the response is JSON instead.
func (h *HTTPServer) handleVoiceLoop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	audioData, formatHint, err := h.readAudio(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var conversationID int64
	if raw := r.FormValue("conversation_id"); raw != "" {
		conversationID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid conversation_id", http.StatusBadRequest)
			return
		}
	}

	result, err := h.runner.Run(r.Context(), turn.Request{
		Audio:          audioData,
		FormatHint:     formatHint,
		UserEmail:      r.FormValue("user_email"),
		ConversationID: conversationID,
	})
	if err != nil {
		h.recordTurn(false, true)
		h.writeTurnError(w, err)
		return
	}
	h.recordTurn(result.Degraded, false)

	w.Header().Set("X-Conversation-ID", strconv.FormatInt(result.ConversationID, 10))
	w.Header().Set("X-Transcribed-Text", headerSafe(result.UserText))
	w.Header().Set("X-Response-Text", headerSafe(result.ReplyText))

	if result.Degraded {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"conversation_id":  result.ConversationID,
			"transcribed_text": result.UserText,
			"response_text":    result.ReplyText,
			"degraded":         true,
		})
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Write(result.Audio)
}

// readAudio extracts the utterance payload and a format hint from the request
func (h *HTTPServer) readAudio(r *http.Request) ([]byte, string, error) {
	maxSize := h.config.HTTP.GetMaxAudioSize()
	r.Body = http.MaxBytesReader(nil, r.Body, maxSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(maxSize); err != nil {
			return nil, "", fmt.Errorf("failed to parse upload: %v", err)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return nil, "", fmt.Errorf("missing audio file field")
		}
		defer file.Close()

		audioData, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read upload: %v", err)
		}

		hint := header.Header.Get("Content-Type")
		if hint == "" || hint == "application/octet-stream" {
			hint = filepath.Ext(header.Filename)
		}
		return audioData, hint, nil
	}

	audioData, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read request body: %v", err)
	}
	return audioData, mediaType, nil
}

// writeTurnError maps the pipeline error taxonomy onto HTTP status codes
func (h *HTTPServer) writeTurnError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := turn.KindPersistence
	message := "Internal error"

	var turnErr *turn.Error
	if errors.As(err, &turnErr) {
		kind = turnErr.Kind
		switch turnErr.Kind {
		case turn.KindInput:
			status = http.StatusBadRequest
			message = turnErr.Err.Error()
		case turn.KindUpstreamTransient:
			status = http.StatusBadGateway
			message = "Upstream service unavailable, try again"
		case turn.KindUpstreamPermanent:
			status = http.StatusBadGateway
			message = "Upstream service rejected the request"
		case turn.KindPersistence:
			status = http.StatusInternalServerError
			message = "Failed to persist conversation"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"kind":  string(kind),
	})
}

// headerSafe flattens text for transport in an HTTP header
func headerSafe(text string) string {
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(text)
}

func (h *HTTPServer) recordTurn(degraded, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns++
	if degraded {
		h.degraded++
	}
	if failed {
		h.failed++
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "sonna",
			"version": "1.0.0",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":           h.config.HTTP.Port,
			"address":        h.config.HTTP.Address,
			"max_audio_size": h.config.HTTP.GetMaxAudioSize(),
		},
		"store": map[string]interface{}{
			"path":            h.config.Store.Path,
			"activity_window": h.config.Store.ActivityWindow,
		},
		"context": map[string]interface{}{
			"history_limit":    h.config.Context.HistoryLimit,
			"default_timezone": h.config.Context.DefaultTimezone,
			"location":         h.config.Context.Location,
		},
		"transcription": map[string]interface{}{
			"endpoint":       h.config.Transcription.Endpoint,
			"language":       h.config.Transcription.Language,
			"timeout":        h.config.Transcription.Timeout,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"generation": map[string]interface{}{
			"provider":     h.config.Generation.Provider,
			"model":        h.config.Generation.Model,
			"timeout":      h.config.Generation.Timeout,
			"max_retries":  h.config.Generation.MaxRetries,
			"backoff_base": h.config.Generation.BackoffBase,
		},
		"synthesis": map[string]interface{}{
			"endpoint":        h.config.Synthesis.Endpoint,
			"voice":           h.config.Synthesis.Voice,
			"max_text_length": h.config.Synthesis.MaxTextLength,
			"timeout":         h.config.Synthesis.Timeout,
			"max_concurrent":  h.config.Synthesis.MaxConcurrent,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	turns, degraded, failed := h.turns, h.degraded, h.failed
	h.mu.RUnlock()

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"turns": map[string]interface{}{
			"total":    turns,
			"degraded": degraded,
			"failed":   failed,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Sonna Voice Assistant Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /voice-loop": "Run one voice turn: audio in, spoken reply out",
			"GET /":            "API documentation",
			"GET /health":      "Service health check",
			"GET /config":      "Get service configuration",
			"GET /stats":       "Get service statistics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
