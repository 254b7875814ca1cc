package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func geminiReply(text string) string {
	quoted, _ := json.Marshal(text)
	return `{"candidates":[{"content":{"parts":[{"text":` + string(quoted) + `}],"role":"model"}}]}`
}

func TestGeminiGenerate(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("API key missing from query: %s", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Write([]byte(geminiReply("  Sure, here it is.  ")))
	}))
	defer server.Close()

	gen, err := NewGeminiGenerator(GeminiConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewGeminiGenerator failed: %v", err)
	}

	req := testRequest()
	req.History = []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	reply, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply != "Sure, here it is." {
		t.Errorf("Reply = %q, expected trimmed text", reply)
	}

	if len(captured.Contents) != 3 {
		t.Fatalf("Expected 3 content entries, got %d", len(captured.Contents))
	}
	if captured.Contents[0].Role != "user" || captured.Contents[1].Role != "model" {
		t.Errorf("History roles = %q, %q; expected user, model",
			captured.Contents[0].Role, captured.Contents[1].Role)
	}
	final := captured.Contents[2]
	if final.Role != "user" {
		t.Errorf("Final content role = %q, expected user", final.Role)
	}
	if len(final.Parts) != 1 || !strings.Contains(final.Parts[0].Text, req.Utterance) {
		t.Error("Final content should carry the new utterance")
	}
	if !strings.Contains(final.Parts[0].Text, "Global Knowledge") {
		t.Error("Final content should carry the system prompt")
	}
}

func TestGeminiGenerateErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"quota"}`, ErrUnavailable},
		{"server error", http.StatusInternalServerError, "boom", ErrUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":"invalid"}`, ErrRejected},
		{"gateway timeout", http.StatusGatewayTimeout, "", ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			gen, err := NewGeminiGenerator(GeminiConfig{APIKey: "test-key", BaseURL: server.URL})
			if err != nil {
				t.Fatalf("NewGeminiGenerator failed: %v", err)
			}

			_, err = gen.Generate(context.Background(), testRequest())
			if !errors.Is(err, tt.expected) {
				t.Errorf("Generate error = %v, expected %v", err, tt.expected)
			}
		})
	}
}

func TestGeminiGenerateEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	gen, err := NewGeminiGenerator(GeminiConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewGeminiGenerator failed: %v", err)
	}

	_, err = gen.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Generate error = %v, expected ErrRejected", err)
	}
}

func TestGeminiGenerateTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	gen, err := NewGeminiGenerator(GeminiConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewGeminiGenerator failed: %v", err)
	}

	_, err = gen.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Generate error = %v, expected ErrTimeout", err)
	}
}

func TestNewGeminiGeneratorValidation(t *testing.T) {
	if _, err := NewGeminiGenerator(GeminiConfig{}); err == nil {
		t.Error("Expected error for empty API key")
	}

	gen, err := NewGeminiGenerator(GeminiConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewGeminiGenerator failed: %v", err)
	}
	if gen.model == "" || gen.baseURL == "" {
		t.Error("Defaults not applied for model and base URL")
	}
}
