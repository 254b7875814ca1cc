package synthesize

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

func TestSynthesize(t *testing.T) {
	mp3 := []byte{0xFF, 0xFB, 0x90, 0x00, 0x01, 0x02}

	var captured request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(mp3)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, APIKey: "test-key", Voice: "en-US"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	audio, err := client.Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != string(mp3) {
		t.Error("Returned audio does not match server response")
	}
	if captured.Text != "Hello there" || captured.Voice != "en-US" {
		t.Errorf("Request payload = %+v", captured)
	}
}

func TestSynthesizeRejectsLongText(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, MaxTextLength: 10})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tests := []struct {
		name string
		text string
	}{
		{"empty text", ""},
		{"over limit", strings.Repeat("a", 11)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Synthesize(context.Background(), tt.text)
			if !errors.Is(err, ErrTextTooLong) {
				t.Errorf("Synthesize error = %v, expected ErrTextTooLong", err)
			}
		})
	}

	if requests != 0 {
		t.Errorf("Rejected text reached the server %d times", requests)
	}
}

func TestSynthesizeErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected error
	}{
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"rate limited", http.StatusTooManyRequests, ErrUnavailable},
		{"payload too large", http.StatusRequestEntityTooLarge, ErrTextTooLong},
		{"bad request", http.StatusBadRequest, ErrTextTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, err := NewClient(Config{Endpoint: server.URL})
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}

			_, err = client.Synthesize(context.Background(), "hello")
			if !errors.Is(err, tt.expected) {
				t.Errorf("Synthesize error = %v, expected %v", err, tt.expected)
			}
		})
	}
}

func TestSynthesizeEmptyResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Synthesize error = %v, expected ErrUnavailable", err)
	}
}

func TestSynthesizeTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client, err := NewClient(Config{Endpoint: server.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Synthesize error = %v, expected ErrUnavailable", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	client, err := NewClient(Config{Endpoint: "http://localhost:5002/tts"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.config.Timeout != 30*time.Second {
		t.Errorf("Default timeout = %v", client.config.Timeout)
	}
	if client.config.MaxTextLength != 4096 {
		t.Errorf("Default max text length = %d", client.config.MaxTextLength)
	}
	if cap(client.semaphore) != 4 {
		t.Errorf("Default concurrency = %d", cap(client.semaphore))
	}
}
