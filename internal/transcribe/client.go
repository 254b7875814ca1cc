package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/smitsp11/sonna-mlh/internal/audio"
)

// Input validation failures. Both are caller-must-fix errors and occur before
// any network request, so a rejected payload never reaches the whisper server.
var (
	ErrEmptyAudio        = errors.New("audio payload is empty or has zero duration")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Client sends utterance audio to a local faster-whisper server. Inference is
// local and blocking; the semaphore bounds how many turns can occupy the model
// at once so one slow transcription cannot starve other units of work.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Language      string
	Timeout       time.Duration
	MaxConcurrent int
}

// response is the whisper server's transcription payload
type response struct {
	Text string `json:"text"`
}

// NewClient creates a new transcription client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.Language == "" {
		config.Language = "en"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe converts an audio payload to text. formatHint is a content type
// or file extension; it must resolve to a supported container and the payload
// itself must look like audio with a non-zero duration.
func (c *Client) Transcribe(ctx context.Context, audioData []byte, formatHint string) (string, error) {
	format, err := validate(audioData, formatHint)
	if err != nil {
		return "", err
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	body, contentType, err := c.buildRequestBody(audioData, format)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transcription response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse transcription response: %w", err)
	}

	return strings.TrimSpace(parsed.Text), nil
}

// validate rejects bad payloads before any side effect happens.
func validate(audioData []byte, formatHint string) (audio.Format, error) {
	if len(audioData) == 0 {
		return "", ErrEmptyAudio
	}

	format, ok := audio.ParseHint(formatHint)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, formatHint)
	}

	if sniffed, err := audio.DetectFormat(audioData); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	} else if sniffed != format {
		// Trust the payload over the hint; callers routinely mislabel uploads
		format = sniffed
	}

	if format == audio.FormatWAV {
		if d, ok := audio.Duration(audioData); ok && d <= 0 {
			return "", ErrEmptyAudio
		}
		// The whisper server expects mono PCM-16; reject WAV variants it
		// cannot decode before they occupy a model slot.
		if _, _, err := audio.DecodeWAV(audioData); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
	}

	return format, nil
}

// buildRequestBody assembles the multipart upload for the whisper server
func (c *Client) buildRequestBody(audioData []byte, format audio.Format) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("audio", "utterance."+string(format))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audioData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"language":   c.config.Language,
		"vad_filter": "true",
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
