package synthesize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUnavailable marks transient synthesis failures. The turn can still
	// succeed without audio, so callers treat this as a degrade signal rather
	// than a hard stop.
	ErrUnavailable = errors.New("synthesis backend unavailable")

	// ErrTextTooLong marks reply text the backend refuses to voice. Retrying
	// the same text cannot help.
	ErrTextTooLong = errors.New("text exceeds synthesis length limit")
)

// Client converts reply text into spoken audio through a TTS server. The
// semaphore bounds concurrent synthesis so a burst of turns cannot pile
// requests onto the backend.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
}

// Config contains synthesis client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Voice         string
	MaxTextLength int
	Timeout       time.Duration
	MaxConcurrent int
}

// request is the TTS server's synthesis payload
type request struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// NewClient creates a new synthesis client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.MaxTextLength <= 0 {
		config.MaxTextLength = 4096
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

// Synthesize converts text into MP3 audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrTextTooLong)
	}
	if len([]rune(text)) > c.config.MaxTextLength {
		return nil, fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, len([]rune(text)), c.config.MaxTextLength)
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, err := json.Marshal(request{Text: text, Voice: c.config.Voice})
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: backend returned no audio", ErrUnavailable)
	}

	return audioData, nil
}

// classifyStatus maps the backend's HTTP status onto the synthesis taxonomy
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge || resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d: %s", ErrTextTooLong, resp.StatusCode, string(body))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}
}
