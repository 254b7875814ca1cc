package generate

import (
	"context"
	"errors"
	"time"
)

// Upstream failure classification. The orchestrator retries ErrUnavailable
// and ErrTimeout with backoff; ErrRejected is surfaced immediately.
var (
	ErrUnavailable = errors.New("generation upstream unavailable")
	ErrRejected    = errors.New("generation request rejected")
	ErrTimeout     = errors.New("generation request timed out")
)

// Message is one entry of the conversation window sent to the backend.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// GlobalFacts carries real-time knowledge that is independent of the user:
// the current moment localized to the user's timezone and the spoken
// location. It is kept apart from user data so prompts never have to derive
// "now" from user-scoped context.
type GlobalFacts struct {
	Now      time.Time
	Timezone string
	Location string
}

// Request is the assembled input for one reply generation.
type Request struct {
	Global      GlobalFacts
	Preferences map[string]any
	History     []Message
	Utterance   string
}

// Generator produces a reply for an assembled turn context. Implementations
// own vendor-specific prompt formatting; the call is all-or-nothing per
// attempt and no partial output is returned.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}
