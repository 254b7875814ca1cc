package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/smitsp11/sonna-mlh/internal/generate"
	"github.com/smitsp11/sonna-mlh/internal/store"
)

// Context is the bounded slice of state a single turn reasons over. It is
// assembled once, before the user message is appended, so the history never
// contains the utterance being answered.
type Context struct {
	Global      generate.GlobalFacts
	Preferences map[string]any
	History     []generate.Message
}

// ContextStore is the store surface the assembler reads from.
type ContextStore interface {
	AcquirePreferences(ctx context.Context, userID int64) (*store.Preferences, int, error)
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]store.Message, error)
}

// Assembler builds turn contexts from persisted state plus the wall clock.
type Assembler struct {
	store           ContextStore
	clock           func() time.Time
	defaultTimezone string
	location        string
}

// NewAssembler creates a context assembler. clock may be nil, in which case
// time.Now is used.
func NewAssembler(contextStore ContextStore, defaultTimezone, location string, clock func() time.Time) *Assembler {
	if clock == nil {
		clock = time.Now
	}
	return &Assembler{
		store:           contextStore,
		clock:           clock,
		defaultTimezone: defaultTimezone,
		location:        location,
	}
}

// Assemble reads the user's preferences and the conversation's recent
// history, and stamps the current date and time in the user's timezone.
// Preference duplicates left by older writers are reconciled as a side
// effect; merged reports how many rows were folded away.
func (a *Assembler) Assemble(ctx context.Context, userID, conversationID int64, historyLimit int) (*Context, int, error) {
	prefs, merged, err := a.store.AcquirePreferences(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to acquire preferences: %w", err)
	}

	history, err := a.store.RecentMessages(ctx, conversationID, historyLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load recent messages: %w", err)
	}

	messages := make([]generate.Message, 0, len(history))
	for _, msg := range history {
		messages = append(messages, generate.Message{Role: msg.Role, Content: msg.Content})
	}

	timezone := prefs.Timezone()
	if timezone == "" {
		timezone = a.defaultTimezone
	}

	now := a.clock()
	if loc, err := time.LoadLocation(timezone); err == nil {
		now = now.In(loc)
	} else {
		// An unparseable stored timezone degrades to server time rather
		// than failing the turn.
		timezone = ""
	}

	return &Context{
		Global: generate.GlobalFacts{
			Now:      now,
			Timezone: timezone,
			Location: a.location,
		},
		Preferences: prefs.Data,
		History:     messages,
	}, merged, nil
}
