package turn

import (
	"context"
	"testing"
	"time"

	"github.com/smitsp11/sonna-mlh/internal/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedUserAndConversation(t *testing.T, s *store.Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	user, err := s.GetOrCreateUser(ctx, "test@example.com", "Test User")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}
	conv, _, err := s.GetOrCreateActiveConversation(ctx, user.ID, 0, 2*time.Hour)
	if err != nil {
		t.Fatalf("GetOrCreateActiveConversation failed: %v", err)
	}
	return user.ID, conv.ID
}

func TestAssembleTimezoneFromPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, convID := seedUserAndConversation(t, s)

	if _, err := s.UpsertPreferences(ctx, userID, map[string]any{"timezone": "America/Toronto"}); err != nil {
		t.Fatalf("UpsertPreferences failed: %v", err)
	}

	// Noon UTC is 8 AM in Toronto
	now := time.Date(2025, time.September, 1, 12, 0, 0, 0, time.UTC)
	a := NewAssembler(s, "UTC", "Toronto, Canada", fixedClock(now))

	turnContext, _, err := a.Assemble(ctx, userID, convID, 8)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if turnContext.Global.Timezone != "America/Toronto" {
		t.Errorf("Timezone = %q", turnContext.Global.Timezone)
	}
	if turnContext.Global.Now.Hour() != 8 {
		t.Errorf("Localized hour = %d, expected 8", turnContext.Global.Now.Hour())
	}
	if !turnContext.Global.Now.Equal(now) {
		t.Error("Localizing must not shift the instant")
	}
	if turnContext.Global.Location != "Toronto, Canada" {
		t.Errorf("Location = %q", turnContext.Global.Location)
	}
}

func TestAssembleFallsBackToDefaultTimezone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, convID := seedUserAndConversation(t, s)

	a := NewAssembler(s, "UTC", "", fixedClock(time.Now()))
	turnContext, _, err := a.Assemble(ctx, userID, convID, 8)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if turnContext.Global.Timezone != "UTC" {
		t.Errorf("Timezone = %q, expected the configured default", turnContext.Global.Timezone)
	}
}

func TestAssembleInvalidStoredTimezone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, convID := seedUserAndConversation(t, s)

	if _, err := s.UpsertPreferences(ctx, userID, map[string]any{"timezone": "Not/AZone"}); err != nil {
		t.Fatalf("UpsertPreferences failed: %v", err)
	}

	a := NewAssembler(s, "UTC", "", fixedClock(time.Now()))
	turnContext, _, err := a.Assemble(ctx, userID, convID, 8)
	if err != nil {
		t.Fatalf("A bad stored timezone must not fail the turn: %v", err)
	}
	if turnContext.Global.Timezone != "" {
		t.Errorf("Timezone = %q, expected empty after degrade", turnContext.Global.Timezone)
	}
}

func TestAssembleHistoryOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, convID := seedUserAndConversation(t, s)

	for _, content := range []string{"one", "two", "three", "four"} {
		if _, err := s.AppendMessage(ctx, convID, store.RoleUser, content); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	a := NewAssembler(s, "UTC", "", nil)
	turnContext, _, err := a.Assemble(ctx, userID, convID, 3)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(turnContext.History) != 3 {
		t.Fatalf("History length = %d", len(turnContext.History))
	}
	for i, expected := range []string{"two", "three", "four"} {
		if turnContext.History[i].Content != expected {
			t.Errorf("History[%d] = %q, expected %q", i, turnContext.History[i].Content, expected)
		}
	}
}

func TestAssembleReconcilesDuplicatePreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID, convID := seedUserAndConversation(t, s)

	// First assemble creates the preferences row; a second one on a clean
	// row reports nothing merged.
	a := NewAssembler(s, "UTC", "", nil)
	if _, _, err := a.Assemble(ctx, userID, convID, 8); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	_, merged, err := a.Assemble(ctx, userID, convID, 8)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if merged != 0 {
		t.Errorf("Merged = %d on a clean preferences row", merged)
	}
}
