package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func countPreferenceRows(t *testing.T, s *Store, userID int64) int {
	t.Helper()

	var count int
	err := s.conn.QueryRow(
		"SELECT COUNT(*) FROM preferences WHERE user_id = ?", userID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("failed to count preference rows: %v", err)
	}
	return count
}

func insertPreferenceRow(t *testing.T, s *Store, userID int64, data string, updatedAt time.Time) {
	t.Helper()

	_, err := s.conn.Exec(
		"INSERT INTO preferences (user_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, data, updatedAt, updatedAt,
	)
	if err != nil {
		t.Fatalf("failed to insert preference row: %v", err)
	}
}

func TestAcquirePreferencesCreatesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "smit@example.com", "Smit Patel")

	prefs, merged, err := s.AcquirePreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("AcquirePreferences failed: %v", err)
	}
	if merged != 0 {
		t.Errorf("Expected no merges on first acquisition, got %d", merged)
	}
	if prefs.UserID != user.ID {
		t.Errorf("Expected user ID %d, got %d", user.ID, prefs.UserID)
	}
	if len(prefs.Data) != 0 {
		t.Errorf("Expected empty preference data, got %v", prefs.Data)
	}

	again, _, err := s.AcquirePreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("AcquirePreferences (second) failed: %v", err)
	}
	if again.ID != prefs.ID {
		t.Errorf("Expected same record %d, got %d", prefs.ID, again.ID)
	}

	if got := countPreferenceRows(t, s, user.ID); got != 1 {
		t.Errorf("Expected exactly 1 preference row, got %d", got)
	}
}

func TestAcquirePreferencesConcurrentFirstTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "smit@example.com", "Smit Patel")

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.AcquirePreferences(ctx, user.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent AcquirePreferences failed: %v", err)
	}

	if got := countPreferenceRows(t, s, user.ID); got != 1 {
		t.Errorf("Expected exactly 1 preference row after %d concurrent first turns, got %d", workers, got)
	}
}

func TestUpsertPreferencesConcurrentPatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "smit@example.com", "Smit Patel")

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch := map[string]any{fmt.Sprintf("key-%d", i): "v"}
			if _, err := s.UpsertPreferences(ctx, user.ID, patch); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent UpsertPreferences failed: %v", err)
	}

	// Every patch lands; none overwrites another's keys
	prefs, err := s.GetPreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if prefs == nil || len(prefs.Data) != workers {
		t.Fatalf("Expected %d keys after %d concurrent patches, got %v", workers, workers, prefs.Data)
	}
	for i := 0; i < workers; i++ {
		if _, ok := prefs.Data[fmt.Sprintf("key-%d", i)]; !ok {
			t.Errorf("Patch key-%d lost", i)
		}
	}

	if got := countPreferenceRows(t, s, user.ID); got != 1 {
		t.Errorf("Expected exactly 1 preference row, got %d", got)
	}
}

func TestAcquirePreferencesMergesLegacyDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "smit@example.com", "Smit Patel")

	older := time.Now().UTC().Add(-2 * time.Hour)
	newer := time.Now().UTC().Add(-1 * time.Hour)
	insertPreferenceRow(t, s, user.ID, `{"interests":["cricket"],"goals":["learn go"]}`, older)
	insertPreferenceRow(t, s, user.ID, `{"interests":["jazz"],"timezone":"America/Toronto"}`, newer)

	prefs, merged, err := s.AcquirePreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("AcquirePreferences failed: %v", err)
	}

	if merged != 1 {
		t.Errorf("Expected 1 merged row, got %d", merged)
	}

	if got := countPreferenceRows(t, s, user.ID); got != 1 {
		t.Fatalf("Expected exactly 1 preference row after merge, got %d", got)
	}

	// Most recently updated value wins per field
	if interests, _ := prefs.Data["interests"].([]any); len(interests) != 1 || interests[0] != "jazz" {
		t.Errorf("Expected newer interests to win, got %v", prefs.Data["interests"])
	}

	// Fields only present in the older record survive the merge
	if goals, _ := prefs.Data["goals"].([]any); len(goals) != 1 || goals[0] != "learn go" {
		t.Errorf("Expected older-only goals to survive, got %v", prefs.Data["goals"])
	}

	if prefs.Timezone() != "America/Toronto" {
		t.Errorf("Expected timezone America/Toronto, got %q", prefs.Timezone())
	}
}

func TestAcquirePreferencesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "smit@example.com", "Smit Patel")

	insertPreferenceRow(t, s, user.ID, `{"interests":["cricket"]}`, time.Now().UTC().Add(-2*time.Hour))
	insertPreferenceRow(t, s, user.ID, `{"interests":["jazz"]}`, time.Now().UTC().Add(-time.Hour))

	first, merged, err := s.AcquirePreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("AcquirePreferences failed: %v", err)
	}
	if merged != 1 {
		t.Fatalf("Expected 1 merged row, got %d", merged)
	}

	// Re-running on already-clean data is a no-op
	second, merged, err := s.AcquirePreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("AcquirePreferences (rerun) failed: %v", err)
	}
	if merged != 0 {
		t.Errorf("Expected no merges on clean data, got %d", merged)
	}
	if second.ID != first.ID {
		t.Errorf("Expected stable record %d, got %d", first.ID, second.ID)
	}
	if got := countPreferenceRows(t, s, user.ID); got != 1 {
		t.Errorf("Expected exactly 1 preference row, got %d", got)
	}
}

func TestUpsertPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "smit@example.com", "Smit Patel")

	prefs, err := s.UpsertPreferences(ctx, user.ID, map[string]any{
		"interests": []string{"cricket", "jazz"},
		"timezone":  "America/Toronto",
	})
	if err != nil {
		t.Fatalf("UpsertPreferences failed: %v", err)
	}
	if prefs.Timezone() != "America/Toronto" {
		t.Errorf("Expected timezone America/Toronto, got %q", prefs.Timezone())
	}

	// Patch updates named keys and preserves the rest
	updated, err := s.UpsertPreferences(ctx, user.ID, map[string]any{
		"goals": []string{"ship the demo"},
	})
	if err != nil {
		t.Fatalf("UpsertPreferences (patch) failed: %v", err)
	}
	if updated.Timezone() != "America/Toronto" {
		t.Errorf("Existing keys must survive a patch, got %q", updated.Timezone())
	}
	if _, ok := updated.Data["goals"]; !ok {
		t.Error("Patched key missing from preferences")
	}

	fetched, err := s.GetPreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if fetched == nil || fetched.ID != prefs.ID {
		t.Error("GetPreferences should return the canonical record")
	}
}

func TestGetPreferencesAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "smit@example.com", "Smit Patel")

	prefs, err := s.GetPreferences(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if prefs != nil {
		t.Errorf("Expected nil for absent preferences, got %+v", prefs)
	}
}
