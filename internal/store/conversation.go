package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"
)

// maxTitleLength bounds conversation titles derived from the first message.
const maxTitleLength = 50

// GetOrCreateActiveConversation resolves the conversation for a turn.
//
// When conversationID is non-zero the referenced conversation is returned,
// provided it belongs to userID. Otherwise the user's most recently updated
// conversation is reused if it is fresher than the activity window, and a new
// conversation is created when none qualifies.
func (s *Store) GetOrCreateActiveConversation(ctx context.Context, userID, conversationID int64, activityWindow time.Duration) (*Conversation, bool, error) {
	if conversationID != 0 {
		conv, err := s.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, false, err
		}
		if conv.UserID != userID {
			return nil, false, fmt.Errorf("conversation %d does not belong to user %d", conversationID, userID)
		}
		return conv, false, nil
	}

	cutoff := time.Now().UTC().Add(-activityWindow)

	var conv Conversation
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id = ? AND updated_at >= ?
		 ORDER BY updated_at DESC LIMIT 1`,
		userID, cutoff,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)

	if err == nil {
		return &conv, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to look up active conversation: %w", err)
	}

	created, err := s.createConversation(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (s *Store) createConversation(ctx context.Context, userID int64) (*Conversation, error) {
	now := time.Now().UTC()
	title := fmt.Sprintf("Conversation at %s", now.Format("3:04 PM"))

	result, err := s.conn.ExecContext(ctx,
		"INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation ID: %w", err)
	}

	return &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConversation retrieves a conversation by ID
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?",
		id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conv, nil
}

// DeleteConversation deletes a conversation; its messages cascade away with it
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// GenerateTitle derives a conversation title from the first user message.
// It only replaces the placeholder title assigned at creation time, so the
// call is a no-op for conversations that already carry a derived title.
func (s *Store) GenerateTitle(ctx context.Context, conversationID int64, firstMessage string) error {
	title := firstMessage
	if utf8.RuneCountInString(title) > maxTitleLength {
		runes := []rune(title)
		title = string(runes[:maxTitleLength]) + "..."
	}

	_, err := s.conn.ExecContext(ctx,
		`UPDATE conversations SET title = ?
		 WHERE id = ? AND title LIKE 'Conversation at%'`,
		title, conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to set conversation title: %w", err)
	}
	return nil
}
