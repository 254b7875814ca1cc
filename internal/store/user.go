package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreateUser returns the user identified by email, creating it with the
// given display name on first contact. The insert is keyed on the unique
// email column so concurrent first turns converge on a single row.
func (s *Store) GetOrCreateUser(ctx context.Context, email, name string) (*User, error) {
	if email == "" {
		return nil, fmt.Errorf("user email cannot be empty")
	}

	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (name, email, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		name, email, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.getUserByEmail(ctx, email)
}

// GetUser retrieves a user by id
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, name, email, created_at, updated_at FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

func (s *Store) getUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, name, email, created_at, updated_at FROM users WHERE email = ?",
		email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s not found", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}
