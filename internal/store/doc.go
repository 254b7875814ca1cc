// Package store is the durable context store: users, preferences,
// conversations and messages persisted in sqlite, plus the preference
// reconciler that keeps preference records unique per user under concurrent
// first-contact turns.
package store
