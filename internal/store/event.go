package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EventStore is the webhook idempotency ledger. An event ID is recorded only
// after its effects have been committed, so a delivery that failed processing
// is retried by the provider rather than skipped.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Seen reports whether an event ID has already been processed.
func (s *EventStore) Seen(eventID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM webhook_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records an event ID. Returns false when another delivery
// recorded it first.
func (s *EventStore) MarkProcessed(eventID, eventType string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO webhook_events (event_id, event_type, processed_at) VALUES (?, ?, ?)`,
		eventID, eventType, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("mark webhook event processed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark webhook event rows affected: %w", err)
	}
	return n > 0, nil
}
