package storage

import (
	"errors"
	"fmt"
)

// InsertSeenEventID records a delivery event ID for subscriber-side
// idempotency. Delivery is at-least-once; subscribers dedupe on this.
func (s *Store) InsertSeenEventID(eventID string, receivedAt int64) error {
	if eventID == "" {
		return errors.New("event_id is required")
	}
	if receivedAt == 0 {
		receivedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO seen_event_ids (event_id, received_at)
		VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET received_at = excluded.received_at`,
		eventID,
		receivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert seen event ID %q: %w", eventID, err)
	}

	return nil
}

// HasSeenEventID returns true if a delivery event ID was already processed.
func (s *Store) HasSeenEventID(eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event_id is required")
	}

	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM seen_event_ids WHERE event_id = ?)`,
		eventID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check seen event ID %q: %w", eventID, err)
	}

	return exists == 1, nil
}

// PruneSeenEventIDs removes seen_event_ids rows older than cutoff timestamp.
func (s *Store) PruneSeenEventIDs(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM seen_event_ids WHERE received_at < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune seen event IDs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for seen event prune: %w", err)
	}

	return rowsAffected, nil
}
