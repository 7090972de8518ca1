package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ToggleReaction applies reaction toggle semantics for one user on one
// message: no existing row inserts, the same emoji removes, a different
// emoji replaces. Runs in a transaction so concurrent toggles cannot
// leave two rows for the same (message, user) pair.
func (s *Store) ToggleReaction(messageID, userID, emoji string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if userID == "" {
		return errors.New("user_id is required")
	}
	if emoji == "" {
		return errors.New("emoji is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reaction transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing string
	err = tx.QueryRow(
		`SELECT emoji FROM reactions WHERE message_id = ? AND user_id = ?`,
		messageID,
		userID,
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(
			`INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
			messageID,
			userID,
			emoji,
			nowUnixMilli(),
		); err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read existing reaction: %w", err)
	case existing == emoji:
		if _, err := tx.Exec(
			`DELETE FROM reactions WHERE message_id = ? AND user_id = ?`,
			messageID,
			userID,
		); err != nil {
			return fmt.Errorf("remove reaction: %w", err)
		}
	default:
		if _, err := tx.Exec(
			`UPDATE reactions SET emoji = ?, created_at = ? WHERE message_id = ? AND user_id = ?`,
			emoji,
			nowUnixMilli(),
			messageID,
			userID,
		); err != nil {
			return fmt.Errorf("replace reaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reaction transaction: %w", err)
	}

	return nil
}

// ListReactions returns a message's reactions ordered by creation time.
func (s *Store) ListReactions(messageID string) ([]Reaction, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	rows, err := s.db.Query(
		`SELECT message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = ?
		ORDER BY created_at, user_id`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reactions for %q: %w", messageID, err)
	}
	defer rows.Close()

	reactions := make([]Reaction, 0)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction row: %w", err)
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction rows: %w", err)
	}

	return reactions, nil
}
