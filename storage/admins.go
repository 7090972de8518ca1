package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// AddAdmin grants admin status to a user in a conversation. Idempotent.
func (s *Store) AddAdmin(conversationID, userID string) error {
	if conversationID == "" {
		return errors.New("conversation_id is required")
	}
	if userID == "" {
		return errors.New("user_id is required")
	}

	if _, err := s.db.Exec(
		`INSERT INTO group_admins (conversation_id, user_id)
		VALUES (?, ?)
		ON CONFLICT(conversation_id, user_id) DO NOTHING`,
		conversationID,
		userID,
	); err != nil {
		return fmt.Errorf("insert admin %q: %w", userID, err)
	}

	return nil
}

// RemoveAdmin revokes a user's admin status.
func (s *Store) RemoveAdmin(conversationID, userID string) error {
	res, err := s.db.Exec(
		`DELETE FROM group_admins WHERE conversation_id = ? AND user_id = ?`,
		conversationID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("remove admin %q: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for admin delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAdmin reports whether a user holds admin status in a conversation.
func (s *Store) IsAdmin(conversationID, userID string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM group_admins WHERE conversation_id = ? AND user_id = ?)`,
		conversationID,
		userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check admin %q: %w", userID, err)
	}
	return exists == 1, nil
}

// CountAdmins returns the number of admins in a conversation.
func (s *Store) CountAdmins(conversationID string) (int, error) {
	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM group_admins WHERE conversation_id = ?`,
		conversationID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count admins for %q: %w", conversationID, err)
	}
	return count, nil
}

// ListAdmins returns a conversation's admin user IDs.
func (s *Store) ListAdmins(conversationID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT user_id FROM group_admins WHERE conversation_id = ? ORDER BY user_id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list admins for %q: %w", conversationID, err)
	}
	defer rows.Close()

	admins := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan admin row: %w", err)
		}
		admins = append(admins, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin rows: %w", err)
	}

	return admins, nil
}

// OldestNonAdminParticipant returns the earliest-joined participant who
// is not an admin, used for last-admin auto-promotion. ErrNotFound when
// every remaining participant is already an admin or none remain.
func (s *Store) OldestNonAdminParticipant(conversationID string) (string, error) {
	var userID string
	err := s.db.QueryRow(
		`SELECT p.user_id
		FROM participants p
		WHERE p.conversation_id = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM group_admins a
		    WHERE a.conversation_id = p.conversation_id AND a.user_id = p.user_id
		  )
		ORDER BY p.joined_at, p.user_id
		LIMIT 1`,
		conversationID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("find oldest non-admin participant for %q: %w", conversationID, err)
	}
	return userID, nil
}
