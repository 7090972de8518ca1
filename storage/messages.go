package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveMessage inserts a new message row.
func (s *Store) SaveMessage(message Message) error {
	if message.MessageID == "" {
		return errors.New("message_id is required")
	}
	if message.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if message.SenderID == "" {
		return errors.New("sender_id is required")
	}
	if message.Ciphertext == "" {
		return errors.New("ciphertext is required")
	}
	if err := validateScheme(message.Scheme); err != nil {
		return err
	}
	if message.CreatedAt == 0 {
		message.CreatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (
			message_id,
			conversation_id,
			sender_id,
			ciphertext,
			scheme,
			key_wraps,
			iv,
			created_at,
			edited_at,
			deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.ConversationID,
		message.SenderID,
		message.Ciphertext,
		message.Scheme,
		message.KeyWraps,
		message.IV,
		message.CreatedAt,
		nullInt64(message.EditedAt),
		nullInt64(message.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	return nil
}

// GetMessage fetches a message by ID, tombstoned rows included.
func (s *Store) GetMessage(messageID string) (*Message, error) {
	row := s.db.QueryRow(
		`SELECT
			message_id,
			conversation_id,
			sender_id,
			ciphertext,
			scheme,
			key_wraps,
			iv,
			created_at,
			edited_at,
			deleted_at
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}

	return message, nil
}

// ListMessages returns one page of a conversation's messages in the
// canonical (created_at, message_id) order, starting strictly after the
// cursor position. The zero cursor starts from the beginning. Tombstoned
// rows are included so pagination stays stable for every participant.
func (s *Store) ListMessages(conversationID string, after MessageCursor, limit int) ([]Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			conversation_id,
			sender_id,
			ciphertext,
			scheme,
			key_wraps,
			iv,
			created_at,
			edited_at,
			deleted_at
		FROM messages
		WHERE conversation_id = ?
		  AND (created_at > ? OR (created_at = ? AND message_id > ?))
		ORDER BY created_at, message_id
		LIMIT ?`,
		conversationID,
		after.CreatedAt,
		after.CreatedAt,
		after.MessageID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for %q: %w", conversationID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// TombstoneMessage soft-deletes a message. The row is kept so other
// participants' already-fetched ordering is not perturbed.
func (s *Store) TombstoneMessage(messageID string, deletedAt int64) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if deletedAt <= 0 {
		deletedAt = nowUnixMilli()
	}

	res, err := s.db.Exec(
		`UPDATE messages SET deleted_at = ? WHERE message_id = ? AND deleted_at IS NULL`,
		deletedAt,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("tombstone message %q: %w", messageID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for tombstone: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var message Message
	var editedAt, deletedAt sql.NullInt64
	if err := row.Scan(
		&message.MessageID,
		&message.ConversationID,
		&message.SenderID,
		&message.Ciphertext,
		&message.Scheme,
		&message.KeyWraps,
		&message.IV,
		&message.CreatedAt,
		&editedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	message.EditedAt = int64Ptr(editedAt)
	message.DeletedAt = int64Ptr(deletedAt)
	return &message, nil
}
