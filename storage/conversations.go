package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateDirectConversation inserts a direct conversation and both
// participant rows atomically. The unique index on direct_key makes the
// insert race-safe: when a concurrent call for the same unordered pair
// won, ErrDuplicate is returned and the caller must re-read the winner.
// When pendingFor is non-empty, that user's participant row starts in
// the pending request state.
func (s *Store) CreateDirectConversation(conv Conversation, userA, userB, pendingFor string) error {
	if conv.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if userA == "" || userB == "" {
		return errors.New("both participant user IDs are required")
	}
	if userA == userB {
		return errors.New("direct conversation requires two distinct users")
	}
	if conv.CreatedAt == 0 {
		conv.CreatedAt = nowUnixMilli()
	}

	directKey := DirectKey(userA, userB)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin direct conversation transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(
		`INSERT INTO conversations (conversation_id, conv_type, created_by, created_at, direct_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(direct_key) DO NOTHING`,
		conv.ConversationID,
		ConversationDirect,
		conv.CreatedBy,
		conv.CreatedAt,
		directKey,
	)
	if err != nil {
		return fmt.Errorf("insert direct conversation %q: %w", conv.ConversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for direct conversation insert: %w", err)
	}
	if affected == 0 {
		return ErrDuplicate
	}

	for _, userID := range []string{userA, userB} {
		state := RequestStateNone
		if userID == pendingFor {
			state = RequestStatePending
		}
		if _, err := tx.Exec(
			`INSERT INTO participants (conversation_id, user_id, joined_at, request_state)
			VALUES (?, ?, ?, ?)`,
			conv.ConversationID,
			userID,
			conv.CreatedAt,
			state,
		); err != nil {
			return fmt.Errorf("insert participant %q: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit direct conversation transaction: %w", err)
	}

	return nil
}

// GetDirectConversation fetches the direct conversation for an unordered user pair.
func (s *Store) GetDirectConversation(userA, userB string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT conversation_id, conv_type, created_by, created_at, group_name, group_image_url, direct_key
		FROM conversations
		WHERE direct_key = ?`,
		DirectKey(userA, userB),
	)
	return scanConversation(row)
}

// CreateGroupConversation inserts a group or channel conversation, its
// participants, and the creator's admin row in one transaction.
func (s *Store) CreateGroupConversation(conv Conversation, memberIDs []string) error {
	if conv.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if conv.CreatedBy == "" {
		return errors.New("created_by is required")
	}
	if err := validateConversationType(conv.Type); err != nil {
		return err
	}
	if conv.Type == ConversationDirect {
		return errors.New("direct conversations use CreateDirectConversation")
	}
	if conv.CreatedAt == 0 {
		conv.CreatedAt = nowUnixMilli()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin group conversation transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(
		`INSERT INTO conversations (conversation_id, conv_type, created_by, created_at, group_name, group_image_url)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ConversationID,
		conv.Type,
		conv.CreatedBy,
		conv.CreatedAt,
		nullString(conv.GroupName),
		nullString(conv.GroupImageURL),
	); err != nil {
		return fmt.Errorf("insert group conversation %q: %w", conv.ConversationID, err)
	}

	// The creator is always a participant; member lists that repeat a
	// user, the creator included, collapse to one row each.
	seen := map[string]bool{}
	for _, userID := range append([]string{conv.CreatedBy}, memberIDs...) {
		if userID == "" {
			return errors.New("member user_id is required")
		}
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if _, err := tx.Exec(
			`INSERT INTO participants (conversation_id, user_id, joined_at, request_state)
			VALUES (?, ?, ?, ?)`,
			conv.ConversationID,
			userID,
			conv.CreatedAt,
			RequestStateNone,
		); err != nil {
			return fmt.Errorf("insert participant %q: %w", userID, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO group_admins (conversation_id, user_id) VALUES (?, ?)`,
		conv.ConversationID,
		conv.CreatedBy,
	); err != nil {
		return fmt.Errorf("insert creator admin %q: %w", conv.CreatedBy, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group conversation transaction: %w", err)
	}

	return nil
}

// GetConversation fetches a conversation by ID.
func (s *Store) GetConversation(conversationID string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT conversation_id, conv_type, created_by, created_at, group_name, group_image_url, direct_key
		FROM conversations
		WHERE conversation_id = ?`,
		conversationID,
	)
	return scanConversation(row)
}

// UpdateGroupMetadata sets a group conversation's name and image URL.
func (s *Store) UpdateGroupMetadata(conversationID string, name, imageURL *string) error {
	res, err := s.db.Exec(
		`UPDATE conversations
		SET group_name = COALESCE(?, group_name),
		    group_image_url = COALESCE(?, group_image_url)
		WHERE conversation_id = ? AND conv_type != ?`,
		nullString(name),
		nullString(imageURL),
		conversationID,
		ConversationDirect,
	)
	if err != nil {
		return fmt.Errorf("update group metadata %q: %w", conversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for metadata update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and, through cascading
// foreign keys, its participants, messages, reactions, and admin rows.
// Irrevocable.
func (s *Store) DeleteConversation(conversationID string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation %q: %w", conversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for conversation delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddParticipant inserts one participant row.
func (s *Store) AddParticipant(p Participant) error {
	if p.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if p.UserID == "" {
		return errors.New("user_id is required")
	}
	if p.JoinedAt == 0 {
		p.JoinedAt = nowUnixMilli()
	}
	if p.RequestState == "" {
		p.RequestState = RequestStateNone
	}
	if err := validateRequestState(p.RequestState); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`INSERT INTO participants (conversation_id, user_id, joined_at, request_state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO NOTHING`,
		p.ConversationID,
		p.UserID,
		p.JoinedAt,
		p.RequestState,
	)
	if err != nil {
		return fmt.Errorf("insert participant %q: %w", p.UserID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for participant insert: %w", err)
	}
	if affected == 0 {
		return ErrDuplicate
	}
	return nil
}

// RemoveParticipant deletes one participant row.
func (s *Store) RemoveParticipant(conversationID, userID string) error {
	res, err := s.db.Exec(
		`DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("remove participant %q: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for participant delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetParticipant fetches one participant row.
func (s *Store) GetParticipant(conversationID, userID string) (*Participant, error) {
	var p Participant
	err := s.db.QueryRow(
		`SELECT conversation_id, user_id, joined_at, request_state, last_read_at, last_read_message_id
		FROM participants
		WHERE conversation_id = ? AND user_id = ?`,
		conversationID,
		userID,
	).Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.RequestState, &p.LastReadAt, &p.LastReadMessageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get participant %q: %w", userID, err)
	}
	return &p, nil
}

// ListParticipants returns a conversation's participants ordered by join time.
func (s *Store) ListParticipants(conversationID string) ([]Participant, error) {
	rows, err := s.db.Query(
		`SELECT conversation_id, user_id, joined_at, request_state, last_read_at, last_read_message_id
		FROM participants
		WHERE conversation_id = ?
		ORDER BY joined_at, user_id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants for %q: %w", conversationID, err)
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.RequestState, &p.LastReadAt, &p.LastReadMessageID); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows: %w", err)
	}

	return participants, nil
}

// SetRequestState updates one participant's message-request state.
func (s *Store) SetRequestState(conversationID, userID, state string) error {
	if err := validateRequestState(state); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE participants SET request_state = ? WHERE conversation_id = ? AND user_id = ?`,
		state,
		conversationID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("set request state for %q: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for request state update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationsForUser returns conversations where the user's own
// participant row matches the given request states, newest first.
func (s *Store) ListConversationsForUser(userID string, states ...string) ([]Conversation, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if len(states) == 0 {
		states = []string{RequestStateNone}
	}

	query := `SELECT c.conversation_id, c.conv_type, c.created_by, c.created_at, c.group_name, c.group_image_url, c.direct_key
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.conversation_id
		WHERE p.user_id = ? AND p.request_state IN (?` + repeatPlaceholder(len(states)-1) + `)
		ORDER BY c.created_at DESC, c.conversation_id`

	args := make([]any, 0, len(states)+1)
	args = append(args, userID)
	for _, state := range states {
		if err := validateRequestState(state); err != nil {
			return nil, err
		}
		args = append(args, state)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user %q: %w", userID, err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return conversations, nil
}

// AdvanceReadCursor moves a participant's read cursor forward. The
// cursor is monotonic: positions at or behind the stored one are no-ops.
func (s *Store) AdvanceReadCursor(conversationID, userID string, readAt int64, messageID string) error {
	if readAt <= 0 {
		readAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`UPDATE participants
		SET last_read_at = ?, last_read_message_id = ?
		WHERE conversation_id = ? AND user_id = ?
		  AND (last_read_at < ? OR (last_read_at = ? AND last_read_message_id < ?))`,
		readAt,
		messageID,
		conversationID,
		userID,
		readAt,
		readAt,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("advance read cursor for %q: %w", userID, err)
	}
	return nil
}

// UnreadCount counts undeleted messages past the participant's read
// cursor, excluding the participant's own messages.
func (s *Store) UnreadCount(conversationID, userID string) (int, error) {
	p, err := s.GetParticipant(conversationID, userID)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRow(
		`SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = ?
		  AND sender_id != ?
		  AND deleted_at IS NULL
		  AND (created_at > ? OR (created_at = ? AND message_id > ?))`,
		conversationID,
		userID,
		p.LastReadAt,
		p.LastReadAt,
		p.LastReadMessageID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread for %q: %w", userID, err)
	}

	return count, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	conv, err := scanConversationRows(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func scanConversationRows(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var groupName, groupImageURL, directKey sql.NullString
	if err := row.Scan(
		&conv.ConversationID,
		&conv.Type,
		&conv.CreatedBy,
		&conv.CreatedAt,
		&groupName,
		&groupImageURL,
		&directKey,
	); err != nil {
		return nil, err
	}
	conv.GroupName = stringPtr(groupName)
	conv.GroupImageURL = stringPtr(groupImageURL)
	conv.DirectKey = stringPtr(directKey)
	return &conv, nil
}
