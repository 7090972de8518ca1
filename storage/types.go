package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicate indicates an insert collided with an existing row.
	ErrDuplicate = errors.New("storage: duplicate record")
)

const (
	// ConversationDirect is a two-party conversation.
	ConversationDirect = "direct"
	// ConversationGroup is a multi-party conversation with admins.
	ConversationGroup = "group"
	// ConversationChannel is a broadcast-style multi-party conversation.
	ConversationChannel = "channel"
)

const (
	// RequestStateNone marks an accepted (or never-gated) participant.
	RequestStateNone = "none"
	// RequestStatePending marks an unaccepted message request.
	RequestStatePending = "pending"
	// RequestStateDeclined marks a declined request awaiting purge.
	RequestStateDeclined = "declined"
)

const (
	// SchemeDirect marks asymmetric per-recipient ciphertext.
	SchemeDirect = "direct"
	// SchemeEnvelope marks symmetric ciphertext with per-recipient key wraps.
	SchemeEnvelope = "envelope"
)

const (
	// SecuritySeverityInfo indicates informational security event context.
	SecuritySeverityInfo = "info"
	// SecuritySeverityWarning indicates potentially suspicious behavior.
	SecuritySeverityWarning = "warning"
	// SecuritySeverityCritical indicates serious security failures.
	SecuritySeverityCritical = "critical"
)

// UserKey is the SQLite representation of a user's asymmetric key material.
// PrivateKeyPEM is only populated for keys held inside the service trust
// boundary; the encoding is reversible, not cryptographically secure.
type UserKey struct {
	OwnerID       string
	PublicKeyPEM  string
	PrivateKeyPEM *string
	CreatedAt     int64
}

// Conversation is the SQLite representation of a conversation.
type Conversation struct {
	ConversationID string
	Type           string
	CreatedBy      string
	CreatedAt      int64
	GroupName      *string
	GroupImageURL  *string
	DirectKey      *string
}

// Participant is one user's membership row in a conversation.
type Participant struct {
	ConversationID    string
	UserID            string
	JoinedAt          int64
	RequestState      string
	LastReadAt        int64
	LastReadMessageID string
}

// Message is the SQLite representation of an encrypted message.
type Message struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Ciphertext     string
	Scheme         string
	KeyWraps       string
	IV             string
	CreatedAt      int64
	EditedAt       *int64
	DeletedAt      *int64
}

// Reaction is one user's emoji reaction to a message.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt int64
}

// SecurityEvent stores structured security-relevant runtime events.
type SecurityEvent struct {
	ID        int64
	EventType string
	UserID    *string
	Details   string
	Severity  string
	Timestamp int64
}

// MessageCursor is a keyset position in a conversation's message order.
// The zero value means "from the beginning".
type MessageCursor struct {
	CreatedAt int64
	MessageID string
}

func validateConversationType(convType string) error {
	switch convType {
	case ConversationDirect, ConversationGroup, ConversationChannel:
		return nil
	default:
		return fmt.Errorf("invalid conversation type %q", convType)
	}
}

func validateRequestState(state string) error {
	switch state {
	case RequestStateNone, RequestStatePending, RequestStateDeclined:
		return nil
	default:
		return fmt.Errorf("invalid request state %q", state)
	}
}

func validateScheme(scheme string) error {
	switch scheme {
	case SchemeDirect, SchemeEnvelope:
		return nil
	default:
		return fmt.Errorf("invalid encryption scheme %q", scheme)
	}
}

func validateSecuritySeverity(severity string) error {
	switch severity {
	case SecuritySeverityInfo, SecuritySeverityWarning, SecuritySeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid security event severity %q", severity)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// DirectKey returns the normalized unordered-pair key for two user IDs.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
