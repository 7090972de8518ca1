package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// Security event types recorded by the messaging core.
const (
	// SecurityEventDecryptionFailure records a ciphertext that could not
	// be decrypted for its recipient.
	SecurityEventDecryptionFailure = "decryption_failure"
	// SecurityEventAccessDenied records a private-key access attempt from
	// outside the owner's trust boundary.
	SecurityEventAccessDenied = "access_denied"
	// SecurityEventPrivilegeViolation records a group operation attempted
	// without admin status.
	SecurityEventPrivilegeViolation = "privilege_violation"
)

// InsertSecurityEvent appends one security event row.
func (s *Store) InsertSecurityEvent(event SecurityEvent) error {
	if event.EventType == "" {
		return errors.New("event_type is required")
	}
	if event.Details == "" {
		return errors.New("details is required")
	}
	if event.Severity == "" {
		event.Severity = SecuritySeverityInfo
	}
	if err := validateSecuritySeverity(event.Severity); err != nil {
		return err
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO security_events (event_type, user_id, details, severity, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		event.EventType,
		nullString(event.UserID),
		event.Details,
		event.Severity,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert security event %q: %w", event.EventType, err)
	}

	if s.securityEventRetention > 0 {
		cutoff := nowUnixMilli() - s.securityEventRetention.Milliseconds()
		if _, err := s.db.Exec(`DELETE FROM security_events WHERE timestamp < ?`, cutoff); err != nil {
			return fmt.Errorf("prune security events: %w", err)
		}
	}

	return nil
}

// ListSecurityEvents returns the newest security events, optionally
// filtered by event type.
func (s *Store) ListSecurityEvents(eventType string, limit int) ([]SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, event_type, user_id, details, severity, timestamp
		FROM security_events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	events := make([]SecurityEvent, 0)
	for rows.Next() {
		var event SecurityEvent
		var userID sql.NullString
		if err := rows.Scan(&event.ID, &event.EventType, &userID, &event.Details, &event.Severity, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan security event row: %w", err)
		}
		event.UserID = stringPtr(userID)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security event rows: %w", err)
	}

	return events, nil
}
