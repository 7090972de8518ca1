package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertUserKey stores a user's key material if the owner has none yet.
// Returns ErrDuplicate when a row for the owner already exists, leaving
// the stored pair untouched.
func (s *Store) InsertUserKey(key UserKey) error {
	if key.OwnerID == "" {
		return errors.New("owner_id is required")
	}
	if key.PublicKeyPEM == "" {
		return errors.New("public_key_pem is required")
	}
	if key.CreatedAt == 0 {
		key.CreatedAt = nowUnixMilli()
	}

	res, err := s.db.Exec(
		`INSERT INTO user_keys (owner_id, public_key_pem, private_key_pem, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO NOTHING`,
		key.OwnerID,
		key.PublicKeyPEM,
		nullString(key.PrivateKeyPEM),
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user key %q: %w", key.OwnerID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for user key insert: %w", err)
	}
	if affected == 0 {
		return ErrDuplicate
	}

	return nil
}

// GetUserKey fetches a user's key material by owner ID.
func (s *Store) GetUserKey(ownerID string) (*UserKey, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id is required")
	}

	var key UserKey
	var privatePEM sql.NullString
	err := s.db.QueryRow(
		`SELECT owner_id, public_key_pem, private_key_pem, created_at
		FROM user_keys
		WHERE owner_id = ?`,
		ownerID,
	).Scan(&key.OwnerID, &key.PublicKeyPEM, &privatePEM, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user key %q: %w", ownerID, err)
	}
	key.PrivateKeyPEM = stringPtr(privatePEM)

	return &key, nil
}

// DeleteUserKey removes a user's key material. Used on account deletion only.
func (s *Store) DeleteUserKey(ownerID string) error {
	if ownerID == "" {
		return errors.New("owner_id is required")
	}

	if _, err := s.db.Exec(`DELETE FROM user_keys WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("delete user key %q: %w", ownerID, err)
	}

	return nil
}
