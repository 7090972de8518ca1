package messaging

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forPelevin/gomoji"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketchat/crypto"
	"marketchat/keystore"
	"marketchat/models"
	"marketchat/realtime"
	"marketchat/storage"
)

// DefaultPageSize bounds one Fetch page.
const DefaultPageSize = 50

// Encrypter is the cryptographic surface the service needs; implemented
// by *crypto.Engine and swappable for a different AEAD or key storage.
type Encrypter interface {
	EncryptDirect(plaintext []byte, pub *rsa.PublicKey) ([]byte, error)
	DecryptDirect(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error)
	EncryptGroup(plaintext []byte) (*crypto.Envelope, error)
	DecryptGroup(ciphertext, key, iv []byte) ([]byte, error)
	WrapKey(key []byte, pub *rsa.PublicKey) ([]byte, error)
	UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error)
}

// Keys is the key-store surface the service needs; implemented by
// *keystore.KeyStore.
type Keys interface {
	PublicKey(ownerID string) (*rsa.PublicKey, error)
	PrivateKey(callerID, ownerID string) (*rsa.PrivateKey, error)
}

// Service orchestrates send, fetch, react, delete, and read-cursor
// operations over the encryption engine, the conversation registry
// state, and the realtime delivery channel.
type Service struct {
	store     *storage.Store
	registry  *Registry
	keys      Keys
	engine    Encrypter
	publisher realtime.Publisher
	pageSize  int
}

// NewService wires a Service. publisher may be nil to disable realtime
// delivery (tests, offline tools).
func NewService(store *storage.Store, registry *Registry, keys Keys, engine Encrypter, publisher realtime.Publisher) *Service {
	return &Service{
		store:     store,
		registry:  registry,
		keys:      keys,
		engine:    engine,
		publisher: publisher,
		pageSize:  DefaultPageSize,
	}
}

// Send encrypts and persists one message, then publishes a delivery
// event to the conversation's topic. Direct conversations use the
// asymmetric scheme. Group and channel conversations, and direct
// payloads past the OAEP size bound, use the envelope scheme with the
// per-message key wrapped for every current participant.
func (s *Service) Send(ctx context.Context, conversationID, senderID, plaintext string) (*models.Message, error) {
	if plaintext == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.registry.Get(conversationID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if !containsParticipant(participants, senderID) {
		return nil, ErrNotAParticipant
	}

	record := storage.Message{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
	}

	if conv.Type == storage.ConversationDirect {
		if err := s.encryptDirect(&record, participants, senderID, plaintext); err != nil {
			return nil, err
		}
	} else {
		if err := s.encryptEnvelope(&record, participants, plaintext); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveMessage(record); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	saved, err := s.store.GetMessage(record.MessageID)
	if err != nil {
		return nil, fmt.Errorf("re-read message: %w", err)
	}

	s.publish(realtime.EventInsert, conversationID, saved)

	logrus.WithFields(logrus.Fields{
		"conversation": conversationID,
		"message":      saved.MessageID,
		"scheme":       saved.Scheme,
	}).Debug("message sent")

	return &models.Message{
		MessageID:      saved.MessageID,
		ConversationID: saved.ConversationID,
		SenderID:       saved.SenderID,
		Content:        plaintext,
		Scheme:         saved.Scheme,
		CreatedAt:      saved.CreatedAt,
	}, nil
}

// Fetch returns one page of the conversation's messages in the
// canonical (created_at, message_id) order, decrypted for the caller.
// The sequence is restartable from the returned cursor and may be
// abandoned at any time without side effects. Messages the caller's key
// material cannot open degrade to the undecryptable placeholder.
func (s *Service) Fetch(ctx context.Context, conversationID, callerID string, after storage.MessageCursor, limit int) (*models.Page, error) {
	if _, err := s.registry.Get(conversationID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetParticipant(conversationID, callerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotAParticipant
		}
		return nil, fmt.Errorf("check participant: %w", err)
	}

	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}

	// Over-fetch by one to learn whether more pages remain.
	records, err := s.store.ListMessages(conversationID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &models.Page{Messages: make([]models.Message, 0, len(records))}
	if len(records) > limit {
		page.HasMore = true
		records = records[:limit]
	}

	private := s.callerPrivateKey(callerID)
	for _, record := range records {
		page.Messages = append(page.Messages, s.render(record, callerID, private))
	}
	if len(records) > 0 {
		last := records[len(records)-1]
		page.NextCreatedAt = last.CreatedAt
		page.NextMessageID = last.MessageID
	}

	return page, nil
}

// React applies toggle semantics for one emoji reaction: a first
// reaction inserts, the same emoji removes, a different emoji replaces.
// The reaction must be exactly one emoji.
func (s *Service) React(ctx context.Context, messageID, userID, emoji string) error {
	if err := validateReaction(emoji); err != nil {
		return err
	}

	record, err := s.store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("get message: %w", err)
	}
	if _, err := s.store.GetParticipant(record.ConversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAParticipant
		}
		return fmt.Errorf("check participant: %w", err)
	}

	if err := s.store.ToggleReaction(messageID, userID, emoji); err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}

	s.publish(realtime.EventUpdate, record.ConversationID, record)
	return nil
}

// Reactions lists a message's current reactions.
func (s *Service) Reactions(ctx context.Context, messageID, callerID string) ([]storage.Reaction, error) {
	record, err := s.store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	if _, err := s.store.GetParticipant(record.ConversationID, callerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotAParticipant
		}
		return nil, fmt.Errorf("check participant: %w", err)
	}

	reactions, err := s.store.ListReactions(messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return reactions, nil
}

// Delete tombstones a message. Only the original sender may delete;
// the row survives so other participants' fetched ordering holds.
func (s *Service) Delete(ctx context.Context, messageID, callerID string) error {
	record, err := s.store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("get message: %w", err)
	}
	if record.SenderID != callerID {
		return ErrNotSender
	}

	if err := s.store.TombstoneMessage(messageID, 0); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Already tombstoned.
			return nil
		}
		return fmt.Errorf("tombstone message: %w", err)
	}

	s.publish(realtime.EventUpdate, record.ConversationID, record)
	return nil
}

// MarkRead advances the caller's read cursor. Monotonic: a later read
// position never regresses the stored cursor.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string, readAt int64, messageID string) error {
	if _, err := s.registry.Get(conversationID); err != nil {
		return err
	}
	if _, err := s.store.GetParticipant(conversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAParticipant
		}
		return fmt.Errorf("check participant: %w", err)
	}

	if err := s.store.AdvanceReadCursor(conversationID, userID, readAt, messageID); err != nil {
		return fmt.Errorf("advance read cursor: %w", err)
	}
	return nil
}

// UnreadCount reports how many messages lie past the caller's read cursor.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	count, err := s.store.UnreadCount(conversationID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrNotAParticipant
		}
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *Service) encryptDirect(record *storage.Message, participants []storage.Participant, senderID, plaintext string) error {
	recipientID := ""
	for _, p := range participants {
		if p.UserID != senderID {
			recipientID = p.UserID
			break
		}
	}
	if recipientID == "" {
		return ErrNotAParticipant
	}

	pub, err := s.keys.PublicKey(recipientID)
	if err != nil {
		// Recipient never keyed: surfaced as-is, not a generic failure.
		return err
	}

	ciphertext, err := s.engine.EncryptDirect([]byte(plaintext), pub)
	if errors.Is(err, crypto.ErrMessageTooLong) {
		// Longer payloads prefer the symmetric scheme.
		return s.encryptEnvelope(record, participants, plaintext)
	}
	if err != nil {
		return fmt.Errorf("encrypt direct message: %w", err)
	}

	record.Scheme = storage.SchemeDirect
	record.Ciphertext = base64.StdEncoding.EncodeToString(ciphertext)
	return nil
}

func (s *Service) encryptEnvelope(record *storage.Message, participants []storage.Participant, plaintext string) error {
	env, err := s.engine.EncryptGroup([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("encrypt envelope: %w", err)
	}

	// Wrap the per-message key for every current participant. Later
	// membership changes never re-wrap history.
	wraps := make(map[string]string, len(participants))
	for _, p := range participants {
		pub, err := s.keys.PublicKey(p.UserID)
		if err != nil {
			if errors.Is(err, keystore.ErrKeyNotFound) {
				// Unkeyed participants get no wrap; they cannot decrypt
				// until they key and a new message arrives.
				continue
			}
			return fmt.Errorf("wrap key for %q: %w", p.UserID, err)
		}
		wrapped, err := s.engine.WrapKey(env.Key, pub)
		if err != nil {
			return fmt.Errorf("wrap key for %q: %w", p.UserID, err)
		}
		wraps[p.UserID] = base64.StdEncoding.EncodeToString(wrapped)
	}
	if len(wraps) == 0 {
		return fmt.Errorf("%w: no participant holds key material", keystore.ErrKeyNotFound)
	}

	encoded, err := json.Marshal(wraps)
	if err != nil {
		return fmt.Errorf("encode key wraps: %w", err)
	}

	record.Scheme = storage.SchemeEnvelope
	record.Ciphertext = base64.StdEncoding.EncodeToString(env.Ciphertext)
	record.KeyWraps = string(encoded)
	record.IV = base64.StdEncoding.EncodeToString(env.IV)
	return nil
}

// render decrypts one stored message for the caller, degrading to the
// placeholder on any cryptographic failure. Decryption failure is a
// recoverable, user-visible condition, never a crash.
func (s *Service) render(record storage.Message, callerID string, private *rsa.PrivateKey) models.Message {
	out := models.Message{
		MessageID:      record.MessageID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		Scheme:         record.Scheme,
		CreatedAt:      record.CreatedAt,
	}
	if record.EditedAt != nil {
		out.EditedAt = *record.EditedAt
	}
	if record.DeletedAt != nil {
		out.Deleted = true
		return out
	}

	// Direct ciphertext is encrypted to the recipient alone; the sender
	// keeps no readable copy and always sees the placeholder.
	if record.Scheme == storage.SchemeDirect && record.SenderID == callerID {
		out.Content = crypto.UndecryptableText
		out.Undecryptable = true
		return out
	}

	plaintext, err := s.decrypt(record, callerID, private)
	if err != nil {
		caller := callerID
		_ = s.store.InsertSecurityEvent(storage.SecurityEvent{
			EventType: storage.SecurityEventDecryptionFailure,
			UserID:    &caller,
			Details:   fmt.Sprintf("message %s: %v", record.MessageID, err),
			Severity:  storage.SecuritySeverityWarning,
		})
		logrus.WithFields(logrus.Fields{
			"message": record.MessageID,
			"caller":  callerID,
			"error":   err,
		}).Warn("message decryption failed, substituting placeholder")
		out.Content = crypto.UndecryptableText
		out.Undecryptable = true
		return out
	}

	out.Content = string(plaintext)
	return out
}

func (s *Service) decrypt(record storage.Message, callerID string, private *rsa.PrivateKey) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(record.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	switch record.Scheme {
	case storage.SchemeDirect:
		if private == nil {
			return nil, crypto.ErrDecryption
		}
		return s.engine.DecryptDirect(ciphertext, private)
	case storage.SchemeEnvelope:
		if private == nil {
			return nil, crypto.ErrDecryption
		}
		var wraps map[string]string
		if err := json.Unmarshal([]byte(record.KeyWraps), &wraps); err != nil {
			return nil, fmt.Errorf("decode key wraps: %w", err)
		}
		wrappedB64, ok := wraps[callerID]
		if !ok {
			return nil, crypto.ErrDecryption
		}
		wrapped, err := base64.StdEncoding.DecodeString(wrappedB64)
		if err != nil {
			return nil, fmt.Errorf("decode wrapped key: %w", err)
		}
		key, err := s.engine.UnwrapKey(wrapped, private)
		if err != nil {
			return nil, err
		}
		iv, err := base64.StdEncoding.DecodeString(record.IV)
		if err != nil {
			return nil, fmt.Errorf("decode iv: %w", err)
		}
		return s.engine.DecryptGroup(ciphertext, key, iv)
	default:
		return nil, fmt.Errorf("unknown scheme %q", record.Scheme)
	}
}

func (s *Service) callerPrivateKey(callerID string) *rsa.PrivateKey {
	private, err := s.keys.PrivateKey(callerID, callerID)
	if err != nil {
		return nil
	}
	return private
}

// publish emits a fire-and-forget delivery event after a successful
// persist. Subscribers re-sort by the persisted (created_at, id) pair,
// never by event arrival order.
func (s *Service) publish(eventType, conversationID string, record *storage.Message) {
	if s.publisher == nil {
		return
	}

	row := map[string]any{
		"message_id":      record.MessageID,
		"conversation_id": record.ConversationID,
		"sender_id":       record.SenderID,
		"created_at":      record.CreatedAt,
	}
	s.publisher.Publish(
		realtime.ConversationTopic(conversationID),
		realtime.NewEvent(eventType, "messages", row),
	)
}

func validateReaction(emoji string) error {
	found := gomoji.CollectAll(emoji)
	if len(found) != 1 || found[0].Character != emoji {
		return ErrInvalidReaction
	}
	return nil
}

func containsParticipant(participants []storage.Participant, userID string) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
