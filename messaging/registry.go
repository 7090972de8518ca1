// Package messaging implements the end-to-end encrypted messaging core:
// conversation lifecycle and message-request gating (Registry), group
// membership and privileges (Admin), and the encrypt/send/fetch/react
// surface (Service).
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketchat/storage"
)

// Registry owns canonical conversation and participant state.
type Registry struct {
	store *storage.Store
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(store *storage.Store) *Registry {
	return &Registry{store: store}
}

// GetOrCreateDirect returns the direct conversation for the unordered
// user pair, creating it if absent. Concurrent first-contact from both
// sides yields exactly one conversation: the unique index on the
// normalized pair absorbs the losing insert and both callers observe
// the winner.
//
// When the initiator has no established contact with the other user,
// the recipient's participant row starts as a pending message request
// and the conversation shows in their requests view, not the inbox.
func (r *Registry) GetOrCreateDirect(ctx context.Context, initiatorID, otherID string) (*storage.Conversation, error) {
	if initiatorID == "" || otherID == "" {
		return nil, errors.New("both user IDs are required")
	}
	if initiatorID == otherID {
		return nil, ErrSelfConversation
	}

	if conv, err := r.store.GetDirectConversation(initiatorID, otherID); err == nil {
		return conv, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("look up direct conversation: %w", err)
	}

	pendingFor := ""
	established, err := r.isEstablishedContact(initiatorID, otherID)
	if err != nil {
		return nil, err
	}
	if !established {
		pendingFor = otherID
	}

	conv := storage.Conversation{
		ConversationID: uuid.NewString(),
		Type:           storage.ConversationDirect,
		CreatedBy:      initiatorID,
	}
	err = r.store.CreateDirectConversation(conv, initiatorID, otherID, pendingFor)
	if errors.Is(err, storage.ErrDuplicate) {
		// Race loser: absorb and return the winner.
		winner, err := r.store.GetDirectConversation(initiatorID, otherID)
		if err != nil {
			return nil, fmt.Errorf("re-read winning conversation: %w", err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create direct conversation: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"conversation": conv.ConversationID,
		"initiator":    initiatorID,
		"request":      pendingFor != "",
	}).Info("created direct conversation")

	created, err := r.store.GetConversation(conv.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("read created conversation: %w", err)
	}
	return created, nil
}

// CreateGroup creates a group or channel conversation with the creator
// and members as participants and the creator as sole initial admin,
// atomically.
func (r *Registry) CreateGroup(ctx context.Context, creatorID, convType, name string, memberIDs []string, imageURL string) (*storage.Conversation, error) {
	if creatorID == "" {
		return nil, errors.New("creator ID is required")
	}
	if convType == "" {
		convType = storage.ConversationGroup
	}
	if convType != storage.ConversationGroup && convType != storage.ConversationChannel {
		return nil, fmt.Errorf("invalid group conversation type %q", convType)
	}

	conv := storage.Conversation{
		ConversationID: uuid.NewString(),
		Type:           convType,
		CreatedBy:      creatorID,
	}
	if name != "" {
		conv.GroupName = &name
	}
	if imageURL != "" {
		conv.GroupImageURL = &imageURL
	}

	if err := r.store.CreateGroupConversation(conv, memberIDs); err != nil {
		return nil, fmt.Errorf("create group conversation: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"conversation": conv.ConversationID,
		"creator":      creatorID,
		"type":         convType,
		"members":      len(memberIDs),
	}).Info("created group conversation")

	created, err := r.store.GetConversation(conv.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("read created conversation: %w", err)
	}
	return created, nil
}

// Get returns a conversation by ID.
func (r *Registry) Get(conversationID string) (*storage.Conversation, error) {
	conv, err := r.store.GetConversation(conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// GetForUser returns a conversation only to its participants; metadata
// like the group name stays invisible to outsiders.
func (r *Registry) GetForUser(conversationID, userID string) (*storage.Conversation, error) {
	conv, err := r.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.GetParticipant(conversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotAParticipant
		}
		return nil, fmt.Errorf("check participant: %w", err)
	}
	return conv, nil
}

// Participants lists a conversation's participants in join order.
func (r *Registry) Participants(conversationID string) ([]storage.Participant, error) {
	if _, err := r.Get(conversationID); err != nil {
		return nil, err
	}
	participants, err := r.store.ListParticipants(conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// AcceptRequest clears a pending message request; the conversation
// moves from the recipient's requests view to the inbox.
func (r *Registry) AcceptRequest(ctx context.Context, conversationID, userID string) error {
	if err := r.requireParticipant(conversationID, userID); err != nil {
		return err
	}
	if err := r.store.SetRequestState(conversationID, userID, storage.RequestStateNone); err != nil {
		return fmt.Errorf("accept request: %w", err)
	}
	return nil
}

// DeclineRequest marks a message request declined. History is preserved
// until DeleteRequest purges it, so a UI may show a transient declined
// state first.
func (r *Registry) DeclineRequest(ctx context.Context, conversationID, userID string) error {
	if err := r.requireParticipant(conversationID, userID); err != nil {
		return err
	}
	if err := r.store.SetRequestState(conversationID, userID, storage.RequestStateDeclined); err != nil {
		return fmt.Errorf("decline request: %w", err)
	}
	return nil
}

// DeleteRequest removes the conversation and all its messages.
// Irrevocable.
func (r *Registry) DeleteRequest(ctx context.Context, conversationID, userID string) error {
	if err := r.requireParticipant(conversationID, userID); err != nil {
		return err
	}
	if err := r.store.DeleteConversation(conversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("delete request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"conversation": conversationID,
		"user":         userID,
	}).Info("purged declined conversation")

	return nil
}

// Inbox lists the user's accepted conversations, newest first.
func (r *Registry) Inbox(userID string) ([]storage.Conversation, error) {
	conversations, err := r.store.ListConversationsForUser(userID, storage.RequestStateNone)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return conversations, nil
}

// Requests lists the user's pending and declined message requests.
func (r *Registry) Requests(userID string) ([]storage.Conversation, error) {
	conversations, err := r.store.ListConversationsForUser(userID, storage.RequestStatePending, storage.RequestStateDeclined)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return conversations, nil
}

// isEstablishedContact reports whether the pair already share any
// conversation the recipient has accepted.
func (r *Registry) isEstablishedContact(initiatorID, otherID string) (bool, error) {
	conversations, err := r.store.ListConversationsForUser(otherID, storage.RequestStateNone)
	if err != nil {
		return false, fmt.Errorf("check established contact: %w", err)
	}
	for _, conv := range conversations {
		if _, err := r.store.GetParticipant(conv.ConversationID, initiatorID); err == nil {
			return true, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("check shared conversation: %w", err)
		}
	}
	return false, nil
}

func (r *Registry) requireParticipant(conversationID, userID string) error {
	if _, err := r.Get(conversationID); err != nil {
		return err
	}
	if _, err := r.store.GetParticipant(conversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAParticipant
		}
		return fmt.Errorf("check participant: %w", err)
	}
	return nil
}
