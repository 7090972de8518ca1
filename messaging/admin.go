package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"marketchat/storage"
)

// Admin manages membership and privileges for group and channel
// conversations. Privileged operations require the caller to currently
// hold admin status; LeaveGroup does not.
type Admin struct {
	store *storage.Store
}

// NewAdmin creates an Admin over the given store.
func NewAdmin(store *storage.Store) *Admin {
	return &Admin{store: store}
}

// AddMember adds a user to a group. Admin-only.
func (a *Admin) AddMember(ctx context.Context, conversationID, callerID, userID string) error {
	if err := a.requireAdmin(conversationID, callerID); err != nil {
		return err
	}

	err := a.store.AddParticipant(storage.Participant{
		ConversationID: conversationID,
		UserID:         userID,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		// Already a member; adding again is a no-op.
		return nil
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"conversation": conversationID,
		"admin":        callerID,
		"member":       userID,
	}).Info("added group member")

	return nil
}

// RemoveMember removes a user from a group. Admin-only. When the
// removed user was the last admin, the next-oldest remaining
// participant is auto-promoted so a populated group never drops to zero
// admins.
func (a *Admin) RemoveMember(ctx context.Context, conversationID, callerID, userID string) error {
	if err := a.requireAdmin(conversationID, callerID); err != nil {
		return err
	}
	return a.removeParticipant(conversationID, userID)
}

// LeaveGroup removes the caller from a group. Any participant may
// leave; the zero-admin invariant is preserved the same way as
// RemoveMember.
func (a *Admin) LeaveGroup(ctx context.Context, conversationID, userID string) error {
	if err := a.requireGroup(conversationID); err != nil {
		return err
	}
	if _, err := a.store.GetParticipant(conversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAParticipant
		}
		return fmt.Errorf("check participant: %w", err)
	}
	return a.removeParticipant(conversationID, userID)
}

// PromoteAdmin grants admin status. Admin-only.
func (a *Admin) PromoteAdmin(ctx context.Context, conversationID, callerID, userID string) error {
	if err := a.requireAdmin(conversationID, callerID); err != nil {
		return err
	}
	if _, err := a.store.GetParticipant(conversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAParticipant
		}
		return fmt.Errorf("check participant: %w", err)
	}

	if err := a.store.AddAdmin(conversationID, userID); err != nil {
		return fmt.Errorf("promote admin: %w", err)
	}
	return nil
}

// DemoteAdmin revokes admin status. Admin-only. Demoting the last admin
// follows the same invariant as removal: the next-oldest non-admin
// participant is promoted, or the demotion is rejected when nobody else
// remains to hold the role.
func (a *Admin) DemoteAdmin(ctx context.Context, conversationID, callerID, userID string) error {
	if err := a.requireAdmin(conversationID, callerID); err != nil {
		return err
	}

	count, err := a.store.CountAdmins(conversationID)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	isAdmin, err := a.store.IsAdmin(conversationID, userID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if !isAdmin {
		return nil
	}

	if count == 1 {
		next, err := a.store.OldestNonAdminParticipant(conversationID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrLastAdmin
		}
		if err != nil {
			return fmt.Errorf("find promotable participant: %w", err)
		}
		if err := a.store.AddAdmin(conversationID, next); err != nil {
			return fmt.Errorf("auto-promote admin: %w", err)
		}
	}

	if err := a.store.RemoveAdmin(conversationID, userID); err != nil {
		return fmt.Errorf("demote admin: %w", err)
	}
	return nil
}

// UpdateGroupMetadata sets the group name and/or image URL. Admin-only.
// Nil fields are left unchanged.
func (a *Admin) UpdateGroupMetadata(ctx context.Context, conversationID, callerID string, name, imageURL *string) error {
	if err := a.requireAdmin(conversationID, callerID); err != nil {
		return err
	}
	if err := a.store.UpdateGroupMetadata(conversationID, name, imageURL); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("update group metadata: %w", err)
	}
	return nil
}

// Admins lists a conversation's admin user IDs.
func (a *Admin) Admins(conversationID string) ([]string, error) {
	if err := a.requireGroup(conversationID); err != nil {
		return nil, err
	}
	admins, err := a.store.ListAdmins(conversationID)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// removeParticipant drops one participant while preserving the
// zero-admin invariant: a group keeps at least one admin for as long as
// it keeps at least one participant.
func (a *Admin) removeParticipant(conversationID, userID string) error {
	wasAdmin, err := a.store.IsAdmin(conversationID, userID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}

	if wasAdmin {
		count, err := a.store.CountAdmins(conversationID)
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if count == 1 {
			next, err := a.store.OldestNonAdminParticipant(conversationID)
			switch {
			case err == nil:
				if err := a.store.AddAdmin(conversationID, next); err != nil {
					return fmt.Errorf("auto-promote admin: %w", err)
				}
				logrus.WithFields(logrus.Fields{
					"conversation": conversationID,
					"promoted":     next,
					"departing":    userID,
				}).Info("auto-promoted next-oldest participant to admin")
			case errors.Is(err, storage.ErrNotFound):
				// No one left to promote: the departing admin was the only
				// participant, so the group empties with no promotion.
			default:
				return fmt.Errorf("find promotable participant: %w", err)
			}
		}
		if err := a.store.RemoveAdmin(conversationID, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("remove admin row: %w", err)
		}
	}

	if err := a.store.RemoveParticipant(conversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAParticipant
		}
		return fmt.Errorf("remove participant: %w", err)
	}

	return nil
}

func (a *Admin) requireAdmin(conversationID, callerID string) error {
	if err := a.requireGroup(conversationID); err != nil {
		return err
	}

	isAdmin, err := a.store.IsAdmin(conversationID, callerID)
	if err != nil {
		return fmt.Errorf("check admin: %w", err)
	}
	if !isAdmin {
		caller := callerID
		_ = a.store.InsertSecurityEvent(storage.SecurityEvent{
			EventType: storage.SecurityEventPrivilegeViolation,
			UserID:    &caller,
			Details:   fmt.Sprintf("non-admin operation on conversation %s", conversationID),
			Severity:  storage.SecuritySeverityWarning,
		})
		return ErrNotAuthorized
	}
	return nil
}

func (a *Admin) requireGroup(conversationID string) error {
	conv, err := a.store.GetConversation(conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("get conversation: %w", err)
	}
	if conv.Type == storage.ConversationDirect {
		return fmt.Errorf("conversation %q is not a group", conversationID)
	}
	return nil
}
