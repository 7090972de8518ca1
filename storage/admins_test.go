package storage

import (
	"errors"
	"testing"
)

func TestAdminLifecycle(t *testing.T) {
	store := newTestStore(t)
	mustCreateGroup(t, store, "grp-1", "alice", "bob", "carol")

	if err := store.AddAdmin("grp-1", "bob"); err != nil {
		t.Fatalf("AddAdmin failed: %v", err)
	}
	// Idempotent.
	if err := store.AddAdmin("grp-1", "bob"); err != nil {
		t.Fatalf("repeat AddAdmin failed: %v", err)
	}

	isAdmin, err := store.IsAdmin("grp-1", "bob")
	if err != nil {
		t.Fatalf("IsAdmin failed: %v", err)
	}
	if !isAdmin {
		t.Fatal("bob should be admin")
	}

	count, err := store.CountAdmins("grp-1")
	if err != nil {
		t.Fatalf("CountAdmins failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 admins, got %d", count)
	}

	if err := store.RemoveAdmin("grp-1", "bob"); err != nil {
		t.Fatalf("RemoveAdmin failed: %v", err)
	}
	if err := store.RemoveAdmin("grp-1", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removing a non-admin must report ErrNotFound, got %v", err)
	}
}

func TestOldestNonAdminParticipant(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateGroupConversation(Conversation{
		ConversationID: "grp-1",
		Type:           ConversationGroup,
		CreatedBy:      "alice",
		CreatedAt:      1000,
	}, nil)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := store.AddParticipant(Participant{ConversationID: "grp-1", UserID: "bob", JoinedAt: 2000}); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if err := store.AddParticipant(Participant{ConversationID: "grp-1", UserID: "carol", JoinedAt: 1500}); err != nil {
		t.Fatalf("add carol: %v", err)
	}

	next, err := store.OldestNonAdminParticipant("grp-1")
	if err != nil {
		t.Fatalf("OldestNonAdminParticipant failed: %v", err)
	}
	if next != "carol" {
		t.Fatalf("expected next-oldest carol, got %q", next)
	}

	if err := store.RemoveParticipant("grp-1", "bob"); err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	if err := store.RemoveParticipant("grp-1", "carol"); err != nil {
		t.Fatalf("remove carol: %v", err)
	}

	if _, err := store.OldestNonAdminParticipant("grp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when only admins remain, got %v", err)
	}
}
