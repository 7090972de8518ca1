package storage

import (
	"errors"
	"sync"
	"testing"
)

func TestDirectConversationUniquePair(t *testing.T) {
	store := newTestStore(t)

	mustCreateDirect(t, store, "conv-1", "alice", "bob")

	err := store.CreateDirectConversation(Conversation{
		ConversationID: "conv-2",
		CreatedBy:      "bob",
	}, "bob", "alice", "")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reversed pair, got %v", err)
	}

	conv, err := store.GetDirectConversation("bob", "alice")
	if err != nil {
		t.Fatalf("GetDirectConversation failed: %v", err)
	}
	if conv.ConversationID != "conv-1" {
		t.Fatalf("expected winner conv-1, got %q", conv.ConversationID)
	}

	if _, err := store.GetConversation("conv-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("loser insert should be absorbed, got %v", err)
	}
}

func TestDirectConversationConcurrentCreate(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	results := make([]error, 2)
	ids := []string{"conv-a", "conv-b"}
	pairs := [][2]string{{"alice", "bob"}, {"bob", "alice"}}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.CreateDirectConversation(Conversation{
				ConversationID: ids[i],
				CreatedBy:      pairs[i][0],
			}, pairs[i][0], pairs[i][1], "")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("unexpected concurrent create error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning insert, got %d", winners)
	}

	conv, err := store.GetDirectConversation("alice", "bob")
	if err != nil {
		t.Fatalf("GetDirectConversation after race failed: %v", err)
	}
	participants, err := store.ListParticipants(conv.ConversationID)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("direct conversation must have exactly two participants, got %d", len(participants))
	}
}

func TestDirectConversationRequestState(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateDirectConversation(Conversation{
		ConversationID: "conv-req",
		CreatedBy:      "stranger",
	}, "stranger", "bob", "bob")
	if err != nil {
		t.Fatalf("create pending direct conversation: %v", err)
	}

	p, err := store.GetParticipant("conv-req", "bob")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if p.RequestState != RequestStatePending {
		t.Fatalf("expected recipient pending, got %q", p.RequestState)
	}

	sender, err := store.GetParticipant("conv-req", "stranger")
	if err != nil {
		t.Fatalf("GetParticipant sender failed: %v", err)
	}
	if sender.RequestState != RequestStateNone {
		t.Fatalf("initiator must not be gated, got %q", sender.RequestState)
	}

	requests, err := store.ListConversationsForUser("bob", RequestStatePending)
	if err != nil {
		t.Fatalf("ListConversationsForUser requests failed: %v", err)
	}
	if len(requests) != 1 || requests[0].ConversationID != "conv-req" {
		t.Fatalf("expected conv-req in requests view, got %+v", requests)
	}

	inbox, err := store.ListConversationsForUser("bob", RequestStateNone)
	if err != nil {
		t.Fatalf("ListConversationsForUser inbox failed: %v", err)
	}
	if len(inbox) != 0 {
		t.Fatalf("pending request must not appear in inbox, got %+v", inbox)
	}

	if err := store.SetRequestState("conv-req", "bob", RequestStateNone); err != nil {
		t.Fatalf("SetRequestState accept failed: %v", err)
	}
	inbox, err = store.ListConversationsForUser("bob", RequestStateNone)
	if err != nil {
		t.Fatalf("ListConversationsForUser after accept failed: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("accepted conversation must appear in inbox, got %d", len(inbox))
	}
}

func TestGroupConversationCreate(t *testing.T) {
	store := newTestStore(t)

	mustCreateGroup(t, store, "grp-1", "alice", "bob", "carol")

	participants, err := store.ListParticipants("grp-1")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != 3 {
		t.Fatalf("expected creator + 2 members, got %d", len(participants))
	}

	admins, err := store.ListAdmins("grp-1")
	if err != nil {
		t.Fatalf("ListAdmins failed: %v", err)
	}
	if len(admins) != 1 || admins[0] != "alice" {
		t.Fatalf("creator must be the sole initial admin, got %v", admins)
	}
}

func TestGroupConversationCreateDedupsCreatorInMembers(t *testing.T) {
	store := newTestStore(t)

	// Clients commonly list the creator among the members; repeated IDs
	// anywhere in the list collapse to one participant row.
	mustCreateGroup(t, store, "grp-dup", "alice", "alice", "bob", "bob", "carol")

	participants, err := store.ListParticipants("grp-dup")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != 3 {
		t.Fatalf("expected 3 distinct participants, got %d", len(participants))
	}
	seen := map[string]bool{}
	for _, p := range participants {
		if seen[p.UserID] {
			t.Fatalf("duplicate participant row for %q", p.UserID)
		}
		seen[p.UserID] = true
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	store := newTestStore(t)

	mustCreateDirect(t, store, "conv-del", "alice", "bob")
	mustSaveMessage(t, store, "msg-1", "conv-del", "alice", nowUnixMilli())
	if err := store.ToggleReaction("msg-1", "bob", "👍"); err != nil {
		t.Fatalf("ToggleReaction failed: %v", err)
	}

	if err := store.DeleteConversation("conv-del"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	if _, err := store.GetConversation("conv-del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("conversation must be gone, got %v", err)
	}
	if _, err := store.GetMessage("msg-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("messages must be purged with the conversation, got %v", err)
	}
	if _, err := store.GetParticipant("conv-del", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("participants must be purged with the conversation, got %v", err)
	}
}

func TestReadCursorMonotonic(t *testing.T) {
	store := newTestStore(t)

	mustCreateDirect(t, store, "conv-read", "alice", "bob")
	base := nowUnixMilli()
	mustSaveMessage(t, store, "msg-1", "conv-read", "alice", base)
	mustSaveMessage(t, store, "msg-2", "conv-read", "alice", base+1)
	mustSaveMessage(t, store, "msg-3", "conv-read", "alice", base+2)

	if err := store.AdvanceReadCursor("conv-read", "bob", base+1, "msg-2"); err != nil {
		t.Fatalf("AdvanceReadCursor failed: %v", err)
	}

	unread, err := store.UnreadCount("conv-read", "bob")
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread message, got %d", unread)
	}

	// A later read position never regresses.
	if err := store.AdvanceReadCursor("conv-read", "bob", base, "msg-1"); err != nil {
		t.Fatalf("AdvanceReadCursor backwards failed: %v", err)
	}
	p, err := store.GetParticipant("conv-read", "bob")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if p.LastReadAt != base+1 || p.LastReadMessageID != "msg-2" {
		t.Fatalf("read cursor regressed to (%d, %q)", p.LastReadAt, p.LastReadMessageID)
	}
}

func TestUpdateGroupMetadata(t *testing.T) {
	store := newTestStore(t)

	mustCreateGroup(t, store, "grp-meta", "alice", "bob")

	newName := "Renamed"
	if err := store.UpdateGroupMetadata("grp-meta", &newName, nil); err != nil {
		t.Fatalf("UpdateGroupMetadata failed: %v", err)
	}

	conv, err := store.GetConversation("grp-meta")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.GroupName == nil || *conv.GroupName != "Renamed" {
		t.Fatalf("expected renamed group, got %+v", conv.GroupName)
	}

	mustCreateDirect(t, store, "conv-plain", "alice", "bob")
	if err := store.UpdateGroupMetadata("conv-plain", &newName, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("direct conversations must reject metadata updates, got %v", err)
	}
}
