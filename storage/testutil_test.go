package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustCreateDirect(t *testing.T, store *Store, convID, userA, userB string) {
	t.Helper()

	err := store.CreateDirectConversation(Conversation{
		ConversationID: convID,
		CreatedBy:      userA,
	}, userA, userB, "")
	if err != nil {
		t.Fatalf("create direct conversation %q: %v", convID, err)
	}
}

func mustCreateGroup(t *testing.T, store *Store, convID, creator string, members ...string) {
	t.Helper()

	name := "Group " + convID
	err := store.CreateGroupConversation(Conversation{
		ConversationID: convID,
		Type:           ConversationGroup,
		CreatedBy:      creator,
		GroupName:      &name,
	}, members)
	if err != nil {
		t.Fatalf("create group conversation %q: %v", convID, err)
	}
}

func mustSaveMessage(t *testing.T, store *Store, msgID, convID, sender string, createdAt int64) {
	t.Helper()

	err := store.SaveMessage(Message{
		MessageID:      msgID,
		ConversationID: convID,
		SenderID:       sender,
		Ciphertext:     "ct-" + msgID,
		Scheme:         SchemeEnvelope,
		KeyWraps:       "{}",
		IV:             "iv-" + msgID,
		CreatedAt:      createdAt,
	})
	if err != nil {
		t.Fatalf("save message %q: %v", msgID, err)
	}
}
