package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/crypto"
	"marketchat/keystore"
	"marketchat/realtime"
	"marketchat/storage"
)

func TestSendDirectRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.directBetween(t, "alice", "bob")

	sent, err := env.service.Send(ctx, convID, "alice", "is the bike still available?")
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeDirect, sent.Scheme)
	assert.Equal(t, "is the bike still available?", sent.Content)

	// The recipient decrypts the stored ciphertext.
	page, err := env.service.Fetch(ctx, convID, "bob", storage.MessageCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "is the bike still available?", page.Messages[0].Content)
	assert.False(t, page.Messages[0].Undecryptable)

	// The ciphertext at rest never contains the plaintext.
	raw, err := env.store.GetMessage(sent.MessageID)
	require.NoError(t, err)
	assert.NotContains(t, raw.Ciphertext, "bike")
}

func TestSendDirectSenderSeesPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.directBetween(t, "alice", "bob")

	_, err := env.service.Send(ctx, convID, "alice", "short note")
	require.NoError(t, err)

	page, err := env.service.Fetch(ctx, convID, "alice", storage.MessageCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, crypto.UndecryptableText, page.Messages[0].Content)
	assert.True(t, page.Messages[0].Undecryptable)
}

func TestSendDirectOversizedFallsBackToEnvelope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.directBetween(t, "alice", "bob")

	long := strings.Repeat("a very long listing description ", 20)
	sent, err := env.service.Send(ctx, convID, "alice", long)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeEnvelope, sent.Scheme)

	// Envelope wraps cover both participants, the sender included.
	for _, caller := range []string{"alice", "bob"} {
		page, err := env.service.Fetch(ctx, convID, caller, storage.MessageCursor{}, 10)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, long, page.Messages[0].Content, "caller %s", caller)
	}
}

func TestSendToUnkeyedRecipient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	convID := env.directBetween(t, "alice", "bob")

	_, err := env.service.Send(ctx, convID, "alice", "hello")
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestSendRejectsOutsiderAndEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.directBetween(t, "alice", "bob")

	_, err := env.service.Send(ctx, convID, "mallory", "hi")
	assert.ErrorIs(t, err, ErrNotAParticipant)

	_, err = env.service.Send(ctx, convID, "alice", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = env.service.Send(ctx, "no-such-conversation", "alice", "hi")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestGroupSendWrapsForCurrentParticipantsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "dave"} {
		env.keyUser(t, u)
	}
	convID := env.groupOf(t, "alice", "bob")

	sent, err := env.service.Send(ctx, convID, "alice", "welcome everyone")
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeEnvelope, sent.Scheme)

	// Dave joins after the send. The history is never re-wrapped, so
	// the earlier message stays unreadable for him.
	require.NoError(t, env.admin.AddMember(ctx, convID, "alice", "dave"))
	time.Sleep(2 * time.Millisecond) // distinct created_at for a stable order
	_, err = env.service.Send(ctx, convID, "alice", "dave just joined")
	require.NoError(t, err)

	page, err := env.service.Fetch(ctx, convID, "dave", storage.MessageCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, crypto.UndecryptableText, page.Messages[0].Content)
	assert.True(t, page.Messages[0].Undecryptable)
	assert.Equal(t, "dave just joined", page.Messages[1].Content)

	// The failed decryption left an audit trail.
	events, err := env.store.ListSecurityEvents(storage.SecurityEventDecryptionFailure, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	// Original members still read both messages.
	page, err = env.service.Fetch(ctx, convID, "bob", storage.MessageCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "welcome everyone", page.Messages[0].Content)
}

func TestGroupSendSkipsUnkeyedParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	convID := env.groupOf(t, "alice", "bob")

	// Bob has no key pair yet; the send still succeeds for alice.
	_, err := env.service.Send(ctx, convID, "alice", "anyone here?")
	require.NoError(t, err)

	page, err := env.service.Fetch(ctx, convID, "bob", storage.MessageCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Undecryptable)

	page, err = env.service.Fetch(ctx, convID, "alice", storage.MessageCursor{}, 10)
	require.NoError(t, err)
	assert.Equal(t, "anyone here?", page.Messages[0].Content)
}

func TestFetchPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.groupOf(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		_, err := env.service.Send(ctx, convID, "alice", strings.Repeat("x", i+1))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct created_at for a stable order
	}

	var got []string
	cursor := storage.MessageCursor{}
	pages := 0
	for {
		page, err := env.service.Fetch(ctx, convID, "bob", cursor, 2)
		require.NoError(t, err)
		for _, m := range page.Messages {
			got = append(got, m.Content)
		}
		pages++
		if !page.HasMore {
			break
		}
		cursor = storage.MessageCursor{CreatedAt: page.NextCreatedAt, MessageID: page.NextMessageID}
	}

	require.Len(t, got, 5)
	assert.Equal(t, 3, pages)
	for i, content := range got {
		assert.Len(t, content, i+1, "messages out of order at %d", i)
	}
}

func TestFetchRequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID := env.groupOf(t, "alice", "bob")

	_, err := env.service.Fetch(ctx, convID, "mallory", storage.MessageCursor{}, 10)
	assert.ErrorIs(t, err, ErrNotAParticipant)

	_, err = env.service.Fetch(ctx, "no-such-conversation", "alice", storage.MessageCursor{}, 10)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestReactToggle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.groupOf(t, "alice", "bob")

	sent, err := env.service.Send(ctx, convID, "alice", "sold!")
	require.NoError(t, err)

	require.NoError(t, env.service.React(ctx, sent.MessageID, "bob", "👍"))
	reactions, err := env.service.Reactions(ctx, sent.MessageID, "alice")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "👍", reactions[0].Emoji)

	// A different emoji replaces, the same emoji removes.
	require.NoError(t, env.service.React(ctx, sent.MessageID, "bob", "❤️"))
	reactions, err = env.service.Reactions(ctx, sent.MessageID, "alice")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "❤️", reactions[0].Emoji)

	require.NoError(t, env.service.React(ctx, sent.MessageID, "bob", "❤️"))
	reactions, err = env.service.Reactions(ctx, sent.MessageID, "alice")
	require.NoError(t, err)
	assert.Empty(t, reactions)
}

func TestReactValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.groupOf(t, "alice", "bob")

	sent, err := env.service.Send(ctx, convID, "alice", "ok")
	require.NoError(t, err)

	for _, bad := range []string{"", "thumbs up", "👍👍", "👍!", "a"} {
		assert.ErrorIs(t, env.service.React(ctx, sent.MessageID, "bob", bad), ErrInvalidReaction, "reaction %q", bad)
	}

	assert.ErrorIs(t, env.service.React(ctx, sent.MessageID, "mallory", "👍"), ErrNotAParticipant)
	assert.ErrorIs(t, env.service.React(ctx, "no-such-message", "bob", "👍"), ErrMessageNotFound)
}

func TestDeleteTombstonesForSenderOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.groupOf(t, "alice", "bob")

	sent, err := env.service.Send(ctx, convID, "alice", "typo messsage")
	require.NoError(t, err)

	assert.ErrorIs(t, env.service.Delete(ctx, sent.MessageID, "bob"), ErrNotSender)

	require.NoError(t, env.service.Delete(ctx, sent.MessageID, "alice"))

	// The tombstone keeps its slot in the order with no content.
	page, err := env.service.Fetch(ctx, convID, "bob", storage.MessageCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Deleted)
	assert.Empty(t, page.Messages[0].Content)

	// Deleting twice is a no-op.
	require.NoError(t, env.service.Delete(ctx, sent.MessageID, "alice"))
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.groupOf(t, "alice", "bob")

	var last *storage.Message
	for i := 0; i < 3; i++ {
		sent, err := env.service.Send(ctx, convID, "alice", "ping")
		require.NoError(t, err)
		raw, err := env.store.GetMessage(sent.MessageID)
		require.NoError(t, err)
		last = raw
		time.Sleep(2 * time.Millisecond) // distinct created_at so the cursor is unambiguous
	}

	count, err := env.service.UnreadCount(ctx, convID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, env.service.MarkRead(ctx, convID, "bob", last.CreatedAt, last.MessageID))
	count, err = env.service.UnreadCount(ctx, convID, "bob")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The cursor never moves backwards.
	require.NoError(t, env.service.MarkRead(ctx, convID, "bob", last.CreatedAt-1000, "earlier"))
	count, err = env.service.UnreadCount(ctx, convID, "bob")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendPublishesDeliveryEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keyUser(t, "alice")
	env.keyUser(t, "bob")
	convID := env.groupOf(t, "alice", "bob")

	sent, err := env.service.Send(ctx, convID, "alice", "hello")
	require.NoError(t, err)

	events := env.publisher.Recorded()
	require.Len(t, events, 1)
	assert.Equal(t, realtime.ConversationTopic(convID), events[0].Topic)
	assert.Equal(t, realtime.EventInsert, events[0].Event.Type)
	assert.Equal(t, "messages", events[0].Event.Table)
	assert.Equal(t, sent.MessageID, events[0].Event.Row["message_id"])

	require.NoError(t, env.service.Delete(ctx, sent.MessageID, "alice"))
	events = env.publisher.Recorded()
	require.Len(t, events, 2)
	assert.Equal(t, realtime.EventUpdate, events[1].Event.Type)
}
