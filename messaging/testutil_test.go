package messaging

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"marketchat/crypto"
	"marketchat/keystore"
	"marketchat/realtime"
	"marketchat/storage"
)

// recordingPublisher captures delivery events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Topic string
	Event realtime.Event
}

func (p *recordingPublisher) Publish(topic string, event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Topic: topic, Event: event})
}

func (p *recordingPublisher) Recorded() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedEvent, len(p.events))
	copy(out, p.events)
	return out
}

type testEnv struct {
	store     *storage.Store
	keys      *keystore.KeyStore
	registry  *Registry
	admin     *Admin
	service   *Service
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "messaging_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	engine, err := crypto.NewEngine(crypto.SuiteAESGCM)
	require.NoError(t, err)

	keys := keystore.New(store, keystore.Options{})
	registry := NewRegistry(store)
	publisher := &recordingPublisher{}

	return &testEnv{
		store:     store,
		keys:      keys,
		registry:  registry,
		admin:     NewAdmin(store),
		service:   NewService(store, registry, keys, engine, publisher),
		publisher: publisher,
	}
}

func (e *testEnv) keyUser(t *testing.T, userID string) {
	t.Helper()
	_, err := e.keys.EnsureKeyPair(context.Background(), userID)
	require.NoError(t, err)
}

// directBetween creates and accepts a direct conversation so the
// request gate does not interfere with message tests.
func (e *testEnv) directBetween(t *testing.T, userA, userB string) string {
	t.Helper()
	ctx := context.Background()
	conv, err := e.registry.GetOrCreateDirect(ctx, userA, userB)
	require.NoError(t, err)
	require.NoError(t, e.registry.AcceptRequest(ctx, conv.ConversationID, userB))
	return conv.ConversationID
}

func (e *testEnv) groupOf(t *testing.T, creatorID string, memberIDs ...string) string {
	t.Helper()
	conv, err := e.registry.CreateGroup(context.Background(), creatorID, storage.ConversationGroup, "test group", memberIDs, "")
	require.NoError(t, err)
	return conv.ConversationID
}
