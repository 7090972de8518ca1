package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"marketchat/keystore"
	"marketchat/messaging"
)

// retryPersistence re-runs a write whose failure is not a domain error.
// At most one retry: transient SQLite contention clears on a quick
// second attempt, and a tighter bound keeps the duplicate-send window
// small. Domain errors are permanent and returned immediately.
func retryPersistence(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isDomainError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(policy, ctx), 1))
}

func isDomainError(err error) bool {
	for _, sentinel := range []error{
		messaging.ErrConversationNotFound,
		messaging.ErrNotAParticipant,
		messaging.ErrNotAuthorized,
		messaging.ErrMessageNotFound,
		messaging.ErrNotSender,
		messaging.ErrInvalidReaction,
		messaging.ErrLastAdmin,
		messaging.ErrSelfConversation,
		messaging.ErrEmptyMessage,
		keystore.ErrKeyNotFound,
		keystore.ErrAccessDenied,
		keystore.ErrKeyGeneration,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
