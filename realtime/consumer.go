package realtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// SeenStore records processed event IDs for at-least-once dedupe.
// *storage.Store satisfies it.
type SeenStore interface {
	InsertSeenEventID(eventID string, receivedAt int64) error
	HasSeenEventID(eventID string) (bool, error)
}

// Consumer runs a long-lived subscription to one topic, resubscribing
// with exponential backoff when the subscription drops (slow-subscriber
// eviction, hub restart) and suppressing duplicate events.
type Consumer struct {
	pubsub Subscriber
	seen   SeenStore
	topic  string
	handle func(Event)
}

// NewConsumer builds a Consumer. seen may be nil to disable dedupe.
func NewConsumer(pubsub Subscriber, seen SeenStore, topic string, handle func(Event)) *Consumer {
	return &Consumer{
		pubsub: pubsub,
		seen:   seen,
		topic:  topic,
		handle: handle,
	}
}

// Run consumes events until ctx is cancelled. Abandoning the consumer
// has no server-side effects beyond releasing its subscription.
func (c *Consumer) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	for {
		sub, err := c.pubsub.Subscribe(c.topic)
		if err != nil {
			wait := policy.NextBackOff()
			logrus.WithFields(logrus.Fields{
				"topic": c.topic,
				"error": err,
				"retry": wait,
			}).Warn("realtime resubscribe failed")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		policy.Reset()

		if err := c.consume(ctx, sub); err != nil {
			return err
		}
		// Subscription closed; loop and resubscribe.
	}
}

func (c *Consumer) consume(ctx context.Context, sub *Subscription) error {
	defer sub.Cancel()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if c.isDuplicate(event) {
				continue
			}
			c.handle(event)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) isDuplicate(event Event) bool {
	if c.seen == nil || event.ID == "" {
		return false
	}

	seen, err := c.seen.HasSeenEventID(event.ID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"event": event.ID, "error": err}).
			Warn("seen-event lookup failed, passing event through")
		return false
	}
	if seen {
		return true
	}
	if err := c.seen.InsertSeenEventID(event.ID, 0); err != nil {
		logrus.WithFields(logrus.Fields{"event": event.ID, "error": err}).
			Warn("seen-event record failed")
	}
	return false
}
