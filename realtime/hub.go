package realtime

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSubscriberBuffer is the per-subscription event buffer.
	DefaultSubscriberBuffer = 64
	// hubQueueSize buffers publishes so publishers never block.
	hubQueueSize = 256
)

type hubCommand struct {
	subscribe   *hubSubscribe
	unsubscribe *hubSubscriber
	publish     *hubPublish
}

type hubSubscribe struct {
	topic string
	reply chan *hubSubscriber
}

type hubSubscriber struct {
	topic  string
	events chan Event
}

type hubPublish struct {
	topic string
	event Event
}

// Hub is the in-process PubSub implementation. A single run loop owns
// the topic map; registration, cancellation, and publishes are all
// funneled through one channel so no lock is held across deliveries.
type Hub struct {
	commands chan hubCommand
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	buffer int
}

// NewHub starts a Hub and its run loop.
func NewHub() *Hub {
	h := &Hub{
		commands: make(chan hubCommand, hubQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		buffer:   DefaultSubscriberBuffer,
	}
	go h.run()
	return h
}

// Publish enqueues an event for a topic's subscribers. Fire-and-forget:
// it never blocks on slow subscribers and drops the event if the hub is
// stopped.
func (h *Hub) Publish(topic string, event Event) {
	select {
	case h.commands <- hubCommand{publish: &hubPublish{topic: topic, event: event}}:
	case <-h.stop:
	}
}

// Subscribe attaches a new subscription to a topic.
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	req := &hubSubscribe{topic: topic, reply: make(chan *hubSubscriber, 1)}
	select {
	case h.commands <- hubCommand{subscribe: req}:
	case <-h.stop:
		return nil, ErrHubStopped
	}

	var sub *hubSubscriber
	select {
	case sub = <-req.reply:
	case <-h.done:
		return nil, ErrHubStopped
	}

	return &Subscription{
		Topic:  topic,
		Events: sub.events,
		cancel: func() {
			select {
			case h.commands <- hubCommand{unsubscribe: sub}:
			case <-h.stop:
			}
		},
	}, nil
}

// Stop shuts the hub down and closes every subscription channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)

	topics := make(map[string]map[*hubSubscriber]bool)

	for {
		select {
		case <-h.stop:
			for _, subs := range topics {
				for sub := range subs {
					close(sub.events)
				}
			}
			return
		case cmd := <-h.commands:
			switch {
			case cmd.subscribe != nil:
				sub := &hubSubscriber{
					topic:  cmd.subscribe.topic,
					events: make(chan Event, h.buffer),
				}
				if topics[sub.topic] == nil {
					topics[sub.topic] = make(map[*hubSubscriber]bool)
				}
				topics[sub.topic][sub] = true
				cmd.subscribe.reply <- sub
			case cmd.unsubscribe != nil:
				sub := cmd.unsubscribe
				if subs, ok := topics[sub.topic]; ok && subs[sub] {
					delete(subs, sub)
					close(sub.events)
					if len(subs) == 0 {
						delete(topics, sub.topic)
					}
				}
			case cmd.publish != nil:
				subs := topics[cmd.publish.topic]
				for sub := range subs {
					select {
					case sub.events <- cmd.publish.event:
					default:
						// Slow subscriber: drop it rather than block the
						// hub. At-least-once delivery means it recovers by
						// refetching on reconnect.
						delete(subs, sub)
						close(sub.events)
						logrus.WithFields(logrus.Fields{
							"topic": cmd.publish.topic,
						}).Warn("dropped slow realtime subscriber")
					}
				}
				if len(subs) == 0 {
					delete(topics, cmd.publish.topic)
				}
			}
		}
	}
}
