package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingInterval must beat pongWait.
	pingInterval = 45 * time.Second
)

// TopicAuthorizer decides whether a user may subscribe to a topic.
type TopicAuthorizer func(userID, topic string) (bool, error)

// Bridge fans hub topics out to WebSocket clients. Each client sends
// {"subscribe": "<topic>"} frames and receives the topic's events as
// JSON. Decryption stays client-side; the bridge only moves events.
type Bridge struct {
	subscriber Subscriber
	authorize  TopicAuthorizer
	upgrader   websocket.Upgrader
}

// NewBridge builds a Bridge over a Subscriber. allowedOrigins limits
// browser connections; an empty list allows same-origin only.
func NewBridge(subscriber Subscriber, authorize TopicAuthorizer, allowedOrigins []string) *Bridge {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Bridge{
		subscriber: subscriber,
		authorize:  authorize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed[origin]
			},
		},
	}
}

type subscribeFrame struct {
	Subscribe   string `json:"subscribe,omitempty"`
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

// ServeHTTP upgrades the connection and runs the client until it
// disconnects. userID is the authenticated caller resolved upstream.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Warn("websocket upgrade failed")
		return
	}

	client := &bridgeClient{
		bridge: b,
		conn:   conn,
		userID: userID,
		send:   make(chan Event, DefaultSubscriberBuffer),
		closed: make(chan struct{}),
		subs:   make(map[string]*Subscription),
	}

	go client.writePump()
	client.readPump()
}

type bridgeClient struct {
	bridge *Bridge
	conn   *websocket.Conn
	userID string
	send   chan Event

	mu        sync.Mutex
	subs      map[string]*Subscription
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *bridgeClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame subscribeFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Subscribe != "" {
			if err := c.subscribe(frame.Subscribe); err != nil {
				logrus.WithFields(logrus.Fields{
					"user":  c.userID,
					"topic": frame.Subscribe,
					"error": err,
				}).Warn("subscribe rejected")
			}
		}
		if frame.Unsubscribe != "" {
			c.unsubscribe(frame.Unsubscribe)
		}
	}
}

func (c *bridgeClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *bridgeClient) subscribe(topic string) error {
	if c.bridge.authorize != nil {
		ok, err := c.bridge.authorize(c.userID, topic)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAuthorizedTopic
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.subs[topic]; exists {
		return nil
	}

	sub, err := c.bridge.subscriber.Subscribe(topic)
	if err != nil {
		return err
	}
	c.subs[topic] = sub

	go func() {
		for event := range sub.Events {
			select {
			case c.send <- event:
			case <-c.closed:
				return
			}
		}
	}()

	return nil
}

func (c *bridgeClient) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[topic]; ok {
		sub.Cancel()
		delete(c.subs, topic)
	}
}

func (c *bridgeClient) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		for _, sub := range c.subs {
			sub.Cancel()
		}
		c.subs = map[string]*Subscription{}
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}
