// Package messaging provides a NATS client wrapper for pub/sub fanout across
// chat server instances. It handles connection lifecycle, subject naming for
// chat rooms, personal channels, and the global presence stream, and carries
// the room event envelope that lets receivers exclude the originating user.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectChat     = "chat"            // + .<chat_id>, room fanout
	SubjectUser     = "user"            // + .<user_id>, personal channel
	SubjectPresence = "presence.status" // global presence fanout
)

// RoomEvent is the payload published to chat.<chat_id> subjects. Payload is a
// fully encoded protocol server message. When ExcludeFrom names a user id,
// receivers must not deliver the payload to connections bound to that user
// (used by the typing relay; message fanout leaves it empty so the sender's
// own connections receive the push too).
type RoomEvent struct {
	From        string          `json:"from"`
	ExcludeFrom string          `json:"exclude_from,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "skillswap-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishRoom publishes a room event to the chat.<chatID> subject.
func (c *Client) PublishRoom(chatID string, event RoomEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats marshal room event: %w", err)
	}
	return c.conn.Publish(SubjectChat+"."+chatID, data)
}

// SubscribeRoom subscribes to the chat.<chatID> subject. The returned
// subscription is owned by the caller (the room manager keys subscriptions
// per connection so several local connections can share a room).
func (c *Client) SubscribeRoom(chatID string, handler func(event RoomEvent)) (*nats.Subscription, error) {
	subject := SubjectChat + "." + chatID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event RoomEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[nats] bad room event on %s: %v", subject, err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// PublishUser publishes encoded protocol bytes to a user's personal channel.
func (c *Client) PublishUser(userID string, payload []byte) error {
	return c.conn.Publish(SubjectUser+"."+userID, payload)
}

// SubscribeUser subscribes this instance to a user's personal channel. One
// subscription per user is enough no matter how many local connections the
// user has; repeated calls for an already-subscribed user are no-ops, so
// concurrent handshakes from the same user are safe.
func (c *Client) SubscribeUser(userID string, handler func(data []byte)) error {
	key := "usersub:" + userID

	c.mu.Lock()
	if _, ok := c.subs[key]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	subject := SubjectUser + "." + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if _, ok := c.subs[key]; ok {
		// Lost the race to a concurrent subscriber; keep theirs.
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeUser drops the instance's subscription to a user's personal
// channel. Call it when the user's last local connection is gone.
func (c *Client) UnsubscribeUser(userID string) error {
	return c.unsubscribe("usersub:" + userID)
}

// PublishPresence publishes encoded protocol bytes to the global presence
// stream. Every connected client on every instance receives it.
func (c *Client) PublishPresence(payload []byte) error {
	return c.conn.Publish(SubjectPresence, payload)
}

// SubscribePresence registers this instance's handler for presence fanout.
func (c *Client) SubscribePresence(handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(SubjectPresence, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectPresence, err)
	}

	c.mu.Lock()
	c.subs[SubjectPresence] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all registered subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes a registered subscription by key.
func (c *Client) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
