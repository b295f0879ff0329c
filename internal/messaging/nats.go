// Package messaging provides the NATS client wrapper that relays room events
// and presence updates between chat servers. It handles connection lifecycle,
// subject-based subscriptions, and JSON encoding of the bus payloads.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/presence"
)

// NATS subject patterns.
const (
	SubjectRoomPrefix = "chat.room."  // + <room_id>, one subject per room
	SubjectRoomAll    = "chat.room.>" // wildcard covering every room
	SubjectPresence   = "chat.presence"
)

// Client wraps the NATS connection with helper methods for the chat bus.
// It implements broker.Bus.
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
		Name:          "chat-core",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
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

// PublishEvent publishes a room event to its chat.room.<room_id> subject.
// It implements broker.Bus.
func (c *Client) PublishEvent(ev chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats marshal event: %w", err)
	}
	return c.conn.Publish(SubjectRoomPrefix+ev.Room, data)
}

// SubscribeEvents registers a handler for room events from every room,
// across all servers. Payloads that fail to decode are logged and dropped.
func (c *Client) SubscribeEvents(handler func(ev chat.Event)) error {
	return c.subscribe(SubjectRoomAll, func(msg *nats.Msg) {
		var ev chat.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad room event on %s: %v", msg.Subject, err)
			return
		}
		handler(ev)
	})
}

// PublishPresence publishes a presence transition to the shared presence
// subject.
func (c *Client) PublishPresence(ev presence.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats marshal presence: %w", err)
	}
	return c.conn.Publish(SubjectPresence, data)
}

// SubscribePresence registers a handler for presence transitions from all
// servers, this one included.
func (c *Client) SubscribePresence(handler func(ev presence.Event)) error {
	return c.subscribe(SubjectPresence, func(msg *nats.Msg) {
		var ev presence.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad presence event: %v", err)
			return
		}
		handler(ev)
	})
}

// subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
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
