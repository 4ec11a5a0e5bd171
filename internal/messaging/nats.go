// Package messaging provides a NATS client wrapper for pub/sub messaging
// across polyglot nodes. It handles connection lifecycle, subject-based
// subscriptions, and the room relay that carries conversation events from the
// node that persisted a message to every node holding subscribers.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATS subject patterns.
const (
	SubjectConversation = "conversation" // + .<conversation_id>
)

// ConversationSubject returns the subject carrying events for one room.
func ConversationSubject(conversationID string) string {
	return SubjectConversation + "." + conversationID
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
	log  *logrus.Logger
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "polyglot",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, log *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("[nats] disconnected")
			} else {
				log.Warn("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("[nats] reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.WithField("url", nc.ConnectedUrl()).Info("[nats] connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
		log:  log,
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup. Messages on one subscription
// are handled sequentially.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Flush round-trips to the server so earlier subscriptions are active.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.WithError(err).WithField("subject", subject).Warn("[nats] drain")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.WithError(err).Warn("[nats] connection drain")
	}

	c.log.Info("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// LocalBroadcaster delivers a room event to this node's subscribers.
// realtime.Hub implements it.
type LocalBroadcaster interface {
	Broadcast(ctx context.Context, conversationID string, payload []byte) error
}

// Relay fans room events out across nodes. Broadcast publishes to the
// conversation's subject; every node running Run feeds what it receives
// into its local hub, including the publishing node.
type Relay struct {
	client *NATSClient
	log    *logrus.Logger
}

// NewRelay creates a relay over an established client.
func NewRelay(client *NATSClient, log *logrus.Logger) *Relay {
	return &Relay{client: client, log: log}
}

// Broadcast publishes payload for conversationID.
func (r *Relay) Broadcast(_ context.Context, conversationID string, payload []byte) error {
	if err := r.client.Publish(ConversationSubject(conversationID), payload); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", conversationID, err)
	}
	return nil
}

// Run subscribes to every conversation subject and forwards events to hub.
// NATS delivers a subscription's messages in publish order, so per-room
// ordering carries through to the local hub.
func (r *Relay) Run(hub LocalBroadcaster) error {
	err := r.client.Subscribe(SubjectConversation+".*", func(msg *nats.Msg) {
		conv := strings.TrimPrefix(msg.Subject, SubjectConversation+".")
		if err := hub.Broadcast(context.Background(), conv, msg.Data); err != nil {
			r.log.WithError(err).WithField("conversation_id", conv).Warn("[nats] local delivery failed")
		}
	})
	if err != nil {
		return err
	}
	return r.client.Flush()
}

// Stop removes the relay subscription.
func (r *Relay) Stop() error {
	return r.client.unsubscribe(SubjectConversation + ".*")
}
