// Package client provides a reusable WebSocket load test client for the
// polyglot chat server. It connects using gobwas/ws (the same library the
// server uses), records the session id from connection_response, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeSendMessage       = "send_message"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeConnectionResponse = "connection_response"
	TypeJoinedConversation = "joined_conversation"
	TypeLeftConversation   = "left_conversation"
	TypeNewMessage         = "new_message"
	TypeRateLimited        = "rate_limited"
	TypeError              = "error"
	TypePong               = "pong"
)

// NewMessage is the message carried by a new_message event.
type NewMessage struct {
	ID                 string    `json:"id"`
	ConversationID     string    `json:"conversation_id"`
	SenderID           string    `json:"sender_id"`
	OriginalText       string    `json:"original_text"`
	SourceLanguage     string    `json:"source_language"`
	TranslatedText     string    `json:"translated_text"`
	TranslatedLanguage string    `json:"translated_language"`
	Timestamp          time.Time `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int64
	MessagesSent     int64
	Errors           int64
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection. It manages the
// WebSocket lifecycle and dispatches incoming messages to registered handlers.
type Client struct {
	conn           net.Conn
	rw             io.ReadWriter // reads drain the handshake buffer first
	connectLatency time.Duration

	writeMu  sync.Mutex
	handlerM sync.RWMutex
	handlers map[string]func(json.RawMessage)

	sessionID atomic.Value // string
	sent      atomic.Int64
	received  atomic.Int64
	errors    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client connected to the given WebSocket URL. A background
// goroutine starts reading immediately.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// The server sends connection_response straight after the upgrade, so
	// it can arrive in the same read as the handshake response.
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	rw := struct {
		io.Reader
		io.Writer
	}{src, conn}

	c := &Client{
		conn:           conn,
		rw:             rw,
		connectLatency: time.Since(start),
		handlers:       make(map[string]func(json.RawMessage)),
		done:           make(chan struct{}),
	}
	c.sessionID.Store("")

	go c.readLoop()
	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sent.Add(1)
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Join subscribes the connection to a conversation room.
func (c *Client) Join(conversationID, userID string) error {
	return c.Send(map[string]string{
		"type":            TypeJoinConversation,
		"conversation_id": conversationID,
		"user_id":         userID,
	})
}

// SendText sends a chat message. An empty target keeps the recipient's
// preference.
func (c *Client) SendText(conversationID, senderID, text, target string) error {
	msg := map[string]string{
		"type":            TypeSendMessage,
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"text":            text,
	}
	if target != "" {
		msg["translated_language"] = target
	}
	return c.Send(msg)
}

// On registers a handler for a server message type, replacing any earlier
// one. Handlers run on the read loop goroutine and should not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlerM.Lock()
	c.handlers[msgType] = handler
	c.handlerM.Unlock()
}

// WaitForSession blocks until connection_response has arrived or ctx ends.
func (c *Client) WaitForSession(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("connection closed before connection_response")
		case <-ticker.C:
			if c.SessionID() != "" {
				return nil
			}
		}
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// SessionID returns the id from connection_response, or "" before it
// arrives.
func (c *Client) SessionID() string {
	return c.sessionID.Load().(string)
}

// GetMetrics returns a snapshot of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return Metrics{
		ConnectLatency:   c.connectLatency,
		MessagesReceived: c.received.Load(),
		MessagesSent:     c.sent.Load(),
		Errors:           c.errors.Load(),
	}
}

// readLoop reads frames until the connection closes and dispatches them to
// registered handlers.
func (c *Client) readLoop() {
	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			select {
			case <-c.done:
				// Closed on purpose.
			default:
				c.errors.Add(1)
			}
			return
		}
		c.received.Add(1)

		var envelope struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		if envelope.Type == TypeConnectionResponse && envelope.SessionID != "" {
			c.sessionID.Store(envelope.SessionID)
		}

		c.handlerM.RLock()
		handler, ok := c.handlers[envelope.Type]
		c.handlerM.RUnlock()
		if ok {
			handler(json.RawMessage(data))
		}
	}
}
