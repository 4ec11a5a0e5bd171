//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks

// Package chat is the message pipeline: it resolves the conversation and the
// recipient's language, translates, persists, and only then notifies the
// room. The message store is the source of truth; broadcast is a hint.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/apperr"
	"github.com/whisper/polyglot/internal/conversation"
	"github.com/whisper/polyglot/internal/language"
	"github.com/whisper/polyglot/internal/message"
	"github.com/whisper/polyglot/internal/metrics"
	"github.com/whisper/polyglot/internal/profile"
	"github.com/whisper/polyglot/internal/protocol"
	"github.com/whisper/polyglot/internal/ratelimit"
	"github.com/whisper/polyglot/internal/realtime"
	"github.com/whisper/polyglot/internal/translate"
)

var (
	// ErrInvalidMessage wraps a text validation failure.
	ErrInvalidMessage = errors.New("chat: invalid message")

	// ErrUnsupportedLanguage is returned for a preference outside the
	// language registry.
	ErrUnsupportedLanguage = errors.New("chat: unsupported language")

	// ErrRateLimited is matched by every RateLimitError.
	ErrRateLimited = errors.New("chat: rate limited")
)

// RateLimitError reports a throttled send and when to retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Broadcaster delivers an encoded event to a conversation room. Both
// realtime.Hub and messaging.Relay implement it.
type Broadcaster interface {
	Broadcast(ctx context.Context, conversationID string, payload []byte) error
}

// RateLimiter throttles senders. ratelimit.Limiter implements it.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
}

// Config holds service tunables.
type Config struct {
	DefaultLanguage string
	HistoryLimit    int
	HistoryMaxLimit int
	MessageRule     ratelimit.Rule
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLanguage: "english",
		HistoryLimit:    message.DefaultLimit,
		HistoryMaxLimit: 500,
		MessageRule:     ratelimit.RuleMessage,
	}
}

// Deps are the collaborators a Service is built from. Profiles defaults to
// an in-memory store, Broadcaster to Hub, and Limiter may be nil to disable
// throttling.
type Deps struct {
	Conversations *conversation.Registry
	Messages      message.Store
	Translator    *translate.Pipeline
	Profiles      profile.Store
	Hub           *realtime.Hub
	Broadcaster   Broadcaster
	Limiter       RateLimiter
	Logger        *logrus.Logger
}

// Service implements every chat operation exposed over REST and WebSocket.
type Service struct {
	conversations *conversation.Registry
	messages      message.Store
	translator    *translate.Pipeline
	profiles      profile.Store
	hub           *realtime.Hub
	broadcaster   Broadcaster
	limiter       RateLimiter
	cfg           Config
	log           *logrus.Logger
}

// NewService wires a Service.
func NewService(d Deps, cfg Config) *Service {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Profiles == nil {
		d.Profiles = profile.NewMemoryStore()
	}
	if d.Hub == nil {
		d.Hub = realtime.NewHub(d.Logger)
	}
	if d.Broadcaster == nil {
		d.Broadcaster = d.Hub
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = DefaultConfig().DefaultLanguage
	}
	return &Service{
		conversations: d.Conversations,
		messages:      d.Messages,
		translator:    d.Translator,
		profiles:      d.Profiles,
		hub:           d.Hub,
		broadcaster:   d.Broadcaster,
		limiter:       d.Limiter,
		cfg:           cfg,
		log:           d.Logger,
	}
}

// GetOrCreateConversation returns the conversation between a and b.
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b string) (*conversation.Conversation, error) {
	return s.conversations.GetOrCreate(ctx, a, b)
}

// GetConversation looks up a conversation by id.
func (s *Service) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return s.conversations.Get(ctx, id)
}

// ListConversations returns a user's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	return s.conversations.ListFor(ctx, userID)
}

// SendRequest is the input to SendMessage. TargetLanguage overrides the
// recipient's preference when set.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Text           string
	TargetLanguage string
}

// SendMessage translates, stores and broadcasts one message. A failed
// translation still sends with the original text. A failed append returns
// the store error and broadcasts nothing.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*message.Message, error) {
	start := time.Now()
	logger := s.log.WithFields(logrus.Fields{
		"conversation_id": req.ConversationID,
		"sender_id":       req.SenderID,
	})

	if err := message.Validate(req.Text); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if s.limiter != nil && s.cfg.MessageRule.Enabled() {
		if ok, _ := s.limiter.Allow(ctx, req.SenderID, s.cfg.MessageRule); !ok {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, &RateLimitError{RetryAfter: s.limiter.RetryAfter(ctx, req.SenderID, s.cfg.MessageRule)}
		}
	}

	conv, err := s.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	recipient, err := conv.Recipient(req.SenderID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	target := s.resolveTarget(ctx, recipient, req.TargetLanguage)
	res := s.translator.Translate(ctx, req.Text, target, "")

	stored, err := s.messages.Append(ctx, &message.Message{
		ConversationID:     conv.ID,
		SenderID:           req.SenderID,
		OriginalText:       req.Text,
		SourceLanguage:     res.SourceLanguage,
		TranslatedText:     res.TranslatedText,
		TranslatedLanguage: res.TargetLanguage,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		logger.WithError(err).Error("[chat] append failed, not broadcasting")
		return nil, fmt.Errorf("chat: send: %w", err)
	}

	if err := s.conversations.Touch(ctx, conv.ID, stored.Timestamp); err != nil {
		logger.WithError(err).Warn("[chat] failed to update last_message_at")
	}

	payload, err := protocol.NewMessageEvent(stored)
	if err != nil {
		logger.WithError(err).Error("[chat] failed to encode new_message")
	} else if err := s.broadcaster.Broadcast(ctx, conv.ID, payload); err != nil {
		logger.WithError(err).Warn("[chat] broadcast failed, message is stored")
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.MessageLatency.Observe(time.Since(start).Seconds())
	logger.WithFields(logrus.Fields{
		"message_id": stored.ID,
		"source":     stored.SourceLanguage,
		"target":     stored.TranslatedLanguage,
		"outcome":    res.Outcome,
	}).Debug("[chat] message sent")
	return stored, nil
}

// resolveTarget picks the translation target: explicit override, then the
// recipient's stored preference, then the configured default.
func (s *Service) resolveTarget(ctx context.Context, recipient, override string) string {
	if t := strings.TrimSpace(override); t != "" {
		return t
	}
	pref, err := s.profiles.PreferredLanguage(ctx, recipient)
	switch {
	case err == nil && pref != "":
		return pref
	case err != nil && !apperr.IsNotFound(err):
		s.log.WithError(err).WithField("user_id", recipient).Warn("[chat] preference lookup failed, using default")
	}
	return s.cfg.DefaultLanguage
}

// ListMessages returns up to limit messages of a conversation in
// chronological order. An unknown conversation yields an empty list.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int) ([]*message.Message, error) {
	limit = message.ClampLimit(limit, s.cfg.HistoryLimit, s.cfg.HistoryMaxLimit)
	return s.messages.List(ctx, conversationID, limit)
}

// Translate runs a manual translation. An empty source means detect.
func (s *Service) Translate(ctx context.Context, text, target, source string) translate.Result {
	return s.translator.Translate(ctx, text, target, source)
}

// Languages returns the supported language table.
func (s *Service) Languages() *language.Registry {
	return s.translator.Languages()
}

// SetPreferredLanguage stores the language a user reads messages in.
func (s *Service) SetPreferredLanguage(ctx context.Context, userID, lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	langs := s.translator.Languages()
	if !langs.Supports(lang) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return s.profiles.SetPreferredLanguage(ctx, userID, langs.NameOf(langs.CodeOf(lang)))
}

// PreferredLanguage returns a user's preference or the default.
func (s *Service) PreferredLanguage(ctx context.Context, userID string) string {
	return s.resolveTarget(ctx, userID, "")
}

// JoinRoom subscribes a connection to a conversation's events and
// acknowledges to that connection only.
func (s *Service) JoinRoom(connID string, w realtime.Writer, conversationID, userID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidMessage)
	}
	ack, err := protocol.NewServerMessage(protocol.TypeJoinedConversation, protocol.JoinedConversationMsg{
		ConversationID: conversationID,
		UserID:         userID,
	})
	if err != nil {
		return err
	}
	added, err := s.hub.JoinWith(connID, w, conversationID, ack)
	if added {
		s.log.WithFields(logrus.Fields{
			"conn_id":         connID,
			"conversation_id": conversationID,
			"user_id":         userID,
		}).Debug("[chat] joined room")
	}
	return err
}

// LeaveRoom unsubscribes a connection from one room.
func (s *Service) LeaveRoom(connID, conversationID string) {
	s.hub.Leave(connID, conversationID)
}

// Disconnect drops a connection from every room it joined.
func (s *Service) Disconnect(connID string) {
	if rooms := s.hub.Disconnect(connID); len(rooms) > 0 {
		s.log.WithFields(logrus.Fields{"conn_id": connID, "rooms": len(rooms)}).Debug("[chat] connection left rooms")
	}
}
