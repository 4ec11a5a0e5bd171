package main

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/apperr"
	"github.com/whisper/polyglot/internal/chat"
	"github.com/whisper/polyglot/internal/conversation"
	"github.com/whisper/polyglot/internal/protocol"
	"github.com/whisper/polyglot/internal/session"
	"github.com/whisper/polyglot/internal/ws"
)

// socketHandlers binds client socket events to the chat service.
type socketHandlers struct {
	dispatcher  *ws.MessageDispatcher
	svc         *chat.Service
	sessions    *session.Store // nil without Redis
	sendTimeout time.Duration
	log         *logrus.Logger
}

func (h *socketHandlers) register() {
	h.dispatcher.Register(protocol.TypeJoinConversation, h.join)
	h.dispatcher.Register(protocol.TypeLeaveConversation, h.leave)
	h.dispatcher.Register(protocol.TypeSendMessage, h.send)
}

// -----------------------------------------------------------------------
// join_conversation: subscribe this socket to a room
// -----------------------------------------------------------------------
func (h *socketHandlers) join(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.JoinConversationMsg)
	if !ok {
		return
	}
	if err := h.svc.JoinRoom(conn.ID, conn, m.ConversationID, m.UserID); err != nil {
		h.dispatcher.SendError(conn, errorCode(err), err.Error())
		return
	}
	if h.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.sessions.Joined(ctx, conn.ID, m.UserID, m.ConversationID); err != nil {
			h.log.WithError(err).WithField("session", conn.ID).Warn("ws: failed to record room in session")
		}
	}
}

// -----------------------------------------------------------------------
// leave_conversation: unsubscribe from a room
// -----------------------------------------------------------------------
func (h *socketHandlers) leave(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.LeaveConversationMsg)
	if !ok {
		return
	}
	h.svc.LeaveRoom(conn.ID, m.ConversationID)
	if h.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.sessions.Left(ctx, conn.ID, m.ConversationID)
	}
	h.dispatcher.Send(conn, protocol.TypeLeftConversation, protocol.LeftConversationMsg{
		ConversationID: m.ConversationID,
	})
}

// -----------------------------------------------------------------------
// send_message: translate, persist, broadcast to the room
// -----------------------------------------------------------------------
func (h *socketHandlers) send(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()

	_, err := h.svc.SendMessage(ctx, chat.SendRequest{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		TargetLanguage: m.TranslatedLanguage,
	})
	if err == nil {
		return
	}

	var rl *chat.RateLimitError
	if errors.As(err, &rl) {
		h.dispatcher.Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(math.Ceil(rl.RetryAfter.Seconds())),
		})
		return
	}
	h.log.WithError(err).WithFields(logrus.Fields{
		"session":         conn.ID,
		"conversation_id": m.ConversationID,
	}).Debug("ws: send_message rejected")

	text := err.Error()
	if apperr.IsUnavailable(err) {
		text = "storage temporarily unavailable"
	}
	h.dispatcher.SendError(conn, errorCode(err), text)
}

// errorCode maps a service error onto the code carried by an error frame.
func errorCode(err error) string {
	switch {
	case apperr.IsNotFound(err):
		return "not_found"
	case apperr.IsUnavailable(err):
		return "unavailable"
	case errors.Is(err, conversation.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, chat.ErrInvalidMessage):
		return "invalid_message"
	default:
		return "internal"
	}
}
