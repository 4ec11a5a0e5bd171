package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/whisper/polyglot/internal/chat"
	chatmocks "github.com/whisper/polyglot/internal/chat/mocks"
	"github.com/whisper/polyglot/internal/conversation"
	"github.com/whisper/polyglot/internal/language"
	"github.com/whisper/polyglot/internal/message"
	"github.com/whisper/polyglot/internal/protocol"
	"github.com/whisper/polyglot/internal/translate"
	tmocks "github.com/whisper/polyglot/internal/translate/mocks"
	"github.com/whisper/polyglot/internal/ws"
)

type fixture struct {
	dispatcher *ws.MessageDispatcher
	svc        *chat.Service
	conv       *conversation.Conversation
}

func newFixture(t *testing.T, limiter chat.RateLimiter) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	detector := tmocks.NewMockDetector(gomock.NewController(t))
	detector.EXPECT().Detect(gomock.Any()).Return("en", nil).AnyTimes()

	svc := chat.NewService(chat.Deps{
		Conversations: conversation.NewRegistry(conversation.NewMemoryStore(), log),
		Messages:      message.NewMemoryStore(),
		Translator: translate.NewPipeline(translate.PseudoProvider{}, detector, language.Default(),
			translate.DefaultPipelineConfig(), log),
		Limiter: limiter,
		Logger:  log,
	}, chat.DefaultConfig())

	d := ws.NewMessageDispatcher(log)
	(&socketHandlers{dispatcher: d, svc: svc, sendTimeout: time.Second, log: log}).register()

	conv, err := svc.GetOrCreateConversation(context.Background(), "u1", "u2")
	require.NoError(t, err)
	return &fixture{dispatcher: d, svc: svc, conv: conv}
}

func (f *fixture) emit(conn *ws.Connection, frame string, args ...interface{}) {
	f.dispatcher.Dispatch(conn, []byte(fmt.Sprintf(frame, args...)))
}

func socket(t *testing.T, id string) (*ws.Connection, <-chan map[string]interface{}) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	frames := make(chan map[string]interface{}, 16)
	go func() {
		defer close(frames)
		for {
			data, err := wsutil.ReadServerText(client)
			if err != nil {
				return
			}
			var m map[string]interface{}
			if json.Unmarshal(data, &m) == nil {
				frames <- m
			}
		}
	}()
	return ws.NewConnection(id, server, time.Second), frames
}

func next(t *testing.T, frames <-chan map[string]interface{}) map[string]interface{} {
	t.Helper()
	select {
	case m := <-frames:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func quiet(t *testing.T, frames <-chan map[string]interface{}) {
	t.Helper()
	select {
	case m := <-frames:
		t.Fatalf("unexpected frame %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocket_JoinSendLeave(t *testing.T) {
	f := newFixture(t, nil)
	alice, aliceFrames := socket(t, "a")
	bob, bobFrames := socket(t, "b")

	f.emit(alice, `{"type":"join_conversation","conversation_id":%q,"user_id":"u1"}`, f.conv.ID)
	ack := next(t, aliceFrames)
	require.Equal(t, protocol.TypeJoinedConversation, ack["type"])
	require.Equal(t, "u1", ack["user_id"])

	f.emit(bob, `{"type":"join_conversation","conversation_id":%q,"user_id":"u2"}`, f.conv.ID)
	require.Equal(t, protocol.TypeJoinedConversation, next(t, bobFrames)["type"])
	quiet(t, aliceFrames)

	f.emit(alice, `{"type":"send_message","conversation_id":%q,"sender_id":"u1","text":"hi","translated_language":"hindi"}`, f.conv.ID)
	for _, frames := range []<-chan map[string]interface{}{aliceFrames, bobFrames} {
		ev := next(t, frames)
		require.Equal(t, protocol.TypeNewMessage, ev["type"])
		m := ev["message"].(map[string]interface{})
		require.Equal(t, "[hi] hi", m["translated_text"])
		require.Equal(t, "hindi", m["translated_language"])
	}

	f.emit(bob, `{"type":"leave_conversation","conversation_id":%q}`, f.conv.ID)
	require.Equal(t, protocol.TypeLeftConversation, next(t, bobFrames)["type"])

	f.emit(alice, `{"type":"send_message","conversation_id":%q,"sender_id":"u1","text":"again"}`, f.conv.ID)
	require.Equal(t, protocol.TypeNewMessage, next(t, aliceFrames)["type"])
	quiet(t, bobFrames)
}

func TestSocket_SendErrors(t *testing.T) {
	f := newFixture(t, nil)
	conn, frames := socket(t, "a")

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"unknown conversation", `{"type":"send_message","conversation_id":"nope","sender_id":"u1","text":"hi"}`, "not_found"},
		{"not a participant", fmt.Sprintf(`{"type":"send_message","conversation_id":%q,"sender_id":"u9","text":"hi"}`, f.conv.ID), "not_participant"},
		{"empty text", fmt.Sprintf(`{"type":"send_message","conversation_id":%q,"sender_id":"u1","text":""}`, f.conv.ID), "invalid_message"},
		{"join without room", `{"type":"join_conversation","user_id":"u1"}`, "invalid_message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.dispatcher.Dispatch(conn, []byte(tt.frame))
			got := next(t, frames)
			require.Equal(t, protocol.TypeError, got["type"])
			require.Equal(t, tt.code, got["code"])
		})
	}
}

func TestSocket_RateLimited(t *testing.T) {
	limiter := chatmocks.NewMockRateLimiter(gomock.NewController(t))
	limiter.EXPECT().Allow(gomock.Any(), "u1", gomock.Any()).Return(false, nil)
	limiter.EXPECT().RetryAfter(gomock.Any(), "u1", gomock.Any()).Return(7 * time.Second)

	f := newFixture(t, limiter)
	conn, frames := socket(t, "a")

	f.emit(conn, `{"type":"send_message","conversation_id":%q,"sender_id":"u1","text":"hi"}`, f.conv.ID)
	got := next(t, frames)
	require.Equal(t, protocol.TypeRateLimited, got["type"])
	require.EqualValues(t, 7, got["retry_after"])
}
