package ws

import (
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/whisper/polyglot/internal/protocol"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// pipeConn returns a server-side Connection and a channel yielding every
// text frame the server writes.
func pipeConn(t *testing.T) (*Connection, <-chan map[string]interface{}) {
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
	return NewConnection("sess-1", server, time.Second), frames
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

func TestDispatcher_Routes(t *testing.T) {
	d := NewMessageDispatcher(quietLogger())
	conn, frames := pipeConn(t)

	got := make(chan protocol.JoinConversationMsg, 1)
	d.Register(protocol.TypeJoinConversation, func(c *Connection, msg interface{}) {
		got <- msg.(protocol.JoinConversationMsg)
		d.Send(c, protocol.TypeJoinedConversation, protocol.JoinedConversationMsg{ConversationID: "conv-1"})
	})

	d.Dispatch(conn, []byte(`{"type":"join_conversation","conversation_id":"conv-1","user_id":"alice"}`))

	join := <-got
	require.Equal(t, "conv-1", join.ConversationID)
	require.Equal(t, "alice", join.UserID)

	ack := next(t, frames)
	require.Equal(t, protocol.TypeJoinedConversation, ack["type"])
	require.Equal(t, "conv-1", ack["conversation_id"])
}

func TestDispatcher_BuiltinsAndErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantCode string
	}{
		{"ping", `{"type":"ping"}`, protocol.TypePong, ""},
		{"garbage", `not json`, protocol.TypeError, "parse_error"},
		{"unknown type", `{"type":"subscribe_everything"}`, protocol.TypeError, "parse_error"},
		{"unregistered", `{"type":"leave_conversation","conversation_id":"c"}`, protocol.TypeError, "unsupported_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewMessageDispatcher(quietLogger())
			conn, frames := pipeConn(t)

			go d.Dispatch(conn, []byte(tt.input))

			m := next(t, frames)
			require.Equal(t, tt.wantType, m["type"])
			if tt.wantCode != "" {
				require.Equal(t, tt.wantCode, m["code"])
			}
		})
	}
}

func TestDispatcher_PingTouchesConnection(t *testing.T) {
	d := NewMessageDispatcher(quietLogger())
	conn, frames := pipeConn(t)
	conn.lastSeen.Store(time.Now().Add(-time.Hour).UnixNano())

	go d.Dispatch(conn, []byte(`{"type":"ping"}`))
	next(t, frames)

	require.WithinDuration(t, time.Now(), conn.LastSeen(), 5*time.Second)
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a, _ := net.Pipe()
	b, _ := net.Pipe()
	ca := &Connection{ID: "a", Conn: a, Fd: 10}
	cb := &Connection{ID: "b", Conn: b, Fd: 11}

	cm.Add(ca)
	cm.Add(cb)
	require.Equal(t, 2, cm.Count())
	require.Same(t, ca, cm.Get("a"))
	require.Same(t, cb, cm.GetByFd(11))
	require.Len(t, cm.All(), 2)

	require.True(t, cm.Remove("a"))
	require.False(t, cm.Remove("a"))
	require.Nil(t, cm.Get("a"))
	require.Nil(t, cm.GetByFd(10))
	require.Equal(t, 1, cm.Count())
}
