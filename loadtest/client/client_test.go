package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// greetingServer upgrades and immediately writes connection_response, the
// way the chat server does, so the frame usually lands in the same TCP read
// as the handshake response.
func greetingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = wsutil.WriteServerText(conn, []byte(`{"type":"connection_response","status":"connected","session_id":"s-1"}`))
		// Hold the connection until the client goes away.
		_, _, _ = wsutil.ReadClientData(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_SeesGreetingSentWithHandshake(t *testing.T) {
	srv := greetingServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := New(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.WaitForSession(ctx); err != nil {
		t.Fatalf("WaitForSession: %v", err)
	}
	if got := c.SessionID(); got != "s-1" {
		t.Fatalf("SessionID = %q, want s-1", got)
	}
}
