//go:build !linux

package ws

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitReady(t *testing.T, ep *Epoll) net.Conn {
	t.Helper()
	conns, err := ep.Wait(2 * time.Second)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	return conns[0]
}

func TestEpollFallback_PeekedByteIsReplayed(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := ep.Wrap(server)
	require.NoError(t, ep.Add(conn))

	go func() { _, _ = client.Write([]byte("abc")) }()
	require.Same(t, conn, waitReady(t, ep))

	buf := make([]byte, 3)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf))

	// The monitor stays idle until rearmed.
	go func() { _, _ = client.Write([]byte("d")) }()
	conns, err := ep.Wait(100 * time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, conns)

	ep.Rearm(conn)
	waitReady(t, ep)
	_, err = io.ReadFull(conn, buf[:1])
	require.NoError(t, err)
	require.Equal(t, "d", string(buf[:1]))
}

func TestEpollFallback_ReadErrorIsReported(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()

	server, client := net.Pipe()
	defer server.Close()

	conn := ep.Wrap(server)
	require.NoError(t, ep.Add(conn))
	require.NoError(t, client.Close())

	waitReady(t, ep)
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestEpollFallback_AddRequiresWrap(t *testing.T) {
	ep, err := NewEpoll()
	require.NoError(t, err)
	defer ep.Close()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	require.Error(t, ep.Add(server))
}
