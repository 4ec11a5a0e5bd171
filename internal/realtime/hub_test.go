package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (r *recorder) WriteMessage(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.got = append(r.got, string(data))
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newTestHub() *Hub {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHub(log)
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := newTestHub()
	w := &recorder{}

	require.True(t, h.Join("c1", w, "conv"))
	require.False(t, h.Join("c1", w, "conv"))
	require.Equal(t, 1, h.Members("conv"))

	require.NoError(t, h.Broadcast(context.Background(), "conv", []byte("x")))
	require.Equal(t, []string{"x"}, w.messages(), "double join must not double deliver")
}

func TestHub_NoRetroactiveDelivery(t *testing.T) {
	h := newTestHub()
	early, late := &recorder{}, &recorder{}
	ctx := context.Background()

	h.Join("early", early, "conv")
	require.NoError(t, h.Broadcast(ctx, "conv", []byte("first")))
	h.Join("late", late, "conv")
	require.NoError(t, h.Broadcast(ctx, "conv", []byte("second")))

	require.Equal(t, []string{"first", "second"}, early.messages())
	require.Equal(t, []string{"second"}, late.messages())
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := newTestHub()
	a, b := &recorder{}, &recorder{}
	h.Join("a", a, "conv-a")
	h.Join("b", b, "conv-b")

	require.NoError(t, h.Broadcast(context.Background(), "conv-a", []byte("for a")))
	require.Equal(t, []string{"for a"}, a.messages())
	require.Empty(t, b.messages())
}

func TestHub_EmptyRoomIsNotAnError(t *testing.T) {
	h := newTestHub()
	require.NoError(t, h.Broadcast(context.Background(), "nobody", []byte("x")))

	w := &recorder{}
	h.Join("c1", w, "conv")
	h.Leave("c1", "conv")
	require.Equal(t, 0, h.Members("conv"))
	require.NoError(t, h.Broadcast(context.Background(), "conv", []byte("x")))
	require.Empty(t, w.messages())
}

func TestHub_DisconnectLeavesAllRooms(t *testing.T) {
	h := newTestHub()
	w := &recorder{}
	h.Join("c1", w, "conv-1")
	h.Join("c1", w, "conv-2")
	h.Join("c2", &recorder{}, "conv-2")

	left := h.Disconnect("c1")
	sort.Strings(left)
	require.Equal(t, []string{"conv-1", "conv-2"}, left)
	require.Equal(t, 0, h.Members("conv-1"))
	require.Equal(t, 1, h.Members("conv-2"))
	require.Empty(t, h.Rooms("c1"))

	require.NoError(t, h.Broadcast(context.Background(), "conv-2", []byte("x")))
	require.Empty(t, w.messages())

	require.Empty(t, h.Disconnect("never-joined"))
}

func TestHub_FailedWriteDoesNotStopFanOut(t *testing.T) {
	h := newTestHub()
	broken, ok := &recorder{fail: true}, &recorder{}
	h.Join("broken", broken, "conv")
	h.Join("ok", ok, "conv")

	require.NoError(t, h.Broadcast(context.Background(), "conv", []byte("x")))
	require.Equal(t, []string{"x"}, ok.messages())
}

func TestHub_CancelledContext(t *testing.T) {
	h := newTestHub()
	w := &recorder{}
	h.Join("c1", w, "conv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.Broadcast(ctx, "conv", []byte("x")), context.Canceled)
	require.Empty(t, w.messages())
}

func TestHub_SequentialBroadcastOrder(t *testing.T) {
	h := newTestHub()
	subs := make([]*recorder, 4)
	for i := range subs {
		subs[i] = &recorder{}
		h.Join(fmt.Sprint(i), subs[i], "conv")
	}

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("m%02d", i)
		require.NoError(t, h.Broadcast(context.Background(), "conv", []byte(want[i])))
	}
	for _, s := range subs {
		require.Equal(t, want, s.messages())
	}
}

func TestHub_ConcurrentBroadcastsSeenInOneOrder(t *testing.T) {
	h := newTestHub()
	a, b := &recorder{}, &recorder{}
	h.Join("a", a, "conv")
	h.Join("b", b, "conv")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.Broadcast(context.Background(), "conv", []byte(fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	require.Len(t, a.messages(), 20)
	require.Equal(t, a.messages(), b.messages())
}

func TestHub_ConcurrentMembershipChurn(t *testing.T) {
	h := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i)
			conv := fmt.Sprintf("conv-%d", i%4)
			h.Join(id, &recorder{}, conv)
			_ = h.Broadcast(context.Background(), conv, []byte("x"))
			h.Disconnect(id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		require.Equal(t, 0, h.Members(fmt.Sprintf("conv-%d", i)))
	}
}

// gatedWriter blocks its first write until release is closed.
type gatedWriter struct {
	recorder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedWriter) WriteMessage(data []byte) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	return g.recorder.WriteMessage(data)
}

func TestHub_JoinWithAckPrecedesBroadcast(t *testing.T) {
	h := newTestHub()
	w := &gatedWriter{started: make(chan struct{}), release: make(chan struct{})}

	joined := make(chan error, 1)
	go func() {
		_, err := h.JoinWith("c1", w, "conv", []byte("ack"))
		joined <- err
	}()
	<-w.started
	require.Equal(t, 1, h.Members("conv"))

	// The broadcast sees c1 as a member while its ack is still in flight.
	broadcast := make(chan error, 1)
	go func() { broadcast <- h.Broadcast(context.Background(), "conv", []byte("event")) }()
	time.Sleep(50 * time.Millisecond)
	close(w.release)

	require.NoError(t, <-joined)
	require.NoError(t, <-broadcast)
	require.Equal(t, []string{"ack", "event"}, w.messages())
}

func TestHub_JoinWithReportsAckFailure(t *testing.T) {
	h := newTestHub()
	w := &recorder{fail: true}

	added, err := h.JoinWith("c1", w, "conv", []byte("ack"))
	require.True(t, added)
	require.Error(t, err)

	added, err = h.JoinWith("c1", &recorder{}, "conv", []byte("ack"))
	require.False(t, added)
	require.NoError(t, err)
}
