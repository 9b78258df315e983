package registry

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialPair spins up a test WebSocket server and returns two connected
// *websocket.Conn, one per side, for registry tests that need a real
// (if loopback) transport rather than a mock.
func dialPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srvCh := make(chan *websocket.Conn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		srvCh <- c
	}))
	t.Cleanup(ts.Close)

	wsURL := "ws" + ts.URL[len("http"):]
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	srv := <-srvCh
	t.Cleanup(func() { _ = srv.Close() })
	return srv, c
}

func TestRegisterLastWriteWins(t *testing.T) {
	reg := New()

	connA, _ := dialPair(t)
	connB, _ := dialPair(t)

	first, displaced := reg.Register("agent-1", connA)
	assert.Nil(t, displaced)

	second, displaced := reg.Register("agent-1", connB)
	require.NotNil(t, displaced)
	assert.Same(t, first, displaced)

	current, ok := reg.TakeSender("agent-1")
	require.True(t, ok)
	assert.Same(t, second, current)

	// The displaced connection's underlying socket was closed.
	_, _, err := first.ReadRaw()
	assert.Error(t, err)
}

func TestUnregisterOnlyRemovesMatchingEntry(t *testing.T) {
	reg := New()
	connA, _ := dialPair(t)
	connB, _ := dialPair(t)

	stale, _ := reg.Register("agent-1", connA)
	current, _ := reg.Register("agent-1", connB)

	// A stale reader task for the displaced connection must not evict the
	// newer one.
	reg.Unregister("agent-1", stale)

	got, ok := reg.TakeSender("agent-1")
	require.True(t, ok)
	assert.Same(t, current, got)
}

func TestPendingInsertPopExactlyOnce(t *testing.T) {
	conn, _ := dialPair(t)
	c := newConnection("agent-1", conn)

	ch := c.Insert("tunnel-1")
	require.NotNil(t, ch)

	got, ok := c.Pop("tunnel-1")
	require.True(t, ok)
	assert.Same(t, ch, got)

	_, ok = c.Pop("tunnel-1")
	assert.False(t, ok)
}

func TestDrainPendingClosesAllChannels(t *testing.T) {
	conn, _ := dialPair(t)
	c := newConnection("agent-1", conn)

	ch1 := c.Insert("tunnel-1")
	ch2 := c.Insert("tunnel-2")

	c.DrainPending()

	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	_, ok = c.Pop("tunnel-1")
	assert.False(t, ok)
}

func TestConcurrentInsertAndPopAreRaceSafe(t *testing.T) {
	conn, _ := dialPair(t)
	c := newConnection("agent-1", conn)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := tunnelIDFor(i)
			ch := c.Insert(id)
			got, ok := c.Pop(id)
			assert.True(t, ok)
			assert.Same(t, ch, got)
		}(i)
	}
	wg.Wait()
}

func tunnelIDFor(i int) string {
	return "tunnel-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
