//go:build test

package monitor_test

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bluart/notify"
	"github.com/srg/bluart/pkg/monitor"
)

// dial connects a test client to the feed and registers its cleanup.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial MUST succeed")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent reads one JSON event with a bounded wait.
func readEvent(t *testing.T, conn *websocket.Conn) notify.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev notify.Event
	require.NoError(t, conn.ReadJSON(&ev), "the feed MUST deliver the event")
	return ev
}

func TestPublishReachesClients(t *testing.T) {
	// GOAL: Verify a published event arrives at every connected client as JSON
	//
	// TEST SCENARIO: Two clients connect → one event is published → both read it back

	s := monitor.NewServer(nil, logrus.New())
	srv := httptest.NewServer(s)
	defer srv.Close()

	first := dial(t, srv)
	second := dial(t, srv)

	require.Eventually(t, func() bool { return s.ClientCount() == 2 },
		time.Second, 5*time.Millisecond, "both clients MUST be registered")

	require.True(t, s.Publish("session", "ready"), "an unfiltered publish MUST go out")

	for _, conn := range []*websocket.Conn{first, second} {
		ev := readEvent(t, conn)
		assert.Equal(t, "session", ev.Category)
		assert.Equal(t, "ready", ev.Value)
	}
}

func TestPublishRunsThroughFilter(t *testing.T) {
	// GOAL: Verify the feed deduplicates through its filter before broadcasting
	//
	// TEST SCENARIO: The same value published twice inside the window → one frame on the
	// wire → a changed value passes immediately

	filter := notify.NewFilter(notify.Config{Debounce: time.Minute}, logrus.New())
	s := monitor.NewServer(filter, logrus.New())
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	assert.True(t, s.Publish("session", "connecting"), "the first value MUST pass")
	assert.False(t, s.Publish("session", "connecting"), "the duplicate MUST be suppressed")
	assert.True(t, s.Publish("session", "ready"), "a changed value MUST pass inside the window")

	assert.Equal(t, "connecting", readEvent(t, conn).Value)
	assert.Equal(t, "ready", readEvent(t, conn).Value, "the suppressed duplicate MUST NOT reach the wire")
}

func TestForwardPumpsStream(t *testing.T) {
	// GOAL: Verify Forward moves a prebuilt event stream onto the feed
	//
	// TEST SCENARIO: Events pushed into a channel → Forward → client reads them in order

	s := monitor.NewServer(nil, logrus.New())
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	in := make(chan notify.Event, 2)
	s.Forward(in)
	in <- notify.Event{Category: "device/aa:bb", Value: "rssi=-60", At: time.Now()}
	in <- notify.Event{Category: "device/aa:bb", Value: "rssi=-55", At: time.Now()}
	close(in)

	assert.Equal(t, "rssi=-60", readEvent(t, conn).Value)
	assert.Equal(t, "rssi=-55", readEvent(t, conn).Value)
}

func TestConcurrentPublishersShareOneClient(t *testing.T) {
	// GOAL: Verify two publishers can feed the same connection at once:
	// the connection's write side belongs to a single writer goroutine,
	// so concurrent Publish calls must never touch the socket directly
	//
	// TEST SCENARIO: Registry-style and session-style publishers hammer the feed
	// from their own goroutines → the client keeps decoding intact frames

	s := monitor.NewServer(nil, logrus.New())
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	// Publishers pace themselves a little so the single reader below never
	// falls behind the queue; the point here is concurrency, not load.
	const perPublisher = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perPublisher; i++ {
			s.Publish("device/aa:bb", fmt.Sprintf("rssi=%d", -40-i))
			if i%20 == 19 {
				time.Sleep(time.Millisecond)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perPublisher; i++ {
			s.Publish("session", fmt.Sprintf("ready seq=%d", i))
			if i%20 == 19 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	received := 0
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for received < 2*perPublisher {
		var ev notify.Event
		require.NoError(t, conn.ReadJSON(&ev), "every frame MUST stay readable under concurrent publishers")
		require.Contains(t, []string{"device/aa:bb", "session"}, ev.Category,
			"every frame MUST decode as one intact event")
		received++
	}
	wg.Wait()

	assert.Equal(t, 2*perPublisher, received)
	assert.Equal(t, 1, s.ClientCount(), "a keeping-up client MUST stay registered")
}

func TestSlowClientIsDroppedNotBlocking(t *testing.T) {
	// GOAL: Verify a client that stops reading is dropped instead of
	// stalling the publishers
	//
	// TEST SCENARIO: Client connects and never reads → publishes overflow its queue →
	// the client is unregistered while Publish keeps returning

	s := monitor.NewServer(nil, logrus.New())
	srv := httptest.NewServer(s)
	defer srv.Close()

	dial(t, srv)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	// Well past the queue depth plus whatever the socket buffers absorb.
	for i := 0; i < 5000; i++ {
		s.Publish("device/aa:bb", fmt.Sprintf("rssi=%d", -40-i%60))
	}

	require.Eventually(t, func() bool { return s.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond, "the stalled client MUST be dropped")
}

func TestClientDisconnectUnregisters(t *testing.T) {
	// GOAL: Verify a departed client is removed from the broadcast set
	//
	// TEST SCENARIO: Client connects and closes → count drops to zero → publishing still works

	s := monitor.NewServer(nil, logrus.New())
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.ClientCount() == 0 },
		time.Second, 5*time.Millisecond, "a closed client MUST be unregistered")

	assert.True(t, s.Publish("session", "disconnected"), "publishing with no clients MUST not fail")
}
