// Package monitor serves the engine's status events to WebSocket clients:
// device sightings from the registry and lifecycle transitions from the
// session, deduplicated by a notify.Filter before they hit the wire. The
// feed is write-only; clients cannot push state back into the engine.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/notify"
)

// writeDeadline bounds one frame write per client. A client slower than
// this is dropped rather than allowed to stall its writer.
const writeDeadline = 100 * time.Millisecond

// clientBuffer is the per-client event queue depth. A client whose queue
// fills up cannot keep up with the feed and is dropped.
const clientBuffer = 64

// Server is a WebSocket fan-out of filtered engine events.
type Server struct {
	filter   *notify.Filter
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

// feedClient is one registered connection. The send queue decouples
// publishers from the socket: the connection's write side belongs to the
// single writer goroutine draining the queue, which is the one-writer
// contract the websocket package requires.
type feedClient struct {
	conn *websocket.Conn
	send chan notify.Event
}

// NewServer creates a feed behind the given filter. A nil filter passes
// everything through; a nil logger logs to a fresh logrus instance.
func NewServer(filter *notify.Filter, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		filter: filter,
		logger: logger,
		upgrader: websocket.Upgrader{
			// The feed carries no credentials and mutates nothing, so any
			// origin may watch it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// Publish offers one event to the filter and broadcasts it when it passes.
// Reports whether the event went out.
func (s *Server) Publish(category, value string) bool {
	if s.filter != nil && !s.filter.Offer(category, value) {
		return false
	}
	s.broadcast(notify.Event{Category: category, Value: value, At: time.Now()})
	return true
}

// Forward pumps an already-built event stream through the filter onto the
// feed. It returns immediately; pumping stops when in closes.
func (s *Server) Forward(in <-chan notify.Event) {
	filtered := in
	if s.filter != nil {
		filtered = s.filter.Wrap(in)
	}
	groutine.Go(nil, "monitor-forward", func(context.Context) {
		for ev := range filtered {
			s.broadcast(ev)
		}
	})
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away. Client frames are read and discarded; the read
// loop exists only to notice the close.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &feedClient{conn: conn, send: make(chan notify.Event, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{
		"remote":  conn.RemoteAddr().String(),
		"clients": n,
	}).Info("Monitor client connected")

	groutine.Go(nil, "monitor-client-writer", func(context.Context) {
		s.writeLoop(c)
	})
	groutine.Go(nil, "monitor-client-reader", func(context.Context) {
		defer s.unregister(c)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	})
}

// Serve runs an HTTP server for the feed on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	groutine.Go(ctx, "monitor-shutdown", func(context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeAll()
	})

	s.logger.WithField("addr", addr).Info("Monitor feed listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// writeLoop drains one client's queue onto its socket. It owns the
// connection: no other goroutine writes the conn, and the conn closes when
// the loop ends.
func (s *Server) writeLoop(c *feedClient) {
	defer c.conn.Close() //nolint:errcheck
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.conn.WriteJSON(ev); err != nil {
			s.logger.WithError(err).WithField("remote", c.conn.RemoteAddr().String()).
				Debug("Dropping stalled monitor client")
			s.unregister(c)
			return
		}
	}
}

// broadcast queues one event for every client. The queue insert happens
// under the registry lock, so no event can race a concurrent unregister
// into a closed queue. A full queue drops the client on the spot.
func (s *Server) broadcast(ev notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- ev:
		default:
			s.logger.WithField("remote", c.conn.RemoteAddr().String()).
				Debug("Dropping monitor client with a full queue")
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// unregister removes one client and ends its writer by closing the queue.
// Safe to call twice; the writer's teardown closes the socket.
func (s *Server) unregister(c *feedClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// closeAll disconnects every client.
func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.send)
	}
	s.clients = make(map[*feedClient]struct{})
}
