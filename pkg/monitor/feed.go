package monitor

import (
	"context"
	"fmt"

	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/registry"
	"github.com/srg/bluart/session"
)

// WatchRegistry publishes device sightings onto the feed. Each device is
// its own filter category, so a chatty beacon cannot starve the others out
// of the debounce window. Watching stops when the event stream closes.
func (s *Server) WatchRegistry(events <-chan registry.DeviceEvent) {
	groutine.Go(nil, "monitor-registry-watch", func(context.Context) {
		for ev := range events {
			dev := ev.Device
			s.Publish(
				"device/"+dev.Address(),
				fmt.Sprintf("name=%s rssi=%d quality=%s", dev.Name(), dev.RSSI(), dev.Quality()),
			)
		}
	})
}

// WatchSession publishes lifecycle transitions onto the feed. Failure
// reasons ride along in the value, so a transition into Disconnected by
// error is distinct from an orderly one and always passes the filter.
func (s *Server) WatchSession(states <-chan session.StateChange) {
	groutine.Go(nil, "monitor-session-watch", func(context.Context) {
		for change := range states {
			value := change.To.String()
			if change.Reason != nil {
				value = fmt.Sprintf("%s reason=%v", value, change.Reason)
			}
			s.Publish("session", value)
		}
	})
}
