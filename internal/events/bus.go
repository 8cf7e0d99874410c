// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the control loop (telemetry, pump,
// connectivity) to subscribers such as the diagnostics WebSocket feed.
// The bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"slices"
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceControl identifies events from the control loop.
	SourceControl = "control"
	// SourceConnectivity identifies events from the connectivity supervisor.
	SourceConnectivity = "connectivity"
	// SourcePump identifies events from the pump.
	SourcePump = "pump"
)

// Kind constants describe the type of event within a source.
const (
	// KindTelemetry signals a published telemetry snapshot.
	// Data: lux, temp, humidity, soil_raw, soil_percent.
	KindTelemetry = "telemetry"
	// KindPublishFailed signals a telemetry publish the broker rejected.
	// Data: error.
	KindPublishFailed = "publish_failed"

	// KindStateChange signals a connectivity state transition.
	// Data: from, to.
	KindStateChange = "state_change"

	// KindPumpChanged signals an applied pump command.
	// Data: on.
	KindPumpChanged = "pump_changed"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event.
	recvToSend map[<-chan Event]chan Event
	// latest holds the most recent event per source/kind pair so a new
	// subscriber can be primed with current state.
	latest map[string]Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		latest:     make(map[string]Event),
	}
}

// Publish sends an event to all subscribers. If a subscriber's channel
// is full, the event is dropped for that subscriber. Safe to call on a
// nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[e.Source+"/"+e.Kind] = e
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscribeLatest subscribes like Subscribe and returns, under the same
// lock, the events Latest would report. Every event published after the
// call reaches the channel; none of those is also in the snapshot.
func (b *Bus) SubscribeLatest(bufSize int) (<-chan Event, []Event) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch, b.latestLocked()
}

// Latest returns the most recent event of every source/kind pair seen
// so far, oldest first.
func (b *Bus) Latest() []Event {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latestLocked()
}

func (b *Bus) latestLocked() []Event {
	out := make([]Event, 0, len(b.latest))
	for _, e := range b.latest {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
