package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Source: SourceControl, Kind: KindTelemetry})
}

func TestNilBusSubscriberCount(t *testing.T) {
	var b *Bus
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishSingleSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	want := Event{
		Timestamp: time.Now(),
		Source:    SourceControl,
		Kind:      KindTelemetry,
		Data:      map[string]any{"soil_raw": 2610},
	}
	b.Publish(want)

	select {
	case got := <-ch:
		if got.Source != want.Source || got.Kind != want.Kind {
			t.Errorf("got event %v, want %v", got, want)
		}
		raw, ok := got.Data["soil_raw"].(int)
		if !ok || raw != 2610 {
			t.Errorf("got soil_raw %v, want 2610", got.Data["soil_raw"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := New()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	evt := Event{Source: SourceConnectivity, Kind: KindStateChange}
	b.Publish(evt)

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.Source != evt.Source || got.Kind != evt.Kind {
				t.Errorf("subscriber %d: got %v, want %v", i, got, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestDropOnFull(t *testing.T) {
	b := New()
	// Buffer size 1: the second publish should be dropped.
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	got := <-ch
	if got.Kind != "first" {
		t.Errorf("got kind %q, want %q", got.Kind, "first")
	}

	// Channel should be empty; the second event was dropped.
	select {
	case evt := <-ch:
		t.Errorf("expected empty channel, got event %v", evt)
	default:
		// Channel is empty.
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)

	b.Unsubscribe(ch)

	// Reading from a closed channel returns the zero value immediately.
	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}

func TestDoubleUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)

	b.Unsubscribe(ch)
	// Must not panic.
	b.Unsubscribe(ch)
}

func TestSubscriberCount(t *testing.T) {
	b := New()

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("initial count = %d, want 0", got)
	}

	ch1 := b.Subscribe(4)
	ch2 := b.Subscribe(4)

	if got := b.SubscriberCount(); got != 2 {
		t.Errorf("after 2 subscribes = %d, want 2", got)
	}

	b.Unsubscribe(ch1)
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("after 1 unsubscribe = %d, want 1", got)
	}

	b.Unsubscribe(ch2)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("after all unsubscribed = %d, want 0", got)
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New()
	const publishers = 10
	const eventsPerPublisher = 100

	var wg sync.WaitGroup

	// Start a subscriber that drains events.
	ch := b.Subscribe(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		count := 0
		for range ch {
			count++
			// We don't assert exact count because drops are expected.
		}
	}()

	// Launch concurrent publishers.
	var pubWg sync.WaitGroup
	for i := range publishers {
		pubWg.Add(1)
		go func() {
			defer pubWg.Done()
			for j := range eventsPerPublisher {
				b.Publish(Event{
					Timestamp: time.Now(),
					Source:    SourceControl,
					Kind:      KindTelemetry,
					Data:      map[string]any{"publisher": i, "seq": j},
				})
			}
		}()
	}

	pubWg.Wait()
	b.Unsubscribe(ch) // Closes the channel, ending the draining goroutine.
	wg.Wait()
}

func TestPublishNoSubscribers(t *testing.T) {
	b := New()
	// Must not panic when publishing with no subscribers.
	b.Publish(Event{Source: SourcePump, Kind: KindPumpChanged})
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	b.Unsubscribe(ch)

	// Publishing after the only subscriber is gone must not panic.
	b.Publish(Event{Source: SourceControl, Kind: KindPublishFailed})
}

func TestLatest(t *testing.T) {
	b := New()
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	b.Publish(Event{Timestamp: t0, Source: SourceControl, Kind: KindTelemetry, Data: map[string]any{"lux": 1}})
	b.Publish(Event{Timestamp: t0.Add(time.Second), Source: SourcePump, Kind: KindPumpChanged})
	b.Publish(Event{Timestamp: t0.Add(2 * time.Second), Source: SourceControl, Kind: KindTelemetry, Data: map[string]any{"lux": 2}})

	got := b.Latest()
	if len(got) != 2 {
		t.Fatalf("Latest() returned %d events, want 2", len(got))
	}
	if got[0].Kind != KindPumpChanged {
		t.Errorf("oldest latest event = %q, want %q", got[0].Kind, KindPumpChanged)
	}
	if got[1].Data["lux"] != 2 {
		t.Errorf("telemetry lux = %v, want newest value 2", got[1].Data["lux"])
	}
}

func TestNilBusLatest(t *testing.T) {
	var b *Bus
	if got := b.Latest(); got != nil {
		t.Errorf("Latest() on nil bus = %v, want nil", got)
	}
}

func TestSubscribeLatest(t *testing.T) {
	b := New()
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(Event{Timestamp: t0, Source: SourcePump, Kind: KindPumpChanged, Data: map[string]any{"on": true}})

	ch, primed := b.SubscribeLatest(4)
	defer b.Unsubscribe(ch)

	if len(primed) != 1 || primed[0].Kind != KindPumpChanged {
		t.Fatalf("primed = %+v, want the pump event", primed)
	}
	if len(ch) != 0 {
		t.Fatalf("channel holds %d events before any publish, want 0", len(ch))
	}

	b.Publish(Event{Timestamp: t0.Add(time.Second), Source: SourcePump, Kind: KindPumpChanged, Data: map[string]any{"on": false}})
	e := <-ch
	if e.Data["on"] != false {
		t.Errorf("streamed event = %+v, want on=false", e)
	}
}

func TestSubscribeLatestConcurrentPublish(t *testing.T) {
	const total = 500
	for range 20 {
		b := New()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := range total {
				b.Publish(Event{Source: SourceControl, Kind: KindTelemetry, Data: map[string]any{"seq": i}})
			}
		}()

		ch, primed := b.SubscribeLatest(total)
		<-done
		b.Unsubscribe(ch)

		next := 0
		if len(primed) == 1 {
			next = primed[0].Data["seq"].(int) + 1
		}
		for e := range ch {
			if got := e.Data["seq"].(int); got != next {
				t.Fatalf("streamed seq %d, want %d (primed %v)", got, next, primed)
			}
			next++
		}
		if next != total {
			t.Fatalf("stream ended at seq %d, want %d", next, total)
		}
	}
}
