package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/anndreipopa/Floriva/internal/calibration"
	"github.com/anndreipopa/Floriva/internal/command"
	"github.com/anndreipopa/Floriva/internal/config"
	"github.com/anndreipopa/Floriva/internal/connectivity"
	"github.com/anndreipopa/Floriva/internal/diag"
	"github.com/anndreipopa/Floriva/internal/events"
	"github.com/anndreipopa/Floriva/internal/mqtt"
	"github.com/anndreipopa/Floriva/internal/sampler"
)

const (
	telemetryTopic = "monitor/test/telemetry"
	cmdTopic       = "monitor/test/pompa/cmd"
	statusTopic    = "monitor/test/pompa/status"
)

var t0 = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type fakeLink struct{ up bool }

func (f *fakeLink) Up() bool { return f.up }

func (f *fakeLink) Associate(context.Context) error {
	if !f.up {
		return errors.New("no carrier")
	}
	return nil
}

type published struct {
	topic   string
	payload string
	retain  bool
}

type fakeChannel struct {
	connected  bool
	subscribed []string
	published  []published
	publishErr error
	closes     int
}

func (f *fakeChannel) Connect(context.Context, string) error {
	f.connected = true
	return nil
}

func (f *fakeChannel) Subscribe(_ context.Context, topic string) error {
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeChannel) Connected() bool { return f.connected }

func (f *fakeChannel) Close() {
	f.connected = false
	f.closes++
}

func (f *fakeChannel) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	if f.publishErr != nil && !retain {
		return f.publishErr
	}
	f.published = append(f.published, published{topic, string(payload), retain})
	return nil
}

func (f *fakeChannel) on(topic string) []published {
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeActuator struct{ calls []bool }

func (f *fakeActuator) SetPump(on bool) error {
	f.calls = append(f.calls, on)
	return nil
}

type fakeAir struct{}

func (fakeAir) ReadTemperatureHumidity(context.Context) (bool, float64, float64) {
	return true, 22.5, 48.0
}

type fakeLight struct{}

func (fakeLight) ReadLux(context.Context) (int, error) { return 120, nil }

type fakeSoil struct{}

func (fakeSoil) ReadRawMoisture(context.Context) (int, error) { return 2610, nil }

type fixture struct {
	loop  *Loop
	sup   *connectivity.Supervisor
	link  *fakeLink
	ch    *fakeChannel
	inbox *mqtt.Inbox
	pump  *command.Pump
	act   *fakeActuator
	board *diag.Board
	bus   *events.Bus
	ann   *mqtt.Announcer
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cal, err := calibration.New(3020, 2200)
	if err != nil {
		t.Fatal(err)
	}

	mqttCfg := config.Default().MQTT
	mqttCfg.DeviceName = "test"
	mqttCfg.TelemetryTopic = telemetryTopic
	mqttCfg.PumpCommandTopic = cmdTopic
	mqttCfg.PumpStatusTopic = statusTopic

	f := &fixture{
		link:  &fakeLink{up: true},
		ch:    &fakeChannel{},
		inbox: mqtt.NewInbox(16, 0, nil, logger),
		act:   &fakeActuator{},
		board: diag.NewBoard("test"),
		bus:   events.New(),
		ann:   mqtt.NewAnnouncer(mqttCfg, "id-test", true),
	}
	f.pump = command.NewPump(f.act, nil, logger)

	samp := sampler.New(sampler.Config{
		EnvInterval:  5 * time.Second,
		SoilInterval: 30 * time.Minute,
		SoilSamples:  5,
	}, sampler.Sensors{Air: fakeAir{}, Light: fakeLight{}, Soil: fakeSoil{}},
		cal, calibration.Air{}, start, nil, logger)

	f.sup = connectivity.New(connectivity.Config{
		CommandTopic: cmdTopic,
		Logger:       logger,
		OnReady:      func(ctx context.Context) { f.loop.OnReady(ctx) },
	}, f.link, f.ch, nil)

	f.loop = New(Config{
		TelemetryTopic:  telemetryTopic,
		PumpStatusTopic: statusTopic,
		WithSoilPercent: true,
		Tick:            10 * time.Millisecond,
	}, Deps{
		Supervisor: f.sup,
		Sampler:    samp,
		Inbox:      f.inbox,
		Dispatcher: command.NewDispatcher(cmdTopic, f.pump, nil, logger),
		Pump:       f.pump,
		Channel:    f.ch,
		Announcer:  f.ann,
		Board:      f.board,
		Bus:        f.bus,
		Logger:     logger,
	})
	return f
}

// runUntil ticks every 100ms from t0+100ms through t0+end inclusive.
func (f *fixture) runUntil(from, end time.Duration) {
	for d := from; d <= end; d += 100 * time.Millisecond {
		f.loop.Tick(context.Background(), t0.Add(d))
	}
}

func TestLoop_ConnectsThenPublishesOnce(t *testing.T) {
	f := newFixture(t, t0)

	f.runUntil(100*time.Millisecond, 400*time.Millisecond)
	if !f.sup.Ready() {
		t.Fatalf("state after 4 ticks = %v, want ready", f.sup.State())
	}
	if len(f.ch.subscribed) != 1 || f.ch.subscribed[0] != cmdTopic {
		t.Errorf("subscriptions = %v, want [%s]", f.ch.subscribed, cmdTopic)
	}
	if len(f.ch.on(telemetryTopic)) != 0 {
		t.Fatal("telemetry published before the environment interval elapsed")
	}

	f.runUntil(500*time.Millisecond, 5*time.Second)

	tel := f.ch.on(telemetryTopic)
	if len(tel) != 1 {
		t.Fatalf("telemetry publishes = %d, want 1", len(tel))
	}
	want := `{"lux":120,"temp":22.5,"humidity":48.0,"soil_raw":2610,"soil_percent":50}`
	if tel[0].payload != want {
		t.Errorf("payload = %s, want %s", tel[0].payload, want)
	}
	if tel[0].retain {
		t.Error("telemetry published retained")
	}
	if len(f.act.calls) != 0 {
		t.Errorf("pump actuated without commands: %v", f.act.calls)
	}
	if f.loop.Published() != 1 {
		t.Errorf("Published() = %d, want 1", f.loop.Published())
	}
}

func TestLoop_BirthMessagesOnReady(t *testing.T) {
	f := newFixture(t, t0)
	f.runUntil(100*time.Millisecond, 400*time.Millisecond)

	status := f.ch.on(statusTopic)
	if len(status) != 1 || status[0].payload != "OFF" || !status[0].retain {
		t.Errorf("pump status on ready = %+v, want retained OFF", status)
	}
	avail := f.ch.on(f.ann.AvailabilityTopic())
	if len(avail) != 1 || avail[0].payload != mqtt.PayloadOnline {
		t.Errorf("availability on ready = %+v, want online", avail)
	}
}

func TestLoop_CommandAppliedBeforeTelemetry(t *testing.T) {
	f := newFixture(t, t0)
	f.runUntil(100*time.Millisecond, 4900*time.Millisecond)
	before := len(f.ch.published)

	f.inbox.Deliver(cmdTopic, []byte("ON"))
	f.loop.Tick(context.Background(), t0.Add(5*time.Second))

	if len(f.act.calls) != 1 || !f.act.calls[0] {
		t.Fatalf("actuator calls = %v, want [true]", f.act.calls)
	}
	got := f.ch.published[before:]
	if len(got) != 2 {
		t.Fatalf("publishes in tick = %+v, want status then telemetry", got)
	}
	if got[0].topic != statusTopic || got[0].payload != "ON" {
		t.Errorf("first publish = %+v, want pump status ON", got[0])
	}
	if got[1].topic != telemetryTopic {
		t.Errorf("second publish = %+v, want telemetry", got[1])
	}
}

func TestLoop_NoTrafficWhileNotReady(t *testing.T) {
	f := newFixture(t, t0)
	f.link.up = false
	f.inbox.Deliver(cmdTopic, []byte("ON"))

	f.runUntil(100*time.Millisecond, 10*time.Second)

	if f.sup.State() != connectivity.NetworkConnecting {
		t.Errorf("state = %v, want network_connecting", f.sup.State())
	}
	if len(f.ch.published) != 0 {
		t.Errorf("published while offline: %+v", f.ch.published)
	}
	if len(f.act.calls) != 0 {
		t.Errorf("command applied while offline: %v", f.act.calls)
	}
	if f.inbox.Len() != 0 {
		t.Errorf("inbox length = %d, want queued command discarded", f.inbox.Len())
	}

	f.link.up = true
	f.runUntil(10100*time.Millisecond, 15*time.Second)
	if !f.sup.Ready() {
		t.Fatalf("state after link restored = %v, want ready", f.sup.State())
	}
	if len(f.act.calls) != 0 {
		t.Errorf("command from before the session applied: %v", f.act.calls)
	}
}

func TestLoop_OutageDiscardsQueuedCommands(t *testing.T) {
	f := newFixture(t, t0)
	f.runUntil(100*time.Millisecond, 400*time.Millisecond)
	if !f.sup.Ready() {
		t.Fatalf("state = %v, want ready", f.sup.State())
	}

	// Delivered by the live session but not yet drained when the link drops.
	f.inbox.Deliver(cmdTopic, []byte("ON"))
	f.link.up = false

	outage := 6 * time.Hour
	for d := 500 * time.Millisecond; d <= outage; d += time.Minute {
		f.loop.Tick(context.Background(), t0.Add(d))
	}
	if f.sup.Ready() {
		t.Fatal("ready during outage")
	}

	f.link.up = true
	for i := 1; i <= 10 && !f.sup.Ready(); i++ {
		f.loop.Tick(context.Background(), t0.Add(outage+time.Duration(i)*5*time.Second))
	}
	if !f.sup.Ready() {
		t.Fatalf("state after outage = %v, want ready", f.sup.State())
	}

	if len(f.act.calls) != 0 {
		t.Errorf("actuator calls = %v, want none", f.act.calls)
	}
	if f.pump.On() {
		t.Error("pump switched on by a command from the lost session")
	}
	if f.inbox.Len() != 0 {
		t.Errorf("inbox length = %d, want 0", f.inbox.Len())
	}

	// Commands from the new session still apply.
	f.inbox.Deliver(cmdTopic, []byte("ON"))
	f.loop.Tick(context.Background(), t0.Add(outage+time.Minute))
	if !f.pump.On() {
		t.Error("command from the new session not applied")
	}
}

func TestLoop_ReconnectAnnouncesAgain(t *testing.T) {
	f := newFixture(t, t0)
	f.runUntil(100*time.Millisecond, 400*time.Millisecond)

	f.ch.connected = false
	f.loop.Tick(context.Background(), t0.Add(500*time.Millisecond))
	if f.sup.State() != connectivity.ChannelConnecting {
		t.Fatalf("state after channel loss = %v, want channel_connecting", f.sup.State())
	}
	f.loop.Tick(context.Background(), t0.Add(600*time.Millisecond))
	if !f.sup.Ready() {
		t.Fatalf("state after reconnect = %v, want ready", f.sup.State())
	}

	if len(f.ch.subscribed) != 2 {
		t.Errorf("subscriptions = %d, want 2", len(f.ch.subscribed))
	}
	if n := len(f.ch.on(f.ann.AvailabilityTopic())); n != 2 {
		t.Errorf("online announcements = %d, want 2", n)
	}
}

func TestLoop_PublishFailure(t *testing.T) {
	f := newFixture(t, t0)
	f.ch.publishErr = errors.New("broker gone")
	feed := f.bus.Subscribe(32)
	defer f.bus.Unsubscribe(feed)

	f.runUntil(100*time.Millisecond, 5*time.Second)

	if f.loop.Published() != 0 {
		t.Errorf("Published() = %d after failures, want 0", f.loop.Published())
	}
	found := false
	for len(feed) > 0 {
		if e := <-feed; e.Kind == events.KindPublishFailed {
			found = true
		}
	}
	if !found {
		t.Error("no publish_failed event")
	}
}

func TestLoop_BoardAndEvents(t *testing.T) {
	f := newFixture(t, t0)
	feed := f.bus.Subscribe(64)
	defer f.bus.Unsubscribe(feed)

	f.runUntil(100*time.Millisecond, 5*time.Second)

	st := f.board.Get()
	if st.Connectivity.State != connectivity.Ready {
		t.Errorf("board state = %v, want ready", st.Connectivity.State)
	}
	if st.LastSnapshot == nil || st.LastSnapshot.SoilRaw != 2610 {
		t.Errorf("board snapshot = %+v", st.LastSnapshot)
	}
	if st.Published != 1 {
		t.Errorf("board published = %d, want 1", st.Published)
	}

	var transitions, telemetry int
	for len(feed) > 0 {
		switch e := <-feed; e.Kind {
		case events.KindStateChange:
			transitions++
		case events.KindTelemetry:
			telemetry++
		}
	}
	if transitions != 4 {
		t.Errorf("state_change events = %d, want 4", transitions)
	}
	if telemetry != 1 {
		t.Errorf("telemetry events = %d, want 1", telemetry)
	}
}

func TestLoop_Shutdown(t *testing.T) {
	f := newFixture(t, t0)
	f.runUntil(100*time.Millisecond, 400*time.Millisecond)
	f.inbox.Deliver(cmdTopic, []byte("ON"))
	f.loop.Tick(context.Background(), t0.Add(500*time.Millisecond))

	f.loop.Shutdown(context.Background())

	if last := f.act.calls[len(f.act.calls)-1]; last {
		t.Error("pump left on after shutdown")
	}
	status := f.ch.on(statusTopic)
	if status[len(status)-1].payload != "OFF" {
		t.Errorf("final pump status = %q, want OFF", status[len(status)-1].payload)
	}
	avail := f.ch.on(f.ann.AvailabilityTopic())
	if avail[len(avail)-1].payload != mqtt.PayloadOffline {
		t.Errorf("final availability = %q, want offline", avail[len(avail)-1].payload)
	}
	if f.ch.closes == 0 {
		t.Error("channel not closed on shutdown")
	}
}

func TestLoop_Run(t *testing.T) {
	f := newFixture(t, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.board.Get().Connectivity.State != connectivity.Ready {
		if time.Now().After(deadline) {
			t.Fatal("loop did not reach ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if f.ch.closes == 0 {
		t.Error("channel not closed after Run returned")
	}
}
