// Package connectivity keeps the device connected to its network and
// its MQTT broker.
//
// The [Supervisor] is an explicit state machine advanced one step per
// control-loop tick:
//
//	Disconnected → NetworkConnecting → NetworkUp → ChannelConnecting → Ready
//
// A failed broker connect drops back to NetworkUp and schedules the next
// attempt after a backoff delay instead of sleeping, so the loop keeps
// ticking. Network loss from any later state returns to
// NetworkConnecting; broker-only loss returns to ChannelConnecting.
// There is no terminal failure state: an unattended device retries
// forever. Every successful connect re-subscribes to the command topic
// because brokers drop subscriptions with the session.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anndreipopa/Floriva/internal/metrics"
)

// Link is the network layer the broker connection rides on.
type Link interface {
	// Up reports whether the network is currently usable.
	Up() bool
	// Associate blocks until the network is up or ctx expires.
	Associate(ctx context.Context) error
}

// Channel is the messaging connection to the broker.
type Channel interface {
	// Connect opens a broker session under clientID.
	Connect(ctx context.Context, clientID string) error
	// Subscribe subscribes the open session to topic.
	Subscribe(ctx context.Context, topic string) error
	// Connected reports whether the session is still open.
	Connected() bool
	// Close tears the session down. Safe to call when not connected.
	Close()
}

// BackoffConfig controls the delay between failed broker connects.
type BackoffConfig struct {
	// InitialDelay is the delay after the first failure (default: 3s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each failure (default: 1.0, a
	// fixed delay).
	Multiplier float64
}

// DefaultBackoffConfig returns a fixed 3-second retry delay.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 3 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.0,
	}
}

// Config configures a Supervisor.
type Config struct {
	// CommandTopic is subscribed on every successful connect.
	CommandTopic string

	// ClientIDPrefix prefixes the random client id of each connect.
	ClientIDPrefix string

	// AssociateTimeout bounds one network association attempt (default: 10s).
	AssociateTimeout time.Duration

	// ConnectTimeout bounds one broker connect + subscribe (default: 10s).
	ConnectTimeout time.Duration

	// Backoff controls the broker retry delay.
	Backoff BackoffConfig

	// OnReady runs on the loop goroutine right after each transition into
	// Ready. Optional.
	OnReady func(ctx context.Context)

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// ServiceStatus is the supervisor status, suitable for JSON
// serialization in health endpoints.
type ServiceStatus struct {
	State     State     `json:"state"`
	Ready     bool      `json:"ready"`
	Since     time.Time `json:"since"`
	ClientID  string    `json:"client_id,omitempty"`
	Connects  int       `json:"connects"`
	LastError string    `json:"last_error,omitempty"`
}

// Supervisor owns the connectivity state. It is not safe for
// concurrent use; the control loop is its only caller.
type Supervisor struct {
	cfg     Config
	link    Link
	channel Channel
	metrics *metrics.Metrics
	logger  *slog.Logger

	state    State
	since    time.Time
	retryAt  time.Time
	delay    time.Duration
	lastErr  error
	connects int
	clientID string

	newClientID func() string
}

// New creates a Supervisor in the Disconnected state. Zero-value
// timeouts and backoff fields are replaced with defaults.
func New(cfg Config, link Link, channel Channel, m *metrics.Metrics) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AssociateTimeout <= 0 {
		cfg.AssociateTimeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "floriva"
	}

	defaults := DefaultBackoffConfig()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = defaults.InitialDelay
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = defaults.MaxDelay
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = defaults.Multiplier
	}

	s := &Supervisor{
		cfg:     cfg,
		link:    link,
		channel: channel,
		metrics: m,
		logger:  cfg.Logger,
		state:   Disconnected,
		delay:   cfg.Backoff.InitialDelay,
	}
	s.newClientID = func() string { return RandomClientID(cfg.ClientIDPrefix) }
	return s
}

// RandomClientID returns prefix followed by 12 random hex characters.
// A fresh id on every connect avoids session takeover between a
// rebooted device and its stale session, or between duplicate devices.
func RandomClientID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + id[:12]
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.state
}

// Ready reports whether publish and subscribe traffic may flow.
func (s *Supervisor) Ready() bool {
	return s.state == Ready
}

// Status returns the current status.
func (s *Supervisor) Status() ServiceStatus {
	st := ServiceStatus{
		State:    s.state,
		Ready:    s.state == Ready,
		Since:    s.since,
		Connects: s.connects,
	}
	if s.state == Ready {
		st.ClientID = s.clientID
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Advance performs at most one transition attempt and returns the
// resulting state. It is a no-op in Ready while both the network and the
// broker session are up. Network association and broker connect may
// block up to their configured timeouts.
func (s *Supervisor) Advance(ctx context.Context, now time.Time) State {
	switch s.state {
	case Disconnected:
		s.transition(NetworkConnecting, now)

	case NetworkConnecting:
		s.associate(ctx, now)

	case NetworkUp:
		if !s.link.Up() {
			s.logger.Warn("network lost before broker connect")
			s.transition(NetworkConnecting, now)
			return s.state
		}
		if now.Before(s.retryAt) {
			return s.state
		}
		s.transition(ChannelConnecting, now)

	case ChannelConnecting:
		if !s.link.Up() {
			s.logger.Warn("network lost during broker connect")
			s.transition(NetworkConnecting, now)
			return s.state
		}
		s.connect(ctx, now)

	case Ready:
		switch {
		case !s.link.Up():
			s.logger.Warn("network lost, reconnecting")
			s.channel.Close()
			s.transition(NetworkConnecting, now)
		case !s.channel.Connected():
			s.logger.Warn("broker connection lost, reconnecting")
			s.channel.Close()
			s.transition(ChannelConnecting, now)
		}
	}
	return s.state
}

func (s *Supervisor) associate(ctx context.Context, now time.Time) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AssociateTimeout)
	defer cancel()

	err := s.link.Associate(actx)
	s.metrics.ConnectAttempt("network", err)
	if err != nil {
		s.lastErr = fmt.Errorf("network association: %w", err)
		s.logger.Warn("network association failed, retrying",
			"timeout", s.cfg.AssociateTimeout.String(),
			"error", err,
		)
		return
	}

	s.retryAt = time.Time{}
	s.transition(NetworkUp, now)
}

func (s *Supervisor) connect(ctx context.Context, now time.Time) {
	clientID := s.newClientID()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	err := s.channel.Connect(cctx, clientID)
	if err == nil {
		if serr := s.channel.Subscribe(cctx, s.cfg.CommandTopic); serr != nil {
			s.channel.Close()
			err = fmt.Errorf("subscribe %s: %w", s.cfg.CommandTopic, serr)
		}
	}
	s.metrics.ConnectAttempt("channel", err)

	if err != nil {
		s.lastErr = err
		s.retryAt = now.Add(s.delay)
		s.logger.Warn("broker connect failed",
			"client_id", clientID,
			"retry_in", s.delay.String(),
			"error", err,
		)

		// Grow delay with ceiling.
		s.delay = time.Duration(float64(s.delay) * s.cfg.Backoff.Multiplier)
		if s.delay > s.cfg.Backoff.MaxDelay {
			s.delay = s.cfg.Backoff.MaxDelay
		}

		s.transition(NetworkUp, now)
		return
	}

	s.clientID = clientID
	s.connects++
	s.lastErr = nil
	s.delay = s.cfg.Backoff.InitialDelay
	s.transition(Ready, now)
	s.logger.Info("broker connected",
		"client_id", clientID,
		"subscribed", s.cfg.CommandTopic,
		"connects", s.connects,
	)

	if s.cfg.OnReady != nil {
		s.cfg.OnReady(ctx)
	}
}

func (s *Supervisor) transition(to State, now time.Time) {
	from := s.state
	s.state = to
	s.since = now
	s.metrics.ConnectionState(int(to))
	s.logger.Debug("connectivity state changed", "from", from.String(), "to", to.String())
}
