package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
)

// ErrNotConnected is returned by [Channel.Publish] and
// [Channel.Subscribe] when no broker session is established.
var ErrNotConnected = errors.New("mqtt: not connected")

// MessageHandler receives inbound publishes. It runs on the Paho
// goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Will is the last-will message registered with every connect.
type Will struct {
	Topic   string
	Payload []byte
}

// Options configures a [Channel].
type Options struct {
	// Broker is the broker URL: mqtt://, tcp://, mqtts://, ssl:// or tls://.
	Broker   string
	Username string
	Password string
	// CAFile is an optional PEM bundle trusted for TLS brokers.
	CAFile    string
	KeepAlive uint16
	Will      *Will
	Logger    *slog.Logger
}

// Channel is one MQTT v5 session at a time over a single connection.
// It implements the connectivity supervisor's channel contract: the
// supervisor calls Connect with a fresh client id, then Subscribe, and
// polls Connected each tick.
type Channel struct {
	opts      Options
	broker    *url.URL
	tlsConfig *tls.Config
	onMessage MessageHandler
	logger    *slog.Logger

	// dial is swapped in tests.
	dial func(ctx context.Context, u *url.URL, tc *tls.Config) (net.Conn, error)

	mu        sync.Mutex
	client    *paho.Client
	connected atomic.Bool
}

// NewChannel validates the broker URL and loads the TLS trust store.
// onMessage may be nil, in which case inbound messages are discarded.
func NewChannel(opts Options, onMessage MessageHandler) (*Channel, error) {
	u, err := url.Parse(opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse broker URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("broker URL %q has no host", opts.Broker)
	}

	var tc *tls.Config
	switch u.Scheme {
	case "mqtt", "tcp":
	case "mqtts", "ssl", "tls":
		tc, err = tlsConfig(u.Hostname(), opts.CAFile)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if onMessage == nil {
		onMessage = func(string, []byte) {}
	}

	return &Channel{
		opts:      opts,
		broker:    u,
		tlsConfig: tc,
		onMessage: onMessage,
		logger:    logger,
		dial:      dial,
	}, nil
}

func tlsConfig(serverName, caFile string) (*tls.Config, error) {
	tc := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
	if caFile == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	tc.RootCAs = pool
	return tc, nil
}

func dial(ctx context.Context, u *url.URL, tc *tls.Config) (net.Conn, error) {
	addr := u.Host
	if u.Port() == "" {
		port := "1883"
		if tc != nil {
			port = "8883"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	if tc != nil {
		d := &tls.Dialer{Config: tc}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Connect dials the broker and performs the MQTT CONNECT handshake
// with the given client id. Any previous session is closed first.
func (c *Channel) Connect(ctx context.Context, clientID string) error {
	c.Close()

	conn, err := c.dial(ctx, c.broker, c.tlsConfig)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.broker.Host, err)
	}

	var cli *paho.Client
	cli = paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				c.onMessage(pr.Packet.Topic, pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			c.sessionLost(cli, "mqtt client error", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.sessionLost(cli, "mqtt server disconnect", "reason_code", d.ReasonCode)
		},
	})

	cp := &paho.Connect{
		KeepAlive:    c.opts.KeepAlive,
		ClientID:     clientID,
		CleanStart:   true,
		Username:     c.opts.Username,
		UsernameFlag: c.opts.Username != "",
		Password:     []byte(c.opts.Password),
		PasswordFlag: c.opts.Password != "",
	}
	if w := c.opts.Will; w != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   w.Topic,
			Payload: w.Payload,
			QoS:     1,
			Retain:  true,
		}
	}

	c.mu.Lock()
	c.client = cli
	c.mu.Unlock()

	ca, err := cli.Connect(ctx, cp)
	if err != nil {
		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()
		conn.Close()
		if ca != nil {
			return fmt.Errorf("mqtt connect rejected (reason %d): %w", ca.ReasonCode, err)
		}
		return fmt.Errorf("mqtt connect: %w", err)
	}

	c.connected.Store(true)

	c.logger.Debug("mqtt session established",
		"broker", c.broker.Host,
		"client_id", clientID,
	)
	return nil
}

// Subscribe subscribes the current session to topic at QoS 1.
func (c *Channel) Subscribe(ctx context.Context, topic string) error {
	cli := c.current()
	if cli == nil {
		return ErrNotConnected
	}
	sa, err := cli.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if sa != nil && len(sa.Reasons) > 0 && sa.Reasons[0] >= 0x80 {
		return fmt.Errorf("subscribe %s: rejected with reason %d", topic, sa.Reasons[0])
	}
	return nil
}

// Publish sends payload to topic. Telemetry goes out at QoS 0; retained
// state messages at QoS 1.
func (c *Channel) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	cli := c.current()
	if cli == nil {
		return ErrNotConnected
	}
	var qos byte
	if retain {
		qos = 1
	}
	if _, err := cli.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Connected reports whether the session is believed to be alive. It
// turns false as soon as Paho reports a client error or the server
// sends DISCONNECT.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Close sends DISCONNECT (which suppresses the will) and drops the
// session. It is safe to call when not connected.
func (c *Channel) Close() {
	c.mu.Lock()
	cli := c.client
	c.client = nil
	c.mu.Unlock()

	c.connected.Store(false)
	if cli != nil {
		if err := cli.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
			c.logger.Debug("mqtt disconnect", "error", err)
		}
	}
}

// sessionLost marks the channel down when cli is still the current
// client. Callbacks from a replaced client are only logged.
func (c *Channel) sessionLost(cli *paho.Client, msg string, args ...any) {
	c.mu.Lock()
	current := c.client == cli
	if current {
		c.connected.Store(false)
	}
	c.mu.Unlock()

	if !current {
		c.logger.Debug(msg+" from replaced session", args...)
		return
	}
	c.logger.Warn(msg, args...)
}

func (c *Channel) current() *paho.Client {
	if !c.connected.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}
