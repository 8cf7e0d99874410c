package mqtt

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anndreipopa/Floriva/internal/metrics"
)

// Message is one inbound publish waiting for the control loop.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// Inbox is a bounded FIFO between the Paho goroutine and the control
// loop. Deliveries beyond the capacity or the admission rate are
// dropped and counted; arrival order is preserved for the rest.
type Inbox struct {
	mu       sync.Mutex
	msgs     []Message
	capacity int
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewInbox creates an inbox holding at most capacity messages and
// admitting at most perSecond messages per second (burst perSecond).
// A non-positive perSecond disables the rate limit.
func NewInbox(capacity, perSecond int, m *metrics.Metrics, logger *slog.Logger) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = perSecond
	}
	return &Inbox{
		capacity: capacity,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Deliver queues a message. It has the [MessageHandler] signature so it
// can be handed to [NewChannel] directly. The payload is copied.
func (in *Inbox) Deliver(topic string, payload []byte) {
	now := in.now()
	if !in.limiter.AllowN(now, 1) {
		in.drop(topic, "rate limited")
		return
	}

	in.mu.Lock()
	if len(in.msgs) >= in.capacity {
		in.mu.Unlock()
		in.drop(topic, "inbox full")
		return
	}
	in.msgs = append(in.msgs, Message{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		Received: now,
	})
	in.mu.Unlock()

	in.metrics.Inbound(true)
	in.logger.Debug("mqtt message received",
		"topic", topic,
		"payload_size", len(payload),
	)
}

func (in *Inbox) drop(topic, reason string) {
	in.metrics.Inbound(false)
	in.logger.Warn("mqtt message dropped", "topic", topic, "reason", reason)
}

// Drain removes and returns all queued messages in arrival order.
func (in *Inbox) Drain() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.msgs) == 0 {
		return nil
	}
	out := in.msgs
	in.msgs = nil
	return out
}

// Discard empties the inbox, counting every queued message as dropped,
// and returns how many were removed.
func (in *Inbox) Discard() int {
	in.mu.Lock()
	n := len(in.msgs)
	in.msgs = nil
	in.mu.Unlock()

	for range n {
		in.metrics.Inbound(false)
	}
	return n
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.msgs)
}
