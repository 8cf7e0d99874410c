// Package diag serves local diagnostics over HTTP: health, a status
// document, Prometheus metrics and a live WebSocket event feed.
package diag

import (
	"sync"
	"time"

	"github.com/anndreipopa/Floriva/internal/command"
	"github.com/anndreipopa/Floriva/internal/connectivity"
	"github.com/anndreipopa/Floriva/internal/sampler"
)

// Status is the document served at /api/status.
type Status struct {
	Device       string                     `json:"device"`
	Connectivity connectivity.ServiceStatus `json:"connectivity"`
	Sampler      sampler.Status             `json:"sampler"`
	Pump         command.PumpStatus         `json:"pump"`
	LastSnapshot *sampler.Snapshot          `json:"last_snapshot,omitempty"`
	LastPublish  time.Time                  `json:"last_publish,omitzero"`
	Published    int                        `json:"published"`
	Build        map[string]string          `json:"build,omitempty"`
	Uptime       string                     `json:"uptime,omitempty"`
}

// Board is the hand-off point between the control loop, which writes
// after every tick, and HTTP handlers on other goroutines.
type Board struct {
	mu sync.RWMutex
	st Status
}

// NewBoard creates a board for the named device.
func NewBoard(device string) *Board {
	return &Board{st: Status{Device: device}}
}

// Update applies fn to the status under the write lock.
func (b *Board) Update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.st)
}

// Get returns a copy of the status.
func (b *Board) Get() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := b.st
	if st.LastSnapshot != nil {
		snap := *st.LastSnapshot
		st.LastSnapshot = &snap
	}
	return st
}
