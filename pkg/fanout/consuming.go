package fanout

import (
	"sync"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
)

// ConsumingFanOut serves a poll-mode feeder with exactly one polling
// consumer and any number of additional push-mode consumers. The polling
// consumer's read is the sole trigger: it polls the feeder on demand and,
// after the poll completes, broadcasts the value to the remaining push
// consumers. Implements accessor.Endpoint as the polling consumer's pull
// point.
type ConsumingFanOut struct {
	name   string
	feeder Poller
	out    *FanOut

	mu     sync.Mutex
	last   accessor.Transfer
	closed bool
}

// NewConsuming creates a consuming fan-out. out carries the push-mode
// consumers; it may be empty when the polling consumer is the only one.
func NewConsuming(name string, feeder Poller, out *FanOut) *ConsumingFanOut {
	return &ConsumingFanOut{name: name, feeder: feeder, out: out}
}

// Name returns the endpoint name of the polling consumer.
func (cf *ConsumingFanOut) Name() string { return cf.name }

// Mode implements accessor.Endpoint: the pulling side is poll-mode.
func (cf *ConsumingFanOut) Mode() accessor.UpdateMode { return accessor.Poll }

// Read polls the feeder, broadcasts to the push consumers, then returns
// the polled transfer. ok is false after Close.
func (cf *ConsumingFanOut) Read() (accessor.Transfer, bool) {
	cf.mu.Lock()
	if cf.closed {
		last := cf.last
		cf.mu.Unlock()
		return last, false
	}
	cf.mu.Unlock()

	t := cf.feeder.Poll()
	if cf.out != nil && cf.out.Len() > 0 {
		cf.out.Send(t)
	}
	cf.mu.Lock()
	cf.last = t
	cf.mu.Unlock()
	return t, true
}

// TryRead polls like Read; a poll-mode pull point always has a value.
func (cf *ConsumingFanOut) TryRead() (accessor.Transfer, bool) {
	return cf.Read()
}

// Latest returns the most recently polled transfer without polling again.
func (cf *ConsumingFanOut) Latest() accessor.Transfer {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.last
}

// Pending implements accessor.Endpoint; a pull point never buffers.
func (cf *ConsumingFanOut) Pending() int { return 0 }

// Close makes subsequent reads report shutdown.
func (cf *ConsumingFanOut) Close() {
	cf.mu.Lock()
	cf.closed = true
	cf.mu.Unlock()
}
