// Package fanout provides the distribution primitives synthesized by the
// connection resolver: plain fan-outs duplicating one producer's values to
// many consumers, threaded fan-outs pumping an external push source,
// consuming fan-outs where a single polling consumer is the pull point,
// and trigger fan-outs polling a feeder on external pulses.
package fanout

import (
	"github.com/dd0wney/cluso-flownet/pkg/accessor"
)

// Poller is the producer-side handle of a poll-mode feeder: Poll returns
// the feeder's current value on demand. Device registers and
// control-system variables implement it.
type Poller interface {
	Poll() accessor.Transfer
}

// FanOut duplicates every received transfer to all consumers, preserving
// arrival order. Each consumer gets its own value buffer; a full consumer
// queue drops only that consumer's oldest unread value and never blocks
// the feeder nor the other consumers.
type FanOut struct {
	consumers []accessor.Sender
}

// New creates a fan-out over the given consumers.
func New(consumers ...accessor.Sender) *FanOut {
	return &FanOut{consumers: consumers}
}

// Add attaches one more consumer. Wiring-time only.
func (f *FanOut) Add(c accessor.Sender) {
	f.consumers = append(f.consumers, c)
}

// Len returns the number of consumers.
func (f *FanOut) Len() int { return len(f.consumers) }

// Send implements accessor.Sender.
func (f *FanOut) Send(t accessor.Transfer) {
	for _, c := range f.consumers {
		dup := t
		dup.Value = t.Value.Clone()
		c.Send(dup)
	}
}
