// Package propagation implements the validity and version metadata layer:
// decorators wrapped around every live application endpoint which keep
// per-module fault counters, monotonic version stamps and the shared
// invalidity counters of circular dependency networks in sync.
package propagation

import (
	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/network"
)

// Owner is the module-side contract the decorators synchronize against.
// A module's externally observable validity is faulty exactly while its
// fault counter is non-zero.
type Owner interface {
	Name() string
	CurrentVersion() accessor.VersionNumber
	SetCurrentVersion(v accessor.VersionNumber)
	IncrementFaultCounter()
	DecrementFaultCounter()
	Validity() accessor.Validity
	// CircularNetworkHash is non-zero when the module participates in a
	// circular dependency network.
	CircularNetworkHash() uint64
}

// CycleRegistry adjusts the shared atomic invalidity counter of a
// circular dependency network. Implemented by the application
// orchestrator.
type CycleRegistry interface {
	AdjustInvalidity(hash uint64, delta int64)
}

// WaitTracker observes modules blocked waiting for their first value.
// Implemented by the circular dependency detector.
type WaitTracker interface {
	RegisterWait(module, endpoint string)
	UnregisterWait(module string)
}

// Receiver decorates a consuming endpoint. On every genuine read of a
// push endpoint it stamps the owning module's version from the transfer,
// and tracks validity flips in the module's fault counter. For modules in
// a circular dependency network, flips on inputs fed from outside the
// cycle additionally adjust the cycle's shared invalidity counter, while
// cycle-internal inputs are excluded from the accounting entirely.
type Receiver struct {
	owner  Owner
	node   *network.Node
	queue  accessor.Endpoint
	cycles CycleRegistry
	waits  WaitTracker

	lastValidity accessor.Validity
	sawFirst     bool
}

// NewReceiver wraps a resolved consumer endpoint. cycles and waits may be
// nil when the module is not in a cycle or no detector is active.
func NewReceiver(owner Owner, node *network.Node, queue accessor.Endpoint,
	cycles CycleRegistry, waits WaitTracker) *Receiver {
	return &Receiver{
		owner:        owner,
		node:         node,
		queue:        queue,
		cycles:       cycles,
		waits:        waits,
		lastValidity: accessor.Ok,
	}
}

// Node returns the wrapped endpoint's descriptor.
func (r *Receiver) Node() *network.Node { return r.node }

// Queue exposes the undecorated endpoint for wiring and read-any groups.
func (r *Receiver) Queue() accessor.Endpoint { return r.queue }

// Read blocks until a transfer arrives (push) or returns the latest value
// (poll), then applies the metadata propagation.
func (r *Receiver) Read() (accessor.Transfer, bool) {
	if !r.sawFirst && r.waits != nil && r.queue.Mode() == accessor.Push && r.queue.Pending() == 0 {
		r.waits.RegisterWait(r.owner.Name(), r.node.Name())
		defer r.waits.UnregisterWait(r.owner.Name())
	}
	t, ok := r.queue.Read()
	if !ok {
		return t, false
	}
	r.PostRead(t, true)
	return t, true
}

// TryRead returns a pending transfer without blocking.
func (r *Receiver) TryRead() (accessor.Transfer, bool) {
	t, ok := r.queue.TryRead()
	if ok {
		r.PostRead(t, true)
	}
	return t, ok
}

// ReadLatest drains the queue and returns the newest pending transfer, or
// the last read value if nothing is pending.
func (r *Receiver) ReadLatest() accessor.Transfer {
	latest, any := accessor.Transfer{}, false
	for {
		t, ok := r.queue.TryRead()
		if !ok {
			break
		}
		latest, any = t, true
	}
	if !any {
		return r.queue.Latest()
	}
	r.PostRead(latest, true)
	return latest
}

// PostRead applies the metadata protocol after a transfer was obtained.
// genuineRead is false for speculative reads that must not advance the
// module version.
func (r *Receiver) PostRead(t accessor.Transfer, genuineRead bool) {
	r.sawFirst = true

	// Version stamping only applies to push transfers from genuine reads.
	if genuineRead && r.queue.Mode() == accessor.Push && t.Version > r.owner.CurrentVersion() {
		r.owner.SetCurrentVersion(t.Version)
	}

	if t.Validity == r.lastValidity {
		return
	}
	r.lastValidity = t.Validity

	// Inputs fed from inside the module's own circular dependency network
	// carry validity that originated in the cycle itself. They contribute
	// to neither counter, otherwise the cycle would latch its fault state
	// forever.
	if r.node.CycleInternal && r.owner.CircularNetworkHash() != 0 {
		return
	}

	external := r.owner.CircularNetworkHash() != 0 && r.cycles != nil
	if t.Validity == accessor.Faulty {
		r.owner.IncrementFaultCounter()
		if external {
			r.cycles.AdjustInvalidity(r.owner.CircularNetworkHash(), +1)
		}
	} else {
		r.owner.DecrementFaultCounter()
		if external {
			r.cycles.AdjustInvalidity(r.owner.CircularNetworkHash(), -1)
		}
	}
}

// Sender decorates a feeding endpoint. Before every write the outgoing
// validity is forced to faulty if the owning module is currently faulty
// or the caller explicitly marked this write faulty; otherwise it mirrors
// the module's validity.
type Sender struct {
	owner  Owner
	node   *network.Node
	target accessor.Sender
}

// NewSender wraps the distribution primitive resolved for a feeding node.
func NewSender(owner Owner, node *network.Node, target accessor.Sender) *Sender {
	return &Sender{owner: owner, node: node, target: target}
}

// Node returns the wrapped endpoint's descriptor.
func (s *Sender) Node() *network.Node { return s.node }

// Send applies the pre-write validity rule and forwards the transfer.
func (s *Sender) Send(t accessor.Transfer) {
	if t.Validity != accessor.Faulty {
		t.Validity = s.owner.Validity()
	}
	s.target.Send(t)
}
