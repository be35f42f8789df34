package module

import (
	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/network"
	"github.com/dd0wney/cluso-flownet/pkg/propagation"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// Input is a consuming endpoint of a module. Before initialisation it is
// only a declaration; the orchestrator resolves it to a live queue and
// wraps the queue with the propagation layer.
type Input struct {
	mod  *ApplicationModule
	node *network.Node
	recv *propagation.Receiver

	last accessor.Transfer
}

// Node returns the endpoint's network descriptor.
func (in *Input) Node() *network.Node { return in.node }

// Bind installs the resolved propagation receiver. Finalisation only.
func (in *Input) Bind(recv *propagation.Receiver) { in.recv = recv }

// Receiver returns the propagation layer, nil before finalisation.
func (in *Input) Receiver() *propagation.Receiver { return in.recv }

// Read blocks until the next transfer (push) or polls the feeder (poll).
// ok is false when the application is shutting down; the module main loop
// should then return.
func (in *Input) Read() (variant.Value, bool) {
	t, ok := in.recv.Read()
	if !ok {
		return in.last.Value, false
	}
	in.last = t
	return t.Value, true
}

// ReadNonBlocking returns a pending transfer if one is available.
func (in *Input) ReadNonBlocking() (variant.Value, bool) {
	t, ok := in.recv.TryRead()
	if !ok {
		return in.last.Value, false
	}
	in.last = t
	return t.Value, true
}

// ReadLatest skips over queued updates to the most recent one.
func (in *Input) ReadLatest() variant.Value {
	t := in.recv.ReadLatest()
	if t.Version != accessor.VersionUnset {
		in.last = t
	}
	return in.last.Value
}

// Value returns the most recently read value without reading.
func (in *Input) Value() variant.Value { return in.last.Value }

// Validity returns the validity of the most recently read transfer.
func (in *Input) Validity() accessor.Validity { return in.last.Validity }

// Version returns the version stamp of the most recently read transfer.
func (in *Input) Version() accessor.VersionNumber { return in.last.Version }

// Output is a feeding endpoint of a module. Writes carry the module's
// current version stamp and validity.
type Output struct {
	mod    *ApplicationModule
	node   *network.Node
	sender *propagation.Sender
}

// Node returns the endpoint's network descriptor.
func (out *Output) Node() *network.Node { return out.node }

// Bind installs the resolved propagation sender. Finalisation only.
func (out *Output) Bind(sender *propagation.Sender) { out.sender = sender }

// Write sends a value stamped with the module's current version. A module
// that has not read any input yet gets a fresh version allocated, so
// spontaneous writes are still ordered.
func (out *Output) Write(v variant.Value) {
	out.write(v, accessor.Ok)
}

// WriteFaulty sends a value explicitly marked invalid regardless of the
// module's own validity.
func (out *Output) WriteFaulty(v variant.Value) {
	out.write(v, accessor.Faulty)
}

// Trigger sends a void pulse. Only meaningful on void-typed outputs.
func (out *Output) Trigger() {
	out.write(variant.Void(), accessor.Ok)
}

func (out *Output) write(v variant.Value, validity accessor.Validity) {
	version := out.mod.CurrentVersion()
	if version == accessor.VersionUnset {
		version = out.mod.AdvanceVersion()
	}
	out.sender.Send(accessor.Transfer{Value: v, Validity: validity, Version: version})
}

// ReadAnyGroup bundles several push inputs so a module can block until any
// of them delivers, applying the propagation protocol to whichever fired.
type ReadAnyGroup struct {
	inputs []*Input
	group  *accessor.ReadAnyGroup
}

// NewReadAnyGroup builds a group over the given push inputs. Must be
// called after finalisation, before the module main loop starts reading.
// Panics when handed a poll input, same as grouping an unresolved one.
func NewReadAnyGroup(inputs ...*Input) *ReadAnyGroup {
	queues := make([]*accessor.Queue, len(inputs))
	for i, in := range inputs {
		q, ok := in.recv.Queue().(*accessor.Queue)
		if !ok {
			panic("read-any group requires push queue inputs: " + in.node.Name())
		}
		queues[i] = q
	}
	g := &ReadAnyGroup{inputs: inputs, group: accessor.NewReadAnyGroup(queues...)}
	if len(inputs) > 0 {
		if m := inputs[0].mod; m.scheduler != nil {
			g.group.BindScheduler(m.scheduler, m.token)
		}
	}
	return g
}

// ReadAny blocks until any grouped input delivers and returns it. ok is
// false when the application is shutting down.
func (g *ReadAnyGroup) ReadAny() (*Input, bool) {
	idx, t, ok := g.group.ReadAny()
	if !ok {
		return nil, false
	}
	in := g.inputs[idx]
	in.recv.PostRead(t, true)
	in.last = t
	return in, true
}
