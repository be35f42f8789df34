// Package module provides the application module runtime: a named
// computation unit owning typed, directional endpoints and running its
// main loop on its own goroutine.
package module

import (
	"sync/atomic"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/network"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// ApplicationModule is one independently scheduled computation unit. Its
// endpoints are declared before the application is initialised; the
// orchestrator resolves them into live queues, wraps them with the
// propagation layer and starts MainLoop on a dedicated goroutine.
type ApplicationModule struct {
	name        string
	description string
	tags        []string

	// MainLoop is the module body, run on the module's goroutine. It
	// should return when a blocking read reports the application is
	// shutting down.
	MainLoop func()

	inputs  []*Input
	outputs []*Output

	version atomic.Uint64
	faults  atomic.Int64

	// cycleHash is non-zero when the module participates in a circular
	// dependency network. Assigned during finalisation, before any
	// goroutine runs. cycleInvalidity reads the cycle's shared invalidity
	// counter.
	cycleHash       uint64
	cycleInvalidity func() int64

	scheduler *sched.Scheduler
	token     *sched.Token
}

// New creates a module with the given name and descriptive tags.
func New(name, description string, tags ...string) *ApplicationModule {
	return &ApplicationModule{name: name, description: description, tags: tags}
}

// Name returns the module name.
func (m *ApplicationModule) Name() string { return m.name }

// Description returns the human-readable description.
func (m *ApplicationModule) Description() string { return m.description }

// Tags returns the module's tags as used by hierarchy queries.
func (m *ApplicationModule) Tags() []string { return m.tags }

// Inputs returns the declared consuming endpoints.
func (m *ApplicationModule) Inputs() []*Input { return m.inputs }

// Outputs returns the declared feeding endpoints.
func (m *ApplicationModule) Outputs() []*Output { return m.outputs }

// CurrentVersion returns the module's version stamp: the maximum version
// observed on any input, or the value set by AdvanceVersion.
func (m *ApplicationModule) CurrentVersion() accessor.VersionNumber {
	return accessor.VersionNumber(m.version.Load())
}

// SetCurrentVersion raises the module version stamp. Stamps are
// monotonic: lower values are ignored.
func (m *ApplicationModule) SetCurrentVersion(v accessor.VersionNumber) {
	for {
		cur := m.version.Load()
		if uint64(v) <= cur {
			return
		}
		if m.version.CompareAndSwap(cur, uint64(v)) {
			return
		}
	}
}

// AdvanceVersion allocates a fresh version number for spontaneous writes
// that do not derive from any input.
func (m *ApplicationModule) AdvanceVersion() accessor.VersionNumber {
	v := accessor.NextVersion()
	m.SetCurrentVersion(v)
	return v
}

// IncrementFaultCounter counts one input turning faulty.
func (m *ApplicationModule) IncrementFaultCounter() {
	m.faults.Add(1)
}

// DecrementFaultCounter counts one input recovering.
func (m *ApplicationModule) DecrementFaultCounter() {
	if m.faults.Add(-1) < 0 {
		panic("module fault counter went negative: " + m.name)
	}
}

// FaultCounter returns the number of currently-faulty inputs.
func (m *ApplicationModule) FaultCounter() int64 { return m.faults.Load() }

// Validity is the module's externally observable validity: faulty while
// any non-circular input is faulty, or while the circular dependency
// network the module belongs to is invalidated from outside. Inputs fed
// from inside the same cycle never contribute, so a cycle cannot latch
// its own fault state.
func (m *ApplicationModule) Validity() accessor.Validity {
	if m.faults.Load() > 0 {
		return accessor.Faulty
	}
	if m.cycleInvalidity != nil && m.cycleInvalidity() > 0 {
		return accessor.Faulty
	}
	return accessor.Ok
}

// CircularNetworkHash returns the module's cycle identity, zero if the
// module is not part of a circular dependency network.
func (m *ApplicationModule) CircularNetworkHash() uint64 { return m.cycleHash }

// SetCircularNetworkHash assigns the cycle identity. Finalisation only.
func (m *ApplicationModule) SetCircularNetworkHash(h uint64) { m.cycleHash = h }

// BindCycleInvalidity installs the reader for the cycle's shared
// invalidity counter. Finalisation only.
func (m *ApplicationModule) BindCycleInvalidity(fn func() int64) { m.cycleInvalidity = fn }

// Token returns the module's scheduling token.
func (m *ApplicationModule) Token() *sched.Token { return m.token }

// Scheduler returns the testable-mode scheduler, nil before finalisation.
func (m *ApplicationModule) Scheduler() *sched.Scheduler { return m.scheduler }

// BindScheduling installs the testable-mode scheduler and the module
// goroutine's token. Finalisation only.
func (m *ApplicationModule) BindScheduling(s *sched.Scheduler, tok *sched.Token) {
	m.scheduler = s
	m.token = tok
}

// PushInput declares a push-mode consuming endpoint.
func (m *ApplicationModule) PushInput(name string, typ variant.Type, nElements int, unit string) *Input {
	return m.addInput(name, typ, nElements, unit, accessor.Push)
}

// PollInput declares a poll-mode consuming endpoint, the pull point of a
// polling-consumer network.
func (m *ApplicationModule) PollInput(name string, typ variant.Type, nElements int, unit string) *Input {
	return m.addInput(name, typ, nElements, unit, accessor.Poll)
}

// ScalarPushInput declares a scalar push input.
func (m *ApplicationModule) ScalarPushInput(name string, typ variant.Type, unit string) *Input {
	return m.PushInput(name, typ, 1, unit)
}

// ScalarPollInput declares a scalar poll input.
func (m *ApplicationModule) ScalarPollInput(name string, typ variant.Type, unit string) *Input {
	return m.PollInput(name, typ, 1, unit)
}

// Output declares a feeding endpoint. Application feeders are always
// push-mode.
func (m *ApplicationModule) Output(name string, typ variant.Type, nElements int, unit string) *Output {
	node := network.NewNode(m.name+"/"+name, network.CategoryApplication,
		accessor.Feeding, accessor.Push, typ, nElements, unit)
	node.ModuleName = m.name
	out := &Output{mod: m, node: node}
	m.outputs = append(m.outputs, out)
	return out
}

// ScalarOutput declares a scalar feeding endpoint.
func (m *ApplicationModule) ScalarOutput(name string, typ variant.Type, unit string) *Output {
	return m.Output(name, typ, 1, unit)
}

// TriggerOutput declares a void-typed feeding endpoint usable as an
// external trigger source.
func (m *ApplicationModule) TriggerOutput(name string) *Output {
	return m.Output(name, variant.TypeVoid, 0, "")
}

func (m *ApplicationModule) addInput(name string, typ variant.Type, nElements int, unit string,
	mode accessor.UpdateMode) *Input {
	node := network.NewNode(m.name+"/"+name, network.CategoryApplication,
		accessor.Consuming, mode, typ, nElements, unit)
	node.ModuleName = m.name
	in := &Input{mod: m, node: node}
	m.inputs = append(m.inputs, in)
	return in
}
