// Package controlsystem keeps the registry of process variables published
// to the operator-facing side: endpoints the control system feeds into
// the application and endpoints the application publishes back. The test
// facility drives the application exclusively through this registry.
package controlsystem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/network"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// ProcessVariable is one published endpoint. Exactly one of target and
// queue is set: target when the control system feeds the application,
// queue when the application publishes to the control system.
type ProcessVariable struct {
	name string
	node *network.Node

	// Control system feeds the application.
	target accessor.Sender

	// Application publishes to the control system.
	queue *accessor.Queue

	mu   sync.Mutex
	last accessor.Transfer
}

// Name returns the published variable name.
func (pv *ProcessVariable) Name() string { return pv.name }

// Node returns the network descriptor of the published endpoint.
func (pv *ProcessVariable) Node() *network.Node { return pv.node }

// Writable reports whether the control system feeds this variable.
func (pv *ProcessVariable) Writable() bool { return pv.target != nil }

// Write sends a value into the application with a fresh version stamp.
func (pv *ProcessVariable) Write(v variant.Value) error {
	return pv.WriteTransfer(accessor.Transfer{
		Value:    v,
		Validity: accessor.Ok,
		Version:  accessor.NextVersion(),
	})
}

// WriteTransfer sends a fully specified transfer into the application.
func (pv *ProcessVariable) WriteTransfer(t accessor.Transfer) error {
	if pv.target == nil {
		return fmt.Errorf("control system variable %q is not writable", pv.name)
	}
	pv.target.Send(t)
	return nil
}

// Read blocks until the application publishes the next update.
func (pv *ProcessVariable) Read() (accessor.Transfer, bool) {
	if pv.queue == nil {
		return accessor.Transfer{}, false
	}
	t, ok := pv.queue.Read()
	if ok {
		pv.mu.Lock()
		pv.last = t
		pv.mu.Unlock()
	}
	return t, ok
}

// TryRead returns a pending published update without blocking.
func (pv *ProcessVariable) TryRead() (accessor.Transfer, bool) {
	if pv.queue == nil {
		return accessor.Transfer{}, false
	}
	t, ok := pv.queue.TryRead()
	if ok {
		pv.mu.Lock()
		pv.last = t
		pv.mu.Unlock()
	}
	return t, ok
}

// ReadLatest drains pending updates and returns the newest value seen.
func (pv *ProcessVariable) ReadLatest() accessor.Transfer {
	for {
		if _, ok := pv.TryRead(); !ok {
			break
		}
	}
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.last
}

// Latest returns the most recently read value without consuming anything.
func (pv *ProcessVariable) Latest() accessor.Transfer {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.last
}

// Registry is the process variable directory, keyed by qualified name.
type Registry struct {
	mu  sync.Mutex
	pvs map[string]*ProcessVariable
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pvs: make(map[string]*ProcessVariable)}
}

// PublishFeeder registers a variable the control system writes into the
// application. target is the resolved distribution entry point of the
// variable's network.
func (r *Registry) PublishFeeder(node *network.Node, target accessor.Sender) (*ProcessVariable, error) {
	return r.add(&ProcessVariable{name: node.Name(), node: node, target: target})
}

// PublishConsumer registers a variable the application publishes. queue is
// the control-system-side endpoint queue.
func (r *Registry) PublishConsumer(node *network.Node, queue *accessor.Queue) (*ProcessVariable, error) {
	return r.add(&ProcessVariable{name: node.Name(), node: node, queue: queue})
}

func (r *Registry) add(pv *ProcessVariable) (*ProcessVariable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.pvs[pv.name]; dup {
		return nil, fmt.Errorf("control system variable %q already published", pv.name)
	}
	r.pvs[pv.name] = pv
	return pv, nil
}

// Lookup finds a published variable by name.
func (r *Registry) Lookup(name string) (*ProcessVariable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pv, ok := r.pvs[name]
	return pv, ok
}

// Names returns all published variable names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.pvs))
	for n := range r.pvs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close shuts down all application-published queues, unblocking readers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pv := range r.pvs {
		if pv.queue != nil {
			pv.queue.Close()
		}
	}
}
