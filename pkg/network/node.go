// Package network implements the variable network model: thin node
// descriptors wrapping endpoint identity, the networks grouping one
// producer with its consumers, and the trigger-type inference that decides
// how each network is driven.
package network

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// NodeCategory tells what kind of endpoint a node wraps.
type NodeCategory uint8

const (
	// CategoryInvalid marks an undecided node.
	CategoryInvalid NodeCategory = iota
	// CategoryApplication is an endpoint owned by an application module.
	CategoryApplication
	// CategoryDevice is an external device register.
	CategoryDevice
	// CategoryControlSystem is a control-system-exposed variable.
	CategoryControlSystem
	// CategoryTrigger is a synthetic node receiving trigger pulses for
	// another network.
	CategoryTrigger
	// CategoryConstant is a synthesized constant feeder.
	CategoryConstant
)

func (c NodeCategory) String() string {
	switch c {
	case CategoryApplication:
		return "application"
	case CategoryDevice:
		return "device"
	case CategoryControlSystem:
		return "controlsystem"
	case CategoryTrigger:
		return "trigger"
	case CategoryConstant:
		return "constant"
	default:
		return "invalid"
	}
}

// Node is a thin descriptor wrapping one endpoint's identity, direction,
// update mode and category. Direction and category are immutable after
// creation; a node belongs to at most one network, assigned once. Nodes
// are handled by pointer only so back-references stay valid: a node is
// never relocated after construction.
type Node struct {
	id        uuid.UUID
	name      string
	category  NodeCategory
	direction accessor.Direction
	mode      accessor.UpdateMode

	valueType variant.Type
	nElements int
	unit      string

	// ModuleName attributes application nodes to their owning module;
	// used for circular dependency analysis.
	ModuleName string

	// Device register coordinates for CategoryDevice nodes.
	DeviceAlias  string
	RegisterPath string

	// QueueDepth requested for the consuming endpoint (push mode only).
	QueueDepth int

	owner *VariableNetwork

	// Runtime slots assigned by the connection resolver during
	// finalisation.
	queue  *accessor.Queue
	sender accessor.Sender

	// CycleInternal marks consuming nodes whose feeder lives in the same
	// circular dependency network; such inputs never touch the shared
	// cycle invalidity counter.
	CycleInternal bool

	// TriggerSource, for CategoryTrigger consuming nodes, names the
	// network whose values act as pulses.
	TriggerSource *VariableNetwork
}

// NewNode creates an endpoint descriptor.
func NewNode(name string, category NodeCategory, direction accessor.Direction,
	mode accessor.UpdateMode, valueType variant.Type, nElements int, unit string) *Node {
	return &Node{
		id:        uuid.New(),
		name:      name,
		category:  category,
		direction: direction,
		mode:      mode,
		valueType: valueType,
		nElements: nElements,
		unit:      unit,
	}
}

// NewTriggerReceiver creates the synthetic consuming node through which a
// trigger network drives another network's fan-out.
func NewTriggerReceiver(target *VariableNetwork) *Node {
	n := NewNode(fmt.Sprintf("trigger-receiver:%s", target.Describe()),
		CategoryTrigger, accessor.Consuming, accessor.Push, variant.TypeVoid, 0, "")
	n.TriggerSource = target
	return n
}

// ID returns the node's unique identity.
func (n *Node) ID() uuid.UUID { return n.id }

// Name returns the qualified endpoint name.
func (n *Node) Name() string { return n.name }

// Category returns the endpoint category.
func (n *Node) Category() NodeCategory { return n.category }

// Direction returns the endpoint direction.
func (n *Node) Direction() accessor.Direction { return n.direction }

// Mode returns the endpoint update mode.
func (n *Node) Mode() accessor.UpdateMode { return n.mode }

// ValueType returns the declared value type.
func (n *Node) ValueType() variant.Type { return n.valueType }

// NElements returns the declared element count.
func (n *Node) NElements() int { return n.nElements }

// Unit returns the engineering unit.
func (n *Node) Unit() string { return n.unit }

// HasOwner reports whether the node was already assigned to a network.
func (n *Node) HasOwner() bool { return n.owner != nil }

// Owner returns the owning network, nil if unassigned.
func (n *Node) Owner() *VariableNetwork { return n.owner }

// SetQueue installs the resolved consumer-side endpoint. Resolver only.
func (n *Node) SetQueue(q *accessor.Queue) { n.queue = q }

// Queue returns the resolved consumer-side endpoint.
func (n *Node) Queue() *accessor.Queue { return n.queue }

// SetSender installs the resolved producer-side distribution primitive.
func (n *Node) SetSender(s accessor.Sender) { n.sender = s }

// Sender returns the resolved producer-side handle.
func (n *Node) Sender() accessor.Sender { return n.sender }

func (n *Node) String() string {
	return fmt.Sprintf("%s[%s %s %s %s n=%d]",
		n.name, n.category, n.direction, n.mode, n.valueType, n.nElements)
}
