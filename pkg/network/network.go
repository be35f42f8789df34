package network

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// TriggerType says what drives a network's data distribution.
type TriggerType uint8

const (
	// TriggerNone marks a network whose trigger type was not yet
	// inferred.
	TriggerNone TriggerType = iota
	// TriggerFeeder: the feeding node is push-mode and supplies its own
	// cadence.
	TriggerFeeder
	// TriggerPollingConsumer: the feeder is poll-mode and exactly one
	// poll-mode consumer pulls data on demand.
	TriggerPollingConsumer
	// TriggerExternal: an explicit trigger network drives polling.
	TriggerExternal
)

func (t TriggerType) String() string {
	switch t {
	case TriggerFeeder:
		return "feeder"
	case TriggerPollingConsumer:
		return "pollingConsumer"
	case TriggerExternal:
		return "external"
	default:
		return "none"
	}
}

// VariableNetwork is the set of nodes sharing one producer: at most one
// feeding node and a non-empty ordered collection of consuming nodes.
// Networks are created on the first pairing between two unassigned nodes,
// grow as further pairings reference the same producer, and are frozen
// once the connection resolver has instantiated their distribution
// primitive.
type VariableNetwork struct {
	feeder    *Node
	consumers []*Node

	valueType variant.Type
	unit      string

	externalTrigger  *VariableNetwork
	triggerReceivers []*VariableNetwork

	frozen bool
}

// New creates an empty network.
func New() *VariableNetwork {
	return &VariableNetwork{}
}

// Feeder returns the feeding node, nil if none was attached yet.
func (vn *VariableNetwork) Feeder() *Node { return vn.feeder }

// HasFeeder reports whether a feeding node was attached.
func (vn *VariableNetwork) HasFeeder() bool { return vn.feeder != nil }

// Consumers returns the ordered consuming nodes.
func (vn *VariableNetwork) Consumers() []*Node { return vn.consumers }

// ValueType returns the network's inferred value type.
func (vn *VariableNetwork) ValueType() variant.Type { return vn.valueType }

// Unit returns the network's engineering unit, taken from the feeder.
func (vn *VariableNetwork) Unit() string { return vn.unit }

// ExternalTrigger returns the attached trigger network, nil if none.
func (vn *VariableNetwork) ExternalTrigger() *VariableNetwork { return vn.externalTrigger }

// TriggerReceivers returns the networks this network acts as a trigger
// for.
func (vn *VariableNetwork) TriggerReceivers() []*VariableNetwork { return vn.triggerReceivers }

// Frozen reports whether the resolver already instantiated the network's
// distribution primitive.
func (vn *VariableNetwork) Frozen() bool { return vn.frozen }

// Freeze marks the network read-only. Resolver only.
func (vn *VariableNetwork) Freeze() { vn.frozen = true }

// AddNode attaches an unassigned node. It enforces the single-feeder
// invariant, adopts the value type and engineering unit from the first
// feeding node, and fails fast on value type mismatches.
func (vn *VariableNetwork) AddNode(n *Node) error {
	if vn.frozen {
		return illegal(vn, "network is frozen, no further nodes may be added")
	}
	if n.HasOwner() {
		if n.Owner() != vn {
			return illegal(vn, "node %s already belongs to another network", n.Name())
		}
		return nil
	}

	if n.Direction() == accessor.Feeding {
		if vn.HasFeeder() {
			return illegal(vn, "trying to add feeding endpoint %s to a network already fed by %s",
				n.Name(), vn.feeder.Name())
		}
		if err := vn.checkTypeCompatible(n); err != nil {
			return err
		}
		vn.feeder = n
		vn.valueType = n.ValueType()
		vn.unit = n.Unit()
	} else {
		if err := vn.checkTypeCompatible(n); err != nil {
			return err
		}
		vn.consumers = append(vn.consumers, n)
	}
	n.owner = vn
	return nil
}

// checkTypeCompatible fails fast when a node's declared type contradicts
// the network's already-resolved type. Types are never silently coerced.
// Trigger receivers are exempt: any push variable may act as a trigger,
// the receiver consumes only the pulse timing, never the value.
func (vn *VariableNetwork) checkTypeCompatible(n *Node) error {
	if n.ValueType() == variant.TypeInvalid || n.Category() == CategoryTrigger {
		return nil // type undecided or irrelevant, adopted from the network
	}
	if vn.HasFeeder() {
		if vn.valueType != variant.TypeInvalid && vn.valueType != n.ValueType() {
			return illegal(vn, "type mismatch: network carries %s but node %s declares %s",
				vn.valueType, n.Name(), n.ValueType())
		}
		return nil
	}
	// No feeder yet: verify against already-attached consumers.
	for _, c := range vn.consumers {
		if c.Category() == CategoryTrigger {
			continue
		}
		if c.ValueType() != variant.TypeInvalid && c.ValueType() != n.ValueType() {
			return illegal(vn, "type mismatch: consumer %s declares %s but node %s declares %s",
				c.Name(), c.ValueType(), n.Name(), n.ValueType())
		}
	}
	return nil
}

// AddTrigger attaches an external trigger network. Only one trigger per
// network is allowed, and the trigger registers this network as one of
// its receivers.
func (vn *VariableNetwork) AddTrigger(trigger *VariableNetwork) error {
	if vn.externalTrigger != nil {
		return illegal(vn, "only one external trigger per variable network is allowed")
	}
	receiver := NewTriggerReceiver(vn)
	if err := trigger.AddNode(receiver); err != nil {
		return err
	}
	trigger.triggerReceivers = append(trigger.triggerReceivers, vn)
	vn.externalTrigger = trigger
	return nil
}

// TriggerType infers how this network is driven. The same function backs
// both validation and distribution-primitive synthesis, so the two can
// never diverge.
func (vn *VariableNetwork) TriggerType() (TriggerType, error) {
	if vn.externalTrigger != nil {
		if vn.feeder != nil && vn.feeder.Mode() == accessor.Push {
			return TriggerNone, illegal(vn, "trigger not allowed on push feeder")
		}
		return TriggerExternal, nil
	}
	if vn.feeder != nil && vn.feeder.Mode() == accessor.Push {
		return TriggerFeeder, nil
	}
	// Poll-type feeder without external trigger: exactly one polling
	// consumer must act as the sole pull point.
	nPolling := 0
	for _, c := range vn.consumers {
		if c.Mode() == accessor.Poll {
			nPolling++
		}
	}
	if nPolling != 1 {
		return TriggerNone, illegal(vn,
			"ambiguous pull point: poll-type feeder needs exactly one polling consumer, found %d", nPolling)
	}
	return TriggerPollingConsumer, nil
}

// PollingConsumer returns the single poll-mode consumer of a
// polling-consumer network.
func (vn *VariableNetwork) PollingConsumer() *Node {
	for _, c := range vn.consumers {
		if c.Mode() == accessor.Poll {
			return c
		}
	}
	return nil
}

// Check validates the network invariants: at least one consumer, exactly
// one feeder, application feeders must be push-mode, and the trigger-type
// inference must be unambiguous. Called once per network during
// finalisation.
func (vn *VariableNetwork) Check() error {
	if len(vn.consumers) == 0 {
		return illegal(vn, "no consuming nodes connected")
	}
	if !vn.HasFeeder() {
		return illegal(vn, "no feeding node connected")
	}
	if vn.feeder.Category() == CategoryApplication && vn.feeder.Mode() != accessor.Push {
		return illegal(vn, "application feeder %s must be push-mode", vn.feeder.Name())
	}
	for _, c := range vn.consumers {
		if c.Owner() != vn {
			return illegal(vn, "consumer %s is not owned by this network", c.Name())
		}
	}
	if _, err := vn.TriggerType(); err != nil {
		return err
	}
	return nil
}

// Describe renders a short identification for error messages and logs.
func (vn *VariableNetwork) Describe() string {
	var b strings.Builder
	b.WriteString("{feeder: ")
	if vn.feeder != nil {
		b.WriteString(vn.feeder.Name())
	} else {
		b.WriteString("<none>")
	}
	fmt.Fprintf(&b, ", consumers: %d", len(vn.consumers))
	if len(vn.consumers) > 0 {
		b.WriteString(" [")
		for i, c := range vn.consumers {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name())
		}
		b.WriteString("]")
	}
	b.WriteString("}")
	return b.String()
}
