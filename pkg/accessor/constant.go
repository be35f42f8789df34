package accessor

import "github.com/dd0wney/cluso-flownet/pkg/variant"

// Constant is a feeding endpoint that supplies a fixed value exactly once
// at application start and never again. Declared-but-unconnected required
// inputs and configuration values are wired through constants.
type Constant struct {
	Name  string
	Value variant.Value

	targets []Sender
}

// NewConstant creates a constant feeder.
func NewConstant(name string, value variant.Value) *Constant {
	return &Constant{Name: name, Value: value}
}

// AddTarget attaches one consumer. Wiring-time only.
func (c *Constant) AddTarget(s Sender) {
	c.targets = append(c.targets, s)
}

// Propagate sends the constant's value to all consumers, stamped with the
// application start version.
func (c *Constant) Propagate(version VersionNumber) {
	for _, target := range c.targets {
		target.Send(Transfer{Value: c.Value.Clone(), Validity: Ok, Version: version})
	}
}
