// Package accessor provides the typed, directional endpoint runtime: the
// transfer payload exchanged between modules, the bounded single-consumer
// queue with drop-oldest overflow behaviour, blocking and read-any waits,
// and constant feeders.
package accessor

import (
	"sync/atomic"

	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

// Validity is the ok/faulty flag attached to every transfer and
// propagated through module fault counters.
type Validity uint8

const (
	// Ok marks data that is currently trustworthy.
	Ok Validity = iota
	// Faulty marks data whose source cannot currently supply valid
	// values. The payload still carries the last known value.
	Faulty
)

func (v Validity) String() string {
	if v == Faulty {
		return "faulty"
	}
	return "ok"
}

// VersionNumber is a totally ordered, monotonically non-decreasing
// per-module stamp. VersionUnset marks data that was never written.
type VersionNumber uint64

// VersionUnset is the distinguished "never written" version.
const VersionUnset VersionNumber = 0

var versionCounter atomic.Uint64

// NextVersion allocates a fresh version number. Versions are process-wide
// and strictly increasing, so comparing them orders updates across
// modules.
func NextVersion() VersionNumber {
	return VersionNumber(versionCounter.Add(1))
}

// Transfer is one value moving through the graph together with its
// validity and version metadata.
type Transfer struct {
	Value    variant.Value
	Validity Validity
	Version  VersionNumber
}

// UpdateMode describes how an endpoint delivers new values.
type UpdateMode uint8

const (
	// ModeInvalid marks an endpoint whose mode was never decided.
	ModeInvalid UpdateMode = iota
	// Push endpoints deliver values on their own cadence.
	Push
	// Poll endpoints supply the current value on demand.
	Poll
)

func (m UpdateMode) String() string {
	switch m {
	case Push:
		return "push"
	case Poll:
		return "poll"
	default:
		return "invalid"
	}
}

// Direction tells whether an endpoint produces or consumes values.
type Direction uint8

const (
	// DirInvalid marks an endpoint whose direction was never decided.
	DirInvalid Direction = iota
	// Feeding endpoints produce values into a network.
	Feeding
	// Consuming endpoints receive values from a network.
	Consuming
)

func (d Direction) String() string {
	switch d {
	case Feeding:
		return "feeding"
	case Consuming:
		return "consuming"
	default:
		return "invalid"
	}
}

// Sender is the producer-side handle of a wired endpoint. Send must never
// block: overflow is resolved by dropping the receiver's oldest unread
// value, never by backpressure.
type Sender interface {
	Send(t Transfer)
}

// Endpoint is the consumer-side handle of a wired endpoint. Queue is the
// canonical implementation; the consuming fan-out substitutes a polling
// pull point.
type Endpoint interface {
	Name() string
	Mode() UpdateMode
	// Read blocks on push endpoints until a transfer arrives; on poll
	// endpoints it returns the current value immediately. ok is false
	// once the endpoint is closed.
	Read() (Transfer, bool)
	// TryRead returns a pending transfer without blocking.
	TryRead() (Transfer, bool)
	// Latest returns the most recently read value without consuming.
	Latest() Transfer
	// Pending reports how many unread push transfers are buffered.
	Pending() int
}
