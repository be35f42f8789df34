// Package sched implements the deterministic lock-step scheduler used in
// testable mode. A single global mutex serializes all module goroutines so
// that a test driver can advance the application by exactly one round of
// propagation at a time. Each participating goroutine holds an explicit
// Token; the token is the only handle through which the lock may be taken
// or released.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State of the scheduler, mainly for diagnostics.
type State int32

const (
	// Idle means no test driver is attached and goroutines run freely.
	Idle State = iota
	// Paused is the entry state once testable mode is enabled: every
	// module goroutine blocks before its first transfer.
	Paused
	// Stepping means the driver has released pending work for one round.
	Stepping
	// Stalled means the same token re-acquired the lock too many times
	// in a row with no other participant making progress.
	Stalled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Paused:
		return "paused"
	case Stepping:
		return "stepping"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Token identifies one goroutine participating in lock-step scheduling.
// Tokens are handed out by Register and must not be shared between
// goroutines.
type Token struct {
	name string
}

// Name returns the registered goroutine name.
func (t *Token) Name() string { return t.name }

// Scheduler serializes goroutines through one global mutex and keeps the
// transfer accounting needed to decide when a step is complete.
type Scheduler struct {
	enabled bool

	mu sync.Mutex

	// Guarded by mu. counter is the number of pending unconsumed push
	// transfers across the whole graph; deviceInitCounter counts devices
	// still (re-)initialising.
	counter           int64
	deviceInitCounter int64
	perVar            map[string]int64

	// Livelock detection: lastOwner is the token which most recently
	// acquired mu; repeat counts consecutive acquisitions by the same
	// token without another participant in between.
	lastOwner *Token
	repeat    int

	state State

	// MaxRepeats bounds the lock hand-offs without progress before a
	// step is declared stalled.
	MaxRepeats int
	// HandoffDelay is slept between hand-offs while stepping, giving
	// blocked goroutines a chance to wake and take the lock.
	HandoffDelay time.Duration

	// Observer, if set before the application runs, is invoked with the
	// updated counters after every accounting change, always under the
	// lock. Used to mirror the counters into metrics gauges.
	Observer func(pendingTransfers, deviceInits int64)

	regMu  sync.Mutex
	tokens []*Token
}

// New creates a scheduler. If enabled is false all operations are no-ops
// and the application runs fully concurrent (production mode).
func New(enabled bool) *Scheduler {
	s := &Scheduler{
		enabled:      enabled,
		perVar:       make(map[string]int64),
		MaxRepeats:   10000,
		HandoffDelay: 100 * time.Microsecond,
		state:        Idle,
	}
	if enabled {
		s.state = Paused
	}
	return s
}

// Enabled reports whether testable mode is active.
func (s *Scheduler) Enabled() bool { return s.enabled }

// Register hands out a token for the named goroutine.
func (s *Scheduler) Register(name string) *Token {
	tok := &Token{name: name}
	s.regMu.Lock()
	s.tokens = append(s.tokens, tok)
	s.regMu.Unlock()
	return tok
}

// Lock acquires the global scheduling lock for the given token. No-op when
// testable mode is disabled.
func (s *Scheduler) Lock(tok *Token) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	if s.lastOwner == tok {
		s.repeat++
	} else {
		s.lastOwner = tok
		s.repeat = 0
	}
}

// Unlock releases the global scheduling lock. No-op when testable mode is
// disabled.
func (s *Scheduler) Unlock(tok *Token) {
	if !s.enabled {
		return
	}
	_ = tok
	s.mu.Unlock()
}

// TransferSent records one pending push transfer for the named endpoint.
// Must be called while holding the lock (the writing goroutine always
// does).
func (s *Scheduler) TransferSent(endpoint string) {
	if !s.enabled {
		return
	}
	s.counter++
	s.perVar[endpoint]++
	s.observe()
}

// TransferDropped retracts one pending transfer after a full queue dropped
// its oldest unread value, so the counter keeps matching what a reader can
// still consume.
func (s *Scheduler) TransferDropped(endpoint string) {
	if !s.enabled {
		return
	}
	s.counter--
	s.perVar[endpoint]--
	s.observe()
}

// TransferTaken records that a reader consumed one pending transfer.
func (s *Scheduler) TransferTaken(endpoint string) {
	if !s.enabled {
		return
	}
	s.counter--
	s.perVar[endpoint]--
	s.observe()
}

// DeviceInitStarted marks one device as (re-)initialising. Must be called
// while holding the lock.
func (s *Scheduler) DeviceInitStarted() {
	if !s.enabled {
		return
	}
	s.deviceInitCounter++
	s.observe()
}

// DeviceInitFinished marks one device initialisation as drained. Must be
// called while holding the lock.
func (s *Scheduler) DeviceInitFinished() {
	if !s.enabled {
		return
	}
	s.deviceInitCounter--
	s.observe()
}

func (s *Scheduler) observe() {
	if s.Observer != nil {
		s.Observer(s.counter, s.deviceInitCounter)
	}
}

// CanStep reports whether pending transfers (or device initialisation
// work) exist, i.e. whether Step would have anything to do. The caller
// must hold the lock through its token.
func (s *Scheduler) CanStep() bool {
	return s.counter > 0 || s.deviceInitCounter > 0
}

// State returns the current scheduler state. The caller must hold the
// lock.
func (s *Scheduler) State() State { return s.state }

// Step releases the lock held by the driver token and lets pending
// transfers flow until every goroutine is blocked in a read again with
// nothing further pending. With waitForDeviceInit, device
// (re-)initialisation work must also have drained. A round making no
// progress for MaxRepeats consecutive hand-offs fails with
// *TestsStalledError.
func (s *Scheduler) Step(driver *Token, waitForDeviceInit bool) error {
	if !s.enabled {
		return fmt.Errorf("step called without testable mode: %w", ErrNotTestable)
	}
	if s.counter == 0 && (!waitForDeviceInit || s.deviceInitCounter == 0) {
		return fmt.Errorf("nothing to step: no pending transfers%s: %w",
			deviceSuffix(waitForDeviceInit), ErrNothingPending)
	}
	s.state = Stepping
	for {
		s.Unlock(driver)
		time.Sleep(s.HandoffDelay)
		s.Lock(driver)
		if s.counter == 0 && (!waitForDeviceInit || s.deviceInitCounter == 0) {
			s.state = Paused
			return nil
		}
		if s.repeat > s.MaxRepeats {
			s.state = Stalled
			return &TestsStalledError{Pending: s.pendingSnapshot()}
		}
	}
}

// pendingSnapshot lists the endpoints that still hold unread transfers,
// for the stall diagnostic. Caller holds the lock.
func (s *Scheduler) pendingSnapshot() []PendingTransfer {
	var out []PendingTransfer
	for name, n := range s.perVar {
		if n > 0 {
			out = append(out, PendingTransfer{Endpoint: name, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func deviceSuffix(waited bool) string {
	if waited {
		return " and no device initialisation in progress"
	}
	return ""
}
