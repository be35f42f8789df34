package device

import (
	"sync"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
)

// Poller adapts a poll-mode backend register to the Poller contract used
// by consuming and trigger fan-outs. A read error reports an exception to
// the supervisor and returns the last known value marked faulty.
type Poller struct {
	dev      *Module
	register string

	mu   sync.Mutex
	last accessor.Transfer
}

// NewPoller creates a poll adapter for a register of the supervised
// backend.
func NewPoller(dev *Module, register string) *Poller {
	return &Poller{dev: dev, register: register}
}

// Register returns the backend register path.
func (p *Poller) Register() string { return p.register }

// Poll reads the register once.
func (p *Poller) Poll() accessor.Transfer {
	t, err := p.dev.backend.Read(p.register)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.dev.ReportException(err.Error())
		p.last.Validity = accessor.Faulty
		p.last.Version = accessor.NextVersion()
		return p.last
	}
	if t.Version == accessor.VersionUnset {
		t.Version = accessor.NextVersion()
	}
	p.last = t
	return t
}

// Sender adapts a backend register to a consuming endpoint: application
// writes land in the hardware. The last value is remembered by the
// supervisor so it can be replayed after a recovery. A write error
// reports an exception; the value is not lost, replay covers it.
type Sender struct {
	dev      *Module
	register string
}

// NewSender creates a write adapter for a register of the supervised
// backend.
func NewSender(dev *Module, register string) *Sender {
	return &Sender{dev: dev, register: register}
}

// Register returns the backend register path.
func (s *Sender) Register() string { return s.register }

// Send writes the transfer to the hardware.
func (s *Sender) Send(t accessor.Transfer) {
	s.dev.noteWrite(s.register, t)
	if err := s.dev.backend.Write(s.register, t); err != nil {
		s.dev.ReportException(err.Error())
	}
}

// PushSource adapts a push-mode backend register to the Source contract
// consumed by the threaded fan-out: it blocks on the backend's
// subscription channel until the next update or shutdown.
type PushSource struct {
	dev      *Module
	register string
	updates  <-chan accessor.Transfer
	done     chan struct{}
	once     sync.Once

	scheduler *sched.Scheduler
	token     *sched.Token
}

// NewPushSource subscribes to a push register. Returns nil if the register
// is not push-capable.
func NewPushSource(dev *Module, register string) *PushSource {
	updates := dev.backend.Subscribe(register)
	if updates == nil {
		return nil
	}
	return &PushSource{
		dev:      dev,
		register: register,
		updates:  updates,
		done:     make(chan struct{}),
	}
}

// Name returns the qualified source name.
func (s *PushSource) Name() string { return s.dev.alias + "/" + s.register }

// BindScheduler lets the blocking read release the testable-mode lock,
// matching the queue behaviour.
func (s *PushSource) BindScheduler(sc *sched.Scheduler, tok *sched.Token) {
	s.scheduler = sc
	s.token = tok
}

// Read blocks until the hardware pushes an update. ok is false after
// Close.
func (s *PushSource) Read() (accessor.Transfer, bool) {
	if s.scheduler != nil {
		s.scheduler.Unlock(s.token)
	}
	var (
		t  accessor.Transfer
		ok bool
	)
	select {
	case t = <-s.updates:
		ok = true
	case <-s.done:
	}
	if s.scheduler != nil {
		s.scheduler.Lock(s.token)
		if ok {
			s.scheduler.TransferTaken(s.Name())
		}
	}
	if ok && t.Version == accessor.VersionUnset {
		t.Version = accessor.NextVersion()
	}
	return t, ok
}

// Close unblocks a pending Read permanently.
func (s *PushSource) Close() {
	s.once.Do(func() { close(s.done) })
}
