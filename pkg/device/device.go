package device

import (
	"sync"
	"time"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
)

const (
	initialRetryInterval = 50 * time.Millisecond
	maxRetryInterval     = 2 * time.Second
)

// Module supervises one backend under an application-chosen alias. It
// opens the backend before the application starts processing, receives
// exception reports from the endpoint adapters, and reopens the backend
// with exponential backoff. Last written values are replayed after a
// recovery so the hardware is brought back to the intended state.
type Module struct {
	alias   string
	backend Backend
	logger  logging.Logger

	scheduler *sched.Scheduler
	token     *sched.Token

	errs chan string
	done chan struct{}
	wg   sync.WaitGroup

	mu          sync.Mutex
	functional  bool
	lastWrites  map[string]accessor.Transfer
	recoveries  uint64
	onRecover   []func()
	onException []func()
}

// NewModule wraps a backend for supervision.
func NewModule(alias string, backend Backend, logger logging.Logger) *Module {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Module{
		alias:   alias,
		backend: backend,
		logger:  logger.With(logging.Component("device"), logging.DeviceField(alias)),
		errs:    make(chan string, 8),
		done:    make(chan struct{}),

		lastWrites: make(map[string]accessor.Transfer),
	}
}

// Alias returns the application-side device name.
func (d *Module) Alias() string { return d.alias }

// Backend returns the supervised backend.
func (d *Module) Backend() Backend { return d.backend }

// Functional reports whether the backend is currently usable.
func (d *Module) Functional() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.functional
}

// Recoveries returns how many times the backend was reopened after an
// exception.
func (d *Module) Recoveries() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recoveries
}

// OnRecover registers a callback run after each successful reopen, before
// the device is marked functional. Registration must happen before Start.
func (d *Module) OnRecover(fn func()) {
	d.onRecover = append(d.onRecover, fn)
}

// OnException registers a callback run once per accepted exception report.
// Registration must happen before Start.
func (d *Module) OnException(fn func()) {
	d.onException = append(d.onException, fn)
}

// BindScheduling installs the testable-mode scheduler. Finalisation only.
// Hardware pushes enter the stepped graph at the subscription channel, so
// they are accounted where they are produced; the push source retracts
// the count when it picks the update up.
func (d *Module) BindScheduling(s *sched.Scheduler) {
	d.scheduler = s
	d.token = s.Register("device:" + d.alias)
	d.backend.OnPush(func(register string) {
		s.TransferSent(d.alias + "/" + register)
	})
}

// ReportException notifies the supervisor of a backend error observed by
// an endpoint adapter. Never blocks; duplicate reports while a recovery
// is already underway are collapsed. The report counts as a pending
// transfer so step-driven tests cannot complete a round before the
// supervisor has picked it up. Adapters call this while holding the
// scheduling lock.
func (d *Module) ReportException(msg string) {
	d.mu.Lock()
	d.functional = false
	d.mu.Unlock()
	select {
	case d.errs <- msg:
		if d.scheduler != nil {
			d.scheduler.TransferSent(d.exceptionEndpoint())
		}
		for _, fn := range d.onException {
			fn()
		}
	default:
	}
}

func (d *Module) exceptionEndpoint() string {
	return "device:" + d.alias + "/exception"
}

// Start opens the backend on the supervision goroutine. Step-driven tests
// see the initial open as a pending device initialisation.
func (d *Module) Start() {
	if d.scheduler != nil {
		d.scheduler.DeviceInitStarted()
	}
	d.wg.Add(1)
	go d.run()
}

// Stop shuts the supervisor down and closes the backend.
func (d *Module) Stop() {
	close(d.done)
	d.wg.Wait()
	if err := d.backend.Close(); err != nil {
		d.logger.Warn("backend close failed", logging.Error(err))
	}
}

func (d *Module) run() {
	defer d.wg.Done()
	if d.scheduler != nil {
		d.scheduler.Lock(d.token)
		defer d.scheduler.Unlock(d.token)
	}

	if !d.openWithRetry(false) {
		return
	}
	if d.scheduler != nil {
		d.scheduler.DeviceInitFinished()
	}

	for {
		var msg string
		if !d.waitForException(&msg) {
			return
		}
		if d.scheduler != nil {
			d.scheduler.TransferTaken(d.exceptionEndpoint())
		}
		d.logger.Warn("backend exception reported", logging.String("reason", msg))
		if d.scheduler != nil {
			d.scheduler.DeviceInitStarted()
		}
		if !d.openWithRetry(true) {
			return
		}
		if d.scheduler != nil {
			d.scheduler.DeviceInitFinished()
		}
	}
}

// waitForException blocks until an exception report or shutdown, releasing
// the scheduling lock while idle.
func (d *Module) waitForException(msg *string) bool {
	if d.scheduler != nil {
		d.scheduler.Unlock(d.token)
		defer d.scheduler.Lock(d.token)
	}
	select {
	case *msg = <-d.errs:
		return true
	case <-d.done:
		return false
	}
}

func (d *Module) openWithRetry(recovery bool) bool {
	interval := initialRetryInterval
	for {
		err := d.backend.Open()
		if err == nil {
			break
		}
		d.logger.Warn("backend open failed, retrying",
			logging.Error(err), logging.Duration("retry_in", interval))
		if !d.sleep(interval) {
			return false
		}
		interval *= 2
		if interval > maxRetryInterval {
			interval = maxRetryInterval
		}
	}

	if recovery {
		d.replayWrites()
		for _, fn := range d.onRecover {
			fn()
		}
	}

	d.mu.Lock()
	d.functional = true
	if recovery {
		d.recoveries++
	}
	d.mu.Unlock()

	// Stale reports from before this reopen are obsolete now.
	for {
		select {
		case <-d.errs:
			if d.scheduler != nil {
				d.scheduler.TransferTaken(d.exceptionEndpoint())
			}
		default:
			if recovery {
				d.logger.Info("backend recovered")
			} else {
				d.logger.Info("backend opened")
			}
			return true
		}
	}
}

func (d *Module) sleep(dur time.Duration) bool {
	if d.scheduler != nil {
		d.scheduler.Unlock(d.token)
		defer d.scheduler.Lock(d.token)
	}
	select {
	case <-time.After(dur):
		return true
	case <-d.done:
		return false
	}
}

func (d *Module) replayWrites() {
	d.mu.Lock()
	writes := make(map[string]accessor.Transfer, len(d.lastWrites))
	for reg, t := range d.lastWrites {
		writes[reg] = t
	}
	d.mu.Unlock()
	for reg, t := range writes {
		if err := d.backend.Write(reg, t); err != nil {
			d.logger.Warn("write replay failed",
				logging.String("register", reg), logging.Error(err))
		}
	}
}

// noteWrite records the last value written to a register for replay.
func (d *Module) noteWrite(register string, t accessor.Transfer) {
	d.mu.Lock()
	d.lastWrites[register] = t
	d.mu.Unlock()
}
