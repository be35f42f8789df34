package app

import (
	"sync"
	"time"

	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/metrics"
)

const (
	detectorInterval  = 250 * time.Millisecond
	detectorThreshold = time.Second
)

// detector watches modules blocked waiting for their first input value.
// A module inside a circular dependency network that never receives its
// first value usually means nobody breaks the cycle with an initial
// write; the detector warns once per module so the deadlock is visible
// instead of silent.
type detector struct {
	logger  logging.Logger
	metrics *metrics.Registry

	// inCycle is installed after the cycle analysis ran.
	inCycle func(module string) bool

	mu     sync.Mutex
	waits  map[string]waitEntry
	warned map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

type waitEntry struct {
	endpoint string
	since    time.Time
}

func newDetector(logger logging.Logger, m *metrics.Registry) *detector {
	return &detector{
		logger:  logger,
		metrics: m,
		waits:   make(map[string]waitEntry),
		warned:  make(map[string]bool),
		done:    make(chan struct{}),
	}
}

// RegisterWait implements propagation.WaitTracker.
func (d *detector) RegisterWait(module, endpoint string) {
	d.mu.Lock()
	d.waits[module] = waitEntry{endpoint: endpoint, since: time.Now()}
	d.mu.Unlock()
}

// UnregisterWait implements propagation.WaitTracker.
func (d *detector) UnregisterWait(module string) {
	d.mu.Lock()
	delete(d.waits, module)
	d.mu.Unlock()
}

func (d *detector) start() {
	d.wg.Add(1)
	go d.run()
}

func (d *detector) stop() {
	close(d.done)
	d.wg.Wait()
}

func (d *detector) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(detectorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.scan()
		case <-d.done:
			return
		}
	}
}

func (d *detector) scan() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for mod, w := range d.waits {
		if d.warned[mod] || now.Sub(w.since) < detectorThreshold {
			continue
		}
		if d.inCycle == nil || !d.inCycle(mod) {
			continue
		}
		d.warned[mod] = true
		d.logger.Warn("module blocked waiting for its first value inside a circular dependency network",
			logging.ModuleField(mod), logging.EndpointField(w.endpoint))
		if d.metrics != nil {
			d.metrics.CircularWaitWarnings.Inc()
		}
	}
}
