package fanout

import (
	"sync"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
)

// Source is a blocking push producer the threaded fan-out pumps from.
type Source interface {
	Name() string
	Read() (accessor.Transfer, bool)
}

// ThreadedFanOut runs its own goroutine blocking on an external push-mode
// feeder (device register or control-system variable) and broadcasts each
// received transfer.
type ThreadedFanOut struct {
	source Source
	out    *FanOut
	logger logging.Logger

	scheduler *sched.Scheduler
	token     *sched.Token

	wg sync.WaitGroup
}

// NewThreaded creates a threaded fan-out pumping source into out.
func NewThreaded(source Source, out *FanOut, logger logging.Logger) *ThreadedFanOut {
	return &ThreadedFanOut{source: source, out: out, logger: logger}
}

// BindScheduler attaches the testable-mode scheduler; the fan-out
// registers its own token when started.
func (tf *ThreadedFanOut) BindScheduler(s *sched.Scheduler) {
	tf.scheduler = s
}

// schedulable is implemented by sources whose blocking read releases the
// scheduling lock (accessor.Queue does).
type schedulable interface {
	BindScheduler(*sched.Scheduler, *sched.Token)
}

// Start launches the pump goroutine. It terminates when the source is
// closed.
func (tf *ThreadedFanOut) Start() {
	if tf.scheduler != nil {
		tf.token = tf.scheduler.Register("fanout:" + tf.source.Name())
		if sb, ok := tf.source.(schedulable); ok {
			sb.BindScheduler(tf.scheduler, tf.token)
		}
	}
	tf.wg.Add(1)
	go tf.run()
}

// Wait blocks until the pump goroutine has terminated.
func (tf *ThreadedFanOut) Wait() {
	tf.wg.Wait()
}

func (tf *ThreadedFanOut) run() {
	defer tf.wg.Done()
	if tf.scheduler != nil {
		tf.scheduler.Lock(tf.token)
		defer tf.scheduler.Unlock(tf.token)
	}
	for {
		t, ok := tf.source.Read()
		if !ok {
			tf.logger.Debug("threaded fan-out terminating", logging.EndpointField(tf.source.Name()))
			return
		}
		tf.out.Send(t)
	}
}
