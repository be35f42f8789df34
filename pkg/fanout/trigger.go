package fanout

import (
	"sync"

	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/sched"
)

// TriggerFanOut drives a poll-mode feeder from an external trigger
// network. Each pulse received on the trigger endpoint causes exactly one
// poll of the feeder followed by one broadcast to all consumers, strictly
// in that order and never interleaved with other pulses of the same
// trigger network.
type TriggerFanOut struct {
	trigger Source
	feeder  Poller
	out     *FanOut
	logger  logging.Logger

	scheduler *sched.Scheduler
	token     *sched.Token

	wg sync.WaitGroup
}

// NewTrigger creates a trigger fan-out.
func NewTrigger(trigger Source, feeder Poller, out *FanOut, logger logging.Logger) *TriggerFanOut {
	return &TriggerFanOut{trigger: trigger, feeder: feeder, out: out, logger: logger}
}

// BindScheduler attaches the testable-mode scheduler.
func (tf *TriggerFanOut) BindScheduler(s *sched.Scheduler) {
	tf.scheduler = s
}

// Start launches the trigger-handling goroutine. It terminates when the
// trigger endpoint is closed.
func (tf *TriggerFanOut) Start() {
	if tf.scheduler != nil {
		tf.token = tf.scheduler.Register("trigger-fanout:" + tf.trigger.Name())
		if sb, ok := tf.trigger.(schedulable); ok {
			sb.BindScheduler(tf.scheduler, tf.token)
		}
	}
	tf.wg.Add(1)
	go tf.run()
}

// Wait blocks until the goroutine has terminated.
func (tf *TriggerFanOut) Wait() {
	tf.wg.Wait()
}

func (tf *TriggerFanOut) run() {
	defer tf.wg.Done()
	if tf.scheduler != nil {
		tf.scheduler.Lock(tf.token)
		defer tf.scheduler.Unlock(tf.token)
	}
	for {
		pulse, ok := tf.trigger.Read()
		if !ok {
			tf.logger.Debug("trigger fan-out terminating", logging.EndpointField(tf.trigger.Name()))
			return
		}
		// One pulse, one poll, one broadcast. The polled transfer takes
		// over the pulse's version so consumers can order trigger rounds.
		t := tf.feeder.Poll()
		if t.Version < pulse.Version {
			t.Version = pulse.Version
		}
		tf.out.Send(t)
	}
}
