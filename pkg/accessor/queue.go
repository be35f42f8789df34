package accessor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-flownet/pkg/sched"
)

// DefaultQueueDepth is the queue depth used when a node does not request
// its own.
const DefaultQueueDepth = 3

// Queue is the single-consumer endpoint implementation. In push mode it
// buffers up to depth transfers; a full queue drops the oldest unread
// transfer and counts the loss, so the feeder never blocks. In poll mode
// it only keeps the latest written value.
//
// A queue is written by exactly one producer and read by exactly one
// consumer goroutine. The scheduling binding, if set, releases the global
// testable-mode lock while the reader is blocked.
type Queue struct {
	name  string
	id    uuid.UUID
	mode  UpdateMode
	depth int

	ch chan Transfer

	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	latest    Transfer
	hasLatest bool
	notify    chan<- struct{} // read-any group wakeup, nil unless grouped; guarded by mu

	scheduler *sched.Scheduler
	token     *sched.Token
}

// NewQueue creates an endpoint queue. depth is only meaningful for push
// mode; values below one fall back to DefaultQueueDepth.
func NewQueue(name string, mode UpdateMode, depth int) *Queue {
	if depth < 1 {
		depth = DefaultQueueDepth
	}
	q := &Queue{
		name:  name,
		id:    uuid.New(),
		mode:  mode,
		depth: depth,
		done:  make(chan struct{}),
	}
	if mode == Push {
		q.ch = make(chan Transfer, depth)
	}
	return q
}

// Name returns the qualified endpoint name.
func (q *Queue) Name() string { return q.name }

// ID returns the endpoint's unique identity.
func (q *Queue) ID() uuid.UUID { return q.id }

// Mode returns the endpoint's update mode.
func (q *Queue) Mode() UpdateMode { return q.mode }

// Depth returns the push queue depth.
func (q *Queue) Depth() int { return q.depth }

// BindScheduler attaches the testable-mode scheduler together with the
// token of the goroutine that owns the consuming side. Done once during
// connection finalisation, before any goroutine runs.
func (q *Queue) BindScheduler(s *sched.Scheduler, tok *sched.Token) {
	q.scheduler = s
	q.token = tok
}

// joinGroup registers the queue with a read-any group wakeup channel.
func (q *Queue) joinGroup(notify chan<- struct{}) {
	q.mu.Lock()
	q.notify = notify
	q.mu.Unlock()
}

// Close unblocks the reader permanently. Used during application
// teardown.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.wake()
	})
}

// Closed reports whether the queue was shut down.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Send delivers a transfer to the consumer. Never blocks: on a full push
// queue the oldest unread transfer is dropped and the process-wide data
// loss counter incremented. Poll mode overwrites the latest value.
func (q *Queue) Send(t Transfer) {
	if q.mode == Poll {
		q.mu.Lock()
		q.latest = t
		q.hasLatest = true
		q.mu.Unlock()
		return
	}
	for {
		select {
		case q.ch <- t:
			noteTransferSent(q.name)
			if q.scheduler != nil {
				q.scheduler.TransferSent(q.name)
			}
			q.wake()
			return
		default:
			// Queue full: drop this consumer's oldest unread value.
			select {
			case <-q.ch:
				IncrementDataLossCounter(q.name)
				if q.scheduler != nil {
					q.scheduler.TransferDropped(q.name)
				}
			default:
				// Reader raced us and emptied the queue; retry the send.
			}
		}
	}
}

func (q *Queue) wake() {
	q.mu.Lock()
	notify := q.notify
	q.mu.Unlock()
	if notify == nil {
		return
	}
	select {
	case notify <- struct{}{}:
	default:
	}
}

// Read blocks on a push queue until a transfer arrives, releasing the
// scheduling lock while blocked. On a poll queue it returns the latest
// written value immediately (zero Transfer with VersionUnset if nothing
// was ever written). ok is false once the queue is closed.
func (q *Queue) Read() (Transfer, bool) {
	if q.mode == Poll {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.latest, !q.Closed()
	}
	// Values buffered before shutdown are still delivered.
	if t, ok := q.TryRead(); ok {
		return t, true
	}
	if q.scheduler != nil {
		q.scheduler.Unlock(q.token)
	}
	var t Transfer
	ok := true
	select {
	case t = <-q.ch:
	case <-q.done:
		// Drain anything that raced the close.
		select {
		case t = <-q.ch:
		default:
			ok = false
		}
	}
	if q.scheduler != nil {
		q.scheduler.Lock(q.token)
		if ok {
			q.scheduler.TransferTaken(q.name)
		}
	}
	if ok {
		q.mu.Lock()
		q.latest = t
		q.hasLatest = true
		q.mu.Unlock()
	}
	return t, ok
}

// TryRead returns a pending push transfer without blocking. Poll queues
// report a pending value exactly once per write.
func (q *Queue) TryRead() (Transfer, bool) {
	if q.mode == Poll {
		q.mu.Lock()
		defer q.mu.Unlock()
		if !q.hasLatest {
			return Transfer{}, false
		}
		q.hasLatest = false
		return q.latest, true
	}
	select {
	case t := <-q.ch:
		if q.scheduler != nil {
			q.scheduler.TransferTaken(q.name)
		}
		q.mu.Lock()
		q.latest = t
		q.hasLatest = true
		q.mu.Unlock()
		return t, true
	default:
		return Transfer{}, false
	}
}

// Latest returns the most recently read or polled transfer. Used to hold
// the last known value while a source reports faulty.
func (q *Queue) Latest() Transfer {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest
}

// Pending reports how many unread push transfers are buffered.
func (q *Queue) Pending() int {
	if q.mode != Push {
		return 0
	}
	return len(q.ch)
}
