package accessor

import "github.com/dd0wney/cluso-flownet/pkg/sched"

// ReadAnyGroup blocks across a set of push-mode queues owned by the same
// module and returns whichever fires first. The wakeup channel is sized
// for the sum of all member depths so a send can never lose its wakeup.
type ReadAnyGroup struct {
	queues []*Queue
	notify chan struct{}
	next   int // round-robin start so one busy queue cannot starve others

	scheduler *sched.Scheduler
	token     *sched.Token
}

// NewReadAnyGroup groups push queues for a combined blocking wait. Must be
// called during wiring, before any transfers flow.
func NewReadAnyGroup(queues ...*Queue) *ReadAnyGroup {
	total := 0
	for _, q := range queues {
		total += q.Depth()
	}
	// One extra slot for the close wakeup.
	g := &ReadAnyGroup{
		queues: queues,
		notify: make(chan struct{}, total+1),
	}
	for _, q := range queues {
		q.joinGroup(g.notify)
	}
	return g
}

// BindScheduler attaches the testable-mode scheduler and the owning
// goroutine's token, mirroring Queue.BindScheduler.
func (g *ReadAnyGroup) BindScheduler(s *sched.Scheduler, tok *sched.Token) {
	g.scheduler = s
	g.token = tok
}

// ReadAny blocks until any member queue holds a transfer and returns the
// member index together with the transfer. ok is false once any member
// has been closed and no buffered transfers remain.
func (g *ReadAnyGroup) ReadAny() (int, Transfer, bool) {
	for {
		n := len(g.queues)
		for off := 0; off < n; off++ {
			i := (g.next + off) % n
			if t, ok := g.queues[i].TryRead(); ok {
				g.next = i + 1
				return i, t, true
			}
		}
		for _, q := range g.queues {
			if q.Closed() {
				return -1, Transfer{}, false
			}
		}
		if g.scheduler != nil {
			g.scheduler.Unlock(g.token)
		}
		<-g.notify
		if g.scheduler != nil {
			g.scheduler.Lock(g.token)
		}
	}
}
