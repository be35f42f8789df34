package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-flownet/pkg/accessor"
	"github.com/dd0wney/cluso-flownet/pkg/logging"
	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

func intTransfer(v int64) accessor.Transfer {
	return accessor.Transfer{Value: variant.Int64s(v), Validity: accessor.Ok, Version: accessor.NextVersion()}
}

// recordingSender captures everything sent to it
type recordingSender struct {
	mu   sync.Mutex
	got  []int64
	vals []accessor.Transfer
}

func (r *recordingSender) Send(t accessor.Transfer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, _ := t.Value.ScalarInt64()
	r.got = append(r.got, v)
	r.vals = append(r.vals, t)
}

func (r *recordingSender) values() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.got...)
}

// TestFanOutDeliversToAllConsumers verifies every consumer sees every
// value in order
func TestFanOutDeliversToAllConsumers(t *testing.T) {
	a, b, c := &recordingSender{}, &recordingSender{}, &recordingSender{}
	f := New(a, b, c)

	for i := int64(1); i <= 5; i++ {
		f.Send(intTransfer(i))
	}

	want := []int64{1, 2, 3, 4, 5}
	for name, r := range map[string]*recordingSender{"a": a, "b": b, "c": c} {
		got := r.values()
		if len(got) != len(want) {
			t.Fatalf("consumer %s received %d values, want %d", name, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("consumer %s position %d: got %d, want %d", name, i, got[i], want[i])
			}
		}
	}
}

// TestFanOutClonesValues: consumers must not share a value buffer
func TestFanOutClonesValues(t *testing.T) {
	a, b := &recordingSender{}, &recordingSender{}
	f := New(a, b)
	f.Send(intTransfer(1))

	a.mu.Lock()
	va, _ := a.vals[0].Value.AsInt64s()
	a.mu.Unlock()
	va[0] = 99

	b.mu.Lock()
	vb, _ := b.vals[0].Value.AsInt64s()
	b.mu.Unlock()
	if vb[0] != 1 {
		t.Errorf("consumer b saw mutation through shared buffer: %d", vb[0])
	}
}

// TestSlowConsumerDropsOnlyItsOwnValues: a full consumer queue never
// blocks the feeder nor affects faster consumers
func TestSlowConsumerDropsOnlyItsOwnValues(t *testing.T) {
	accessor.GetAndResetDataLossCounter()
	slow := accessor.NewQueue("slow/in", accessor.Push, 1)
	fast := accessor.NewQueue("fast/in", accessor.Push, 16)
	f := New(slow, fast)

	for i := int64(1); i <= 10; i++ {
		f.Send(intTransfer(i))
	}

	// The fast consumer has all ten values.
	for want := int64(1); want <= 10; want++ {
		tr, ok := fast.TryRead()
		if !ok {
			t.Fatalf("fast consumer missing value %d", want)
		}
		if got, _ := tr.Value.ScalarInt64(); got != want {
			t.Errorf("fast consumer got %d, want %d", got, want)
		}
	}

	// The slow consumer kept only the newest.
	tr, ok := slow.TryRead()
	if !ok {
		t.Fatal("slow consumer has nothing")
	}
	if got, _ := tr.Value.ScalarInt64(); got != 10 {
		t.Errorf("slow consumer got %d, want 10", got)
	}
	if lost := accessor.GetAndResetDataLossCounter(); lost != 9 {
		t.Errorf("data loss counter = %d, want 9", lost)
	}
}

// TestDropOldestPreservesSubsequence: whatever a consumer receives is a
// subsequence of what was sent ending with the newest value
func TestDropOldestPreservesSubsequence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("received is an order-preserving subsequence ending with the last send", prop.ForAll(
		func(depth int, count int) bool {
			q := accessor.NewQueue("prop/in", accessor.Push, depth)
			f := New(q)
			for i := 1; i <= count; i++ {
				f.Send(intTransfer(int64(i)))
			}
			var got []int64
			for {
				tr, ok := q.TryRead()
				if !ok {
					break
				}
				v, _ := tr.Value.ScalarInt64()
				got = append(got, v)
			}
			if len(got) == 0 || len(got) > depth {
				return false
			}
			if got[len(got)-1] != int64(count) {
				return false
			}
			for i := 1; i < len(got); i++ {
				if got[i] <= got[i-1] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

// pollSource is a Poller returning successive values
type pollSource struct {
	mu sync.Mutex
	n  int64
}

func (p *pollSource) Poll() accessor.Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return intTransfer(p.n)
}

// TestConsumingFanOutBroadcastsOnRead: the polling consumer's read is the
// only trigger, and every poll reaches the push consumers
func TestConsumingFanOutBroadcastsOnRead(t *testing.T) {
	src := &pollSource{}
	extra := accessor.NewQueue("extra/in", accessor.Push, 4)
	cf := NewConsuming("poller/in", src, New(extra))

	tr, ok := cf.Read()
	if !ok {
		t.Fatal("read failed")
	}
	if got, _ := tr.Value.ScalarInt64(); got != 1 {
		t.Errorf("polling consumer got %d, want 1", got)
	}

	etr, ok := extra.TryRead()
	if !ok {
		t.Fatal("push consumer missed the broadcast")
	}
	if got, _ := etr.Value.ScalarInt64(); got != 1 {
		t.Errorf("push consumer got %d, want 1", got)
	}

	// No read, no poll: the source must not have advanced.
	src.mu.Lock()
	polled := src.n
	src.mu.Unlock()
	if polled != 1 {
		t.Errorf("feeder polled %d times, want 1", polled)
	}
}

// TestConsumingFanOutCloseStopsReads verifies shutdown behaviour
func TestConsumingFanOutCloseStopsReads(t *testing.T) {
	cf := NewConsuming("poller/in", &pollSource{}, New())
	if _, ok := cf.Read(); !ok {
		t.Fatal("read before close failed")
	}
	cf.Close()
	if _, ok := cf.Read(); ok {
		t.Error("read after close reported ok")
	}
}

// TestTriggerFanOutOnePullPerPulse: each trigger pulse causes exactly one
// poll and one broadcast
func TestTriggerFanOutOnePullPerPulse(t *testing.T) {
	pulses := accessor.NewQueue("timer/tick", accessor.Push, 4)
	src := &pollSource{}
	out := accessor.NewQueue("mod/in", accessor.Push, 4)
	tf := NewTrigger(pulses, src, New(out), logging.NewNopLogger())
	tf.Start()

	void := func() accessor.Transfer {
		return accessor.Transfer{Value: variant.Void(), Validity: accessor.Ok, Version: accessor.NextVersion()}
	}
	pulses.Send(void())
	pulses.Send(void())

	deadline := time.After(time.Second)
	var got []int64
	for len(got) < 2 {
		select {
		case <-deadline:
			t.Fatalf("received %d broadcasts, want 2", len(got))
		default:
		}
		if tr, ok := out.TryRead(); ok {
			v, _ := tr.Value.ScalarInt64()
			got = append(got, v)
		} else {
			time.Sleep(time.Millisecond)
		}
	}

	if got[0] != 1 || got[1] != 2 {
		t.Errorf("polled values %v, want [1 2]", got)
	}

	pulses.Close()
	tf.Wait()

	src.mu.Lock()
	polled := src.n
	src.mu.Unlock()
	if polled != 2 {
		t.Errorf("feeder polled %d times, want 2", polled)
	}
}

// TestThreadedFanOutPumps verifies the pump forwards until source close
func TestThreadedFanOutPumps(t *testing.T) {
	srcQueue := accessor.NewQueue("dev/reg", accessor.Push, 8)
	out := accessor.NewQueue("mod/in", accessor.Push, 8)
	tf := NewThreaded(srcQueue, New(out), logging.NewNopLogger())
	tf.Start()

	srcQueue.Send(intTransfer(1))
	srcQueue.Send(intTransfer(2))

	deadline := time.After(time.Second)
	var got []int64
	for len(got) < 2 {
		select {
		case <-deadline:
			t.Fatalf("received %d values, want 2", len(got))
		default:
		}
		if tr, ok := out.TryRead(); ok {
			v, _ := tr.Value.ScalarInt64()
			got = append(got, v)
		} else {
			time.Sleep(time.Millisecond)
		}
	}

	srcQueue.Close()
	tf.Wait()
}
