package accessor

import (
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-flownet/pkg/variant"
)

func intTransfer(v int64) Transfer {
	return Transfer{Value: variant.Int64s(v), Validity: Ok, Version: NextVersion()}
}

func mustInt(t *testing.T, tr Transfer) int64 {
	t.Helper()
	v, err := tr.Value.ScalarInt64()
	if err != nil {
		t.Fatalf("scalar: %v", err)
	}
	return v
}

// TestPushQueueDropsOldest: a full push queue drops the oldest unread
// value and counts the loss, never blocking the writer
func TestPushQueueDropsOldest(t *testing.T) {
	GetAndResetDataLossCounter()
	q := NewQueue("mod/in", Push, 1)

	q.Send(intTransfer(1))
	q.Send(intTransfer(2))
	q.Send(intTransfer(3))

	tr, ok := q.TryRead()
	if !ok {
		t.Fatal("no transfer pending")
	}
	if got := mustInt(t, tr); got != 3 {
		t.Errorf("got %d, want 3 (latest value survives)", got)
	}
	if _, ok := q.TryRead(); ok {
		t.Error("queue should be empty after one read")
	}
	if lost := GetAndResetDataLossCounter(); lost != 2 {
		t.Errorf("data loss counter = %d, want 2", lost)
	}
}

// TestPushQueueKeepsOrder verifies FIFO delivery below capacity
func TestPushQueueKeepsOrder(t *testing.T) {
	q := NewQueue("mod/in", Push, 3)
	q.Send(intTransfer(1))
	q.Send(intTransfer(2))
	q.Send(intTransfer(3))
	for want := int64(1); want <= 3; want++ {
		tr, ok := q.TryRead()
		if !ok {
			t.Fatalf("missing transfer %d", want)
		}
		if got := mustInt(t, tr); got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

// TestPollQueueKeepsLatestOnly verifies poll mode overwrites
func TestPollQueueKeepsLatestOnly(t *testing.T) {
	GetAndResetDataLossCounter()
	q := NewQueue("mod/in", Poll, 0)
	q.Send(intTransfer(1))
	q.Send(intTransfer(2))

	tr, ok := q.Read()
	if !ok {
		t.Fatal("poll read failed")
	}
	if got := mustInt(t, tr); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	// Overwriting a poll value is not data loss.
	if lost := DataLossCounter(); lost != 0 {
		t.Errorf("data loss counter = %d, want 0", lost)
	}
}

// TestPollTryReadConsumesOnce: a poll queue reports a pending value
// exactly once per write
func TestPollTryReadConsumesOnce(t *testing.T) {
	q := NewQueue("mod/in", Poll, 0)
	q.Send(intTransfer(7))
	if _, ok := q.TryRead(); !ok {
		t.Fatal("first TryRead should see the value")
	}
	if _, ok := q.TryRead(); ok {
		t.Error("second TryRead should see nothing new")
	}
}

// TestBlockingReadWakesOnSend verifies a parked reader gets the value
func TestBlockingReadWakesOnSend(t *testing.T) {
	q := NewQueue("mod/in", Push, 3)
	got := make(chan int64, 1)
	go func() {
		tr, ok := q.Read()
		if !ok {
			close(got)
			return
		}
		v, _ := tr.Value.ScalarInt64()
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Send(intTransfer(42))

	select {
	case v := <-got:
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("reader never woke up")
	}
}

// TestCloseUnblocksReader verifies shutdown releases parked readers
func TestCloseUnblocksReader(t *testing.T) {
	q := NewQueue("mod/in", Push, 3)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Read()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("read after close should report ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("reader never unblocked")
	}
}

// TestBufferedValuesSurviveClose: transfers sent before shutdown are still
// delivered
func TestBufferedValuesSurviveClose(t *testing.T) {
	q := NewQueue("mod/in", Push, 3)
	q.Send(intTransfer(5))
	q.Close()

	tr, ok := q.Read()
	if !ok {
		t.Fatal("buffered transfer lost on close")
	}
	if got := mustInt(t, tr); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
	if _, ok := q.Read(); ok {
		t.Error("empty closed queue should report ok=false")
	}
}

// TestConcurrentSendRead hammers the queue from both sides
func TestConcurrentSendRead(t *testing.T) {
	q := NewQueue("mod/in", Push, 8)
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	var received int
	var reordered bool
	go func() {
		defer wg.Done()
		var last int64
		for {
			tr, ok := q.Read()
			if !ok {
				return
			}
			got, _ := tr.Value.ScalarInt64()
			if got < last {
				// Drops are allowed, reordering is not.
				reordered = true
			}
			last = got
			received++
		}
	}()

	for i := int64(1); i <= n; i++ {
		q.Send(intTransfer(i))
	}
	time.Sleep(50 * time.Millisecond)
	q.Close()
	wg.Wait()

	if received == 0 {
		t.Error("nothing received")
	}
	if received > n {
		t.Errorf("received %d transfers, sent only %d", received, n)
	}
	if reordered {
		t.Error("transfers delivered out of order")
	}
}

// TestReadAnyGroupRoundRobin: one busy queue cannot starve the others
func TestReadAnyGroupRoundRobin(t *testing.T) {
	q1 := NewQueue("mod/a", Push, 4)
	q2 := NewQueue("mod/b", Push, 4)
	g := NewReadAnyGroup(q1, q2)

	q1.Send(intTransfer(1))
	q1.Send(intTransfer(2))
	q2.Send(intTransfer(10))

	seen := map[int]int{}
	for i := 0; i < 3; i++ {
		idx, _, ok := g.ReadAny()
		if !ok {
			t.Fatal("group closed unexpectedly")
		}
		seen[idx]++
	}
	if seen[0] != 2 || seen[1] != 1 {
		t.Errorf("round robin delivered %v, want 2 from q1 and 1 from q2", seen)
	}
}

// TestReadAnyGroupBlocksAndWakes verifies the group parks and wakes
func TestReadAnyGroupBlocksAndWakes(t *testing.T) {
	q1 := NewQueue("mod/a", Push, 4)
	q2 := NewQueue("mod/b", Push, 4)
	g := NewReadAnyGroup(q1, q2)

	got := make(chan int, 1)
	go func() {
		idx, _, ok := g.ReadAny()
		if !ok {
			close(got)
			return
		}
		got <- idx
	}()

	time.Sleep(10 * time.Millisecond)
	q2.Send(intTransfer(9))

	select {
	case idx := <-got:
		if idx != 1 {
			t.Errorf("woke on queue %d, want 1", idx)
		}
	case <-time.After(time.Second):
		t.Fatal("group never woke")
	}
}

// TestReadAnyGroupClose verifies closing any member unblocks the group
func TestReadAnyGroupClose(t *testing.T) {
	q1 := NewQueue("mod/a", Push, 4)
	q2 := NewQueue("mod/b", Push, 4)
	g := NewReadAnyGroup(q1, q2)

	done := make(chan bool, 1)
	go func() {
		_, _, ok := g.ReadAny()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q1.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("closed group should report ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("group never unblocked on close")
	}
}

// TestConstantPropagatesOnce verifies constants deliver to all targets
func TestConstantPropagatesOnce(t *testing.T) {
	c := NewConstant("constant:mod/in", variant.Int64s(11))
	q1 := NewQueue("mod/in", Push, 3)
	q2 := NewQueue("other/in", Push, 3)
	c.AddTarget(q1)
	c.AddTarget(q2)

	version := NextVersion()
	c.Propagate(version)

	for _, q := range []*Queue{q1, q2} {
		tr, ok := q.TryRead()
		if !ok {
			t.Fatalf("constant missing on %s", q.Name())
		}
		if got := mustInt(t, tr); got != 11 {
			t.Errorf("got %d, want 11", got)
		}
		if tr.Version != version {
			t.Errorf("version %d, want %d", tr.Version, version)
		}
	}
}
