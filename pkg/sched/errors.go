package sched

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for misuse of the scheduler. These belong to the
// configuration error taxonomy and may be matched with errors.Is.
var (
	ErrNotTestable    = errors.New("testable mode not enabled")
	ErrNothingPending = errors.New("no pending transfers")
)

// PendingTransfer names an endpoint still holding unread transfers when a
// step stalled.
type PendingTransfer struct {
	Endpoint string
	Count    int64
}

// TestsStalledError reports that a step made no progress for a bounded
// number of lock hand-offs. It is deliberately its own type, unrelated to
// any sentinel, so generic catch-log-continue error handling does not
// match it: a genuinely hung application should fail the test loudly.
type TestsStalledError struct {
	Pending []PendingTransfer
}

func (e *TestsStalledError) Error() string {
	if len(e.Pending) == 0 {
		return "tests stalled: no goroutine is making progress"
	}
	var b strings.Builder
	b.WriteString("tests stalled: transfers sent but never read:")
	for _, p := range e.Pending {
		fmt.Fprintf(&b, " %s(%d)", p.Endpoint, p.Count)
	}
	return b.String()
}

// IsTestsStalled reports whether err is a stall signal. This is the only
// sanctioned way to detect it; TestsStalledError matches no sentinel.
func IsTestsStalled(err error) bool {
	var stalled *TestsStalledError
	return errors.As(err, &stalled)
}
