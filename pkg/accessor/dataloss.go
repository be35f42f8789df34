package accessor

import "sync/atomic"

// Process-wide counter of write operations that overwrote unread data.
// Kept here so queues can count losses without depending on the metrics
// registry; the application installs a hook to mirror it into metrics.
var (
	dataLossCounter atomic.Uint64
	dataLossHook    atomic.Pointer[func(endpoint string)]
)

// IncrementDataLossCounter counts one dropped unread transfer.
func IncrementDataLossCounter(endpoint string) {
	dataLossCounter.Add(1)
	if hook := dataLossHook.Load(); hook != nil {
		(*hook)(endpoint)
	}
}

// DataLossCounter returns the current number of dropped transfers.
func DataLossCounter() uint64 {
	return dataLossCounter.Load()
}

// GetAndResetDataLossCounter returns the counter and resets it to zero.
// Mainly used between test steps.
func GetAndResetDataLossCounter() uint64 {
	return dataLossCounter.Swap(0)
}

// SetDataLossHook installs a callback invoked on every loss, e.g. to bump
// a metrics counter. Pass nil to remove.
func SetDataLossHook(hook func(endpoint string)) {
	if hook == nil {
		dataLossHook.Store(nil)
		return
	}
	dataLossHook.Store(&hook)
}

var transferSentHook atomic.Pointer[func(endpoint string)]

// SetTransferSentHook installs a callback invoked on every delivered push
// transfer. Pass nil to remove.
func SetTransferSentHook(hook func(endpoint string)) {
	if hook == nil {
		transferSentHook.Store(nil)
		return
	}
	transferSentHook.Store(&hook)
}

func noteTransferSent(endpoint string) {
	if hook := transferSentHook.Load(); hook != nil {
		(*hook)(endpoint)
	}
}
