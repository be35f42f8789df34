package app

import (
	"errors"
	"fmt"
)

// ErrLogic matches every programming error raised by the orchestrator:
// mis-wired connections, lifecycle misuse, unknown names. These indicate
// bugs in the application setup, not runtime conditions.
var ErrLogic = errors.New("application logic error")

// LogicError carries the failing operation and detail.
type LogicError struct {
	Op  string
	Msg string
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("app: %s: %s", e.Op, e.Msg)
}

// Is lets errors.Is(err, ErrLogic) match all logic errors.
func (e *LogicError) Is(target error) bool {
	return target == ErrLogic
}

func logicErr(op, format string, args ...any) *LogicError {
	return &LogicError{Op: op, Msg: fmt.Sprintf(format, args...)}
}
