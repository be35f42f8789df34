package network

import (
	"errors"
	"fmt"
)

// ErrIllegalNetwork is the sentinel for all malformed-network conditions.
// These are configuration errors: fatal, raised during finalisation, and
// they prevent the application from running.
var ErrIllegalNetwork = errors.New("illegal variable network")

// IllegalNetworkError carries a human-readable cause together with a
// description of the offending network.
type IllegalNetworkError struct {
	Cause   string
	Network string
}

func (e *IllegalNetworkError) Error() string {
	if e.Network == "" {
		return fmt.Sprintf("illegal variable network: %s", e.Cause)
	}
	return fmt.Sprintf("illegal variable network %s: %s", e.Network, e.Cause)
}

// Is makes errors.Is(err, ErrIllegalNetwork) match.
func (e *IllegalNetworkError) Is(target error) bool {
	return target == ErrIllegalNetwork
}

func illegal(net *VariableNetwork, format string, args ...any) error {
	desc := ""
	if net != nil {
		desc = net.Describe()
	}
	return &IllegalNetworkError{Cause: fmt.Sprintf(format, args...), Network: desc}
}
