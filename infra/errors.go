package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTransient marks failures worth retrying (network blips, store
// timeouts, model download hiccups). Anything not wrapped with it is
// treated as a permanent processing failure.
var ErrTransient = errors.New("transient failure")

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
