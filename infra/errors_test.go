package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
)

// TestTransientClassification checks which errors take the retry path.
func TestTransientClassification(t *testing.T) {
	base := errors.New("gpu oom")

	if IsTransient(base) {
		t.Fatal("plain error classified as transient")
	}
	if !IsTransient(Transient(base)) {
		t.Fatal("wrapped error not classified as transient")
	}
	if !IsTransient(fmt.Errorf("load model: %w", Transient(base))) {
		t.Fatal("nested wrapped error not classified as transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline not classified as transient")
	}
	if !IsTransient(&net.OpError{Op: "dial", Err: os.ErrDeadlineExceeded}) {
		t.Fatal("network error not classified as transient")
	}
	if IsTransient(nil) {
		t.Fatal("nil classified as transient")
	}
}

// TestTransientPreservesCause checks that the original error stays
// reachable through the wrapper.
func TestTransientPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Transient(cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("cause lost through Transient wrapper")
	}
	if Transient(nil) != nil {
		t.Fatal("Transient(nil) not nil")
	}
}
