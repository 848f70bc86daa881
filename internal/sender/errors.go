package sender

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by channels after Close.
var ErrClosed = errors.New("channel closed")

// ErrNotReady is returned when a channel is asked to send before it is open.
var ErrNotReady = errors.New("channel not ready")

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("channel panicked: %v", e.value)
}
