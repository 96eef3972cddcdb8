package fetch

import (
	"errors"
	"fmt"
)

// ErrFrameDepthExceeded marks a malformed frame chain; it is fatal, never retried.
var ErrFrameDepthExceeded = errors.New("frame depth exceeded")

// Error is a terminal fetch failure after retries were exhausted.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
