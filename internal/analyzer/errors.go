package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrDetectionUnavailable marks an analysis that failed because an entity
// source was unreachable, failed or timed out. No partial result is returned.
var ErrDetectionUnavailable = errors.New("detection unavailable")

// SourceError records which entity source failed. It matches both
// ErrDetectionUnavailable and the underlying error.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: source %s: %v", ErrDetectionUnavailable, e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrDetectionUnavailable, e.Err}
}

// Timeout reports whether the source failed by running out of time.
func (e *SourceError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// IsTimeout reports whether err is a source failure caused by a timeout.
func IsTimeout(err error) bool {
	var srcErr *SourceError
	return errors.As(err, &srcErr) && srcErr.Timeout()
}
