package notification

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials is wrapped in a PermanentError when callback_user or
// callback_key is not configured.
var ErrMissingCredentials = errors.New("callback authentication information missing")

// PermanentError is a callback failure that retrying cannot fix.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("callback %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// RetryableError is a callback failure reported by the remote end, usually
// an httputil.HTTPStatusError.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("callback failed: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be delivered again later.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}
