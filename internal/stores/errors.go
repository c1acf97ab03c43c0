package stores

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a store failure for retry and severity decisions.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindUnavailable   Kind = "unavailable"
	KindTimeout       Kind = "timeout"
)

// StoreError is the only error the adapters return. Op names the logical
// operation; the target's address never appears in the message, so the
// error is safe to surface in a response body.
type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the operation may succeed. Validation
// and authorization failures are terminal; the retry executor checks this.
func (e *StoreError) Temporary() bool {
	return e.Kind == KindUnavailable || e.Kind == KindTimeout
}

// kindFromStatus maps an HTTP response status to a failure kind. Shape and
// auth rejections are terminal; 429 and 5xx are worth retrying.
func kindFromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthorization
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindUnavailable
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindUnavailable
	}
}

// classifyTransport maps a transport-level failure (no HTTP response) to a
// kind: deadline and timeout errors count against the target as timeouts,
// everything else as unavailability.
func classifyTransport(op string, err error) *StoreError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &StoreError{Kind: KindTimeout, Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &StoreError{Kind: KindTimeout, Op: op, Err: err}
	}
	return &StoreError{Kind: KindUnavailable, Op: op, Err: err}
}
