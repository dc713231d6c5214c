package model

import (
	"errors"
	"fmt"
)

// ErrMissingTarget is returned when a request names no target site.
var ErrMissingTarget = errors.New("missing target: use /?site=<absolute URL> or /proxy/<percent-encoded URL>")

// InvalidTargetError reports a target string that is not an absolute URL.
type InvalidTargetError struct {
	Raw string
	Err error
}

func (e *InvalidTargetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid target %q: %v", e.Raw, e.Err)
	}
	return fmt.Sprintf("invalid target %q", e.Raw)
}

func (e *InvalidTargetError) Unwrap() error { return e.Err }

// UpstreamUnreachableError wraps connection-level failures (DNS, TLS, refused, timeout).
type UpstreamUnreachableError struct {
	Target string
	Err    error
}

func (e *UpstreamUnreachableError) Error() string {
	return fmt.Sprintf("upstream %s unreachable: %v", e.Target, e.Err)
}

func (e *UpstreamUnreachableError) Unwrap() error { return e.Err }

// StreamTransferError wraps failures while reading the upstream body.
type StreamTransferError struct {
	Err error
}

func (e *StreamTransferError) Error() string {
	return fmt.Sprintf("reading upstream body: %v", e.Err)
}

func (e *StreamTransferError) Unwrap() error { return e.Err }

// DecodeError reports a malformed compressed payload.
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s body: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
