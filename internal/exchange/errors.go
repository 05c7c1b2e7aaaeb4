package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrEncodingFailed marks a request that never left the client because
	// the captured audio could not be read or encoded.
	ErrEncodingFailed = errors.New("could not encode recorded audio")

	// ErrTransportUnreachable marks a network-level failure reaching the
	// backend. The dominant real-world cause is the backend process not
	// running, so user-facing messages built from it must say so.
	ErrTransportUnreachable = errors.New("cannot reach chatbot backend")

	// ErrMalformedReply marks a response body that did not decode as the
	// expected structure.
	ErrMalformedReply = errors.New("malformed backend reply")
)

// BackendError is returned when the backend was reachable but answered with
// a non-success status. It carries the literal status code and body.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (%d): %s", e.StatusCode, e.Body)
}
