package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError is a failure talking to the completion service: connection
// errors, timeouts, cancellations and non-2xx responses. It is never retried
// by the client.
type TransportError struct {
	// Op is the operation that failed ("request", "read").
	Op string

	// URL is the endpoint that was called.
	URL string

	// StatusCode is the HTTP status for non-2xx responses, 0 otherwise.
	StatusCode int

	// Body is the start of the response body for non-2xx responses.
	Body string

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ollama: %s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("ollama: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline or network timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// ProtocolError is a malformed or non-terminating streamed response.
type ProtocolError struct {
	// Reason is a short description ("stream ended without done", ...).
	Reason string

	// Line is the 1-based line of the stream where the problem was found.
	Line int

	Err error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("ollama: protocol error at line %d: %s", e.Line, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
