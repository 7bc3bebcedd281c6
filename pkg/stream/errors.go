package stream

import "fmt"

// TransportError is a connection-level failure that exhausted the retry
// budget. It is terminal: the connection will not reconnect on its own.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is an engine-reported failure delivered as a structured
// in-band error event. Terminal only when Recoverable is false.
type UpstreamError struct {
	Code        string
	Message     string
	Recoverable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %s: %s (recoverable=%t)", e.Code, e.Message, e.Recoverable)
}
