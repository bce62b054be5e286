package remote

import "fmt"

// ErrOperationFailed is returned when the provider answered but
// reported an error or a non-success result for the operation.
type ErrOperationFailed struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ErrOperationFailed) Error() string {
	return fmt.Sprintf("remote %s failed (status %d): %s", e.Op, e.StatusCode, e.Message)
}

// ErrTransport is returned when the provider could not be reached or
// the exchange failed below the HTTP layer.
type ErrTransport struct {
	Op  string
	Err error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *ErrTransport) Unwrap() error {
	return e.Err
}

// ErrTimeout is returned when the per-call deadline elapsed before the
// provider responded.
type ErrTimeout struct {
	Op string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("remote %s timed out", e.Op)
}
