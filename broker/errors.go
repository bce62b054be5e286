package broker

import "fmt"

// ErrMissingCredentials is returned when a credential field is absent
// at session creation. No session is minted and nothing reaches the
// remote provider.
type ErrMissingCredentials struct {
	Field string
}

func (e *ErrMissingCredentials) Error() string {
	return fmt.Sprintf("missing credential field: %s", e.Field)
}

// ErrInvalidSession is returned when a session id is unknown, expired,
// or revoked at resolution time.
type ErrInvalidSession struct {
	ID string
}

func (e *ErrInvalidSession) Error() string {
	return fmt.Sprintf("invalid session: %s", e.ID)
}
