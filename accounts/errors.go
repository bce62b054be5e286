package accounts

import "fmt"

type ErrProfileNotFound struct {
	ID string
}

func (e *ErrProfileNotFound) Error() string {
	return fmt.Sprintf("profile not found: %s", e.ID)
}

type ErrNoActiveSession struct {
	ProfileID string
}

func (e *ErrNoActiveSession) Error() string {
	return fmt.Sprintf("no active session for profile: %s", e.ProfileID)
}

type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal account store error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}
