package daemon

import "fmt"

// StartError is returned when the local daemon fails to launch or exits
// within the startup grace period.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("local daemon failed to start: %v", e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// StopError is returned when the stop request to the local daemon fails.
type StopError struct {
	Err error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("local daemon failed to stop: %v", e.Err)
}

func (e *StopError) Unwrap() error {
	return e.Err
}
