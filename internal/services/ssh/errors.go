package ssh

import "fmt"

// ConnectionError is returned when the VPS cannot be reached or refuses authentication.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError is returned when a remote command exits with a non-zero status.
type CommandError struct {
	Command    string
	ExitStatus int
	Output     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with status: %d", e.Command, e.ExitStatus)
}
