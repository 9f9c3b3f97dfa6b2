package provision

import "fmt"

// OSMismatchError is returned when the VPS does not run the expected Ubuntu release.
type OSMismatchError struct {
	Expected string
	Output   string
}

func (e *OSMismatchError) Error() string {
	return fmt.Sprintf("unsupported operating system, expected Ubuntu %s", e.Expected)
}

// DaemonAlreadyRunningError is returned when the node daemon already runs on the VPS.
type DaemonAlreadyRunningError struct {
	Daemon string
}

func (e *DaemonAlreadyRunningError) Error() string {
	return fmt.Sprintf("the %q daemon is currently running, please stop it and try again", e.Daemon)
}
