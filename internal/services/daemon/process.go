package daemon

import (
	"fmt"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

const commLen = 15

// ProcessLister lists local processes; ps.Processes in production.
type ProcessLister func() ([]ps.Process, error)

// AlreadyRunning reports whether a process with the given executable name
// is running on this machine.
func AlreadyRunning(name string) (bool, error) {
	return alreadyRunning(ps.Processes, name)
}

func alreadyRunning(list ProcessLister, name string) (bool, error) {
	procs, err := list()
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, p := range procs {
		exe := strings.TrimSuffix(p.Executable(), ".exe")
		if exe == name {
			return true, nil
		}
		// Linux reports at most 15 bytes of the command name.
		if len(exe) == commLen && strings.HasPrefix(name, exe) {
			return true, nil
		}
	}
	return false, nil
}
