package ssh

import (
	"context"
	"errors"
)

// Check runs a check command. A zero exit means true, a non-zero exit
// means false; transport failures are returned as errors.
func Check(ctx context.Context, ch Channel, command string) (bool, error) {
	_, err := ch.Execute(ctx, command)
	if err == nil {
		return true, nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return false, nil
	}
	return false, err
}

// ProcessRunning reports whether a process matching name runs on the host.
func ProcessRunning(ctx context.Context, ch Channel, name string) (bool, error) {
	return Check(ctx, ch, "ps cax | grep "+Quote(name)+" > /dev/null")
}
