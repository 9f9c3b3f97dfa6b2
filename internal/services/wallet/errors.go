package wallet

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies a failed wallet command.
type ErrorKind int

// Error kinds.
const (
	KindOther ErrorKind = iota
	KindLocked
	KindBadPassphrase
	KindWrongEncState
	KindWarmingUp
)

func (k ErrorKind) String() string {
	switch k {
	case KindLocked:
		return "locked"
	case KindBadPassphrase:
		return "bad passphrase"
	case KindWrongEncState:
		return "wrong encryption state"
	case KindWarmingUp:
		return "warming up"
	default:
		return "other"
	}
}

// RPC error codes reported by the wallet CLI.
const (
	codeInWarmup            = -28
	codeUnlockNeeded        = -13
	codePassphraseIncorrect = -14
	codeWrongEncState       = -15
)

// Sentinels matched by CommandError.Is.
var (
	ErrWalletLocked  = errors.New("wallet is locked")
	ErrBadPassphrase = errors.New("wallet passphrase is incorrect")
	ErrWrongEncState = errors.New("wallet is not encrypted")
	ErrWarmingUp     = errors.New("wallet daemon is still loading")
)

// CommandError is returned when a wallet CLI invocation exits unsuccessfully.
type CommandError struct {
	Args   []string // secrets already redacted
	Output string
	Code   int // RPC error code, 0 if none was reported
	Kind   ErrorKind
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("wallet command %q failed", strings.Join(e.Args, " "))
	if detail := summarize(e.Output); detail != "" {
		msg += ": " + detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is lets callers branch with errors.Is(err, ErrWalletLocked).
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrWalletLocked:
		return e.Kind == KindLocked
	case ErrBadPassphrase:
		return e.Kind == KindBadPassphrase
	case ErrWrongEncState:
		return e.Kind == KindWrongEncState
	case ErrWarmingUp:
		return e.Kind == KindWarmingUp
	}
	return false
}

var (
	cliCodePattern  = regexp.MustCompile(`error code:\s*(-?\d+)`)
	jsonCodePattern = regexp.MustCompile(`"code"\s*:\s*(-?\d+)`)
)

// classify reads the RPC error code from CLI output and falls back to the
// message text for CLIs that do not print one.
func classify(output string) (int, ErrorKind) {
	code := 0
	for _, re := range []*regexp.Regexp{cliCodePattern, jsonCodePattern} {
		if m := re.FindStringSubmatch(output); m != nil {
			code, _ = strconv.Atoi(m[1])
			break
		}
	}

	switch code {
	case codeUnlockNeeded:
		return code, KindLocked
	case codePassphraseIncorrect:
		return code, KindBadPassphrase
	case codeWrongEncState:
		return code, KindWrongEncState
	case codeInWarmup:
		return code, KindWarmingUp
	case 0:
	default:
		return code, KindOther
	}

	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "walletpassphrase first"), strings.Contains(lower, "wallet is locked"):
		return code, KindLocked
	case strings.Contains(lower, "passphrase entered was incorrect"):
		return code, KindBadPassphrase
	case strings.Contains(lower, "unencrypted wallet"):
		return code, KindWrongEncState
	case strings.Contains(lower, "loading block index"), strings.Contains(lower, "verifying blocks"):
		return code, KindWarmingUp
	}
	return code, KindOther
}

// summarize returns the human part of CLI error output on one line.
func summarize(output string) string {
	var parts []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "error code:") || line == "error message:" {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}
