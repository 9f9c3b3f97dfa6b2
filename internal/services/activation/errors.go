package activation

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// InsufficientFundsError is returned when the unspent balance cannot cover the collateral.
type InsufficientFundsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: collateral %s required, %s available",
		humanize.CommafWithDigits(e.Required, 8), humanize.CommafWithDigits(e.Available, 8))
}

// TransactionNotFoundError is returned when the collateral transaction does
// not appear exactly once in the masternode outputs.
type TransactionNotFoundError struct {
	TxID    string
	Matches int
}

func (e *TransactionNotFoundError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("transaction %s was not found in masternode outputs", e.TxID)
	}
	return fmt.Sprintf("transaction %s appears %d times in masternode outputs", e.TxID, e.Matches)
}

// RemoteStartError is returned when the daemon is not running on the VPS
// after the start settle time.
type RemoteStartError struct {
	Host   string
	Daemon string
}

func (e *RemoteStartError) Error() string {
	return fmt.Sprintf("failed to start %s on VPS %s", e.Daemon, e.Host)
}

// StageError records which activation stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Activation stages.
const (
	StageWalletSetup = "wallet setup"
	StageLocalDaemon = "local daemon"
	StageSync        = "wallet sync"
	StageFunding     = "funding"
	StageRemote      = "remote configuration"
	StageRegister    = "registration"
)
