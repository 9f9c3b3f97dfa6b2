// Package wallet drives the local wallet through its CLI binary.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/rs/zerolog"
)

const redacted = "****"

// Service defines the interface for wallet operations.
type Service interface {
	GetBalance(ctx context.Context) (float64, error)
	ListUnspent(ctx context.Context) ([]models.UnspentOutput, error)
	GetBlockchainInfo(ctx context.Context) (*models.BlockchainInfo, error)
	UnlockWallet(ctx context.Context, passphrase string, timeout time.Duration) error
	SendToAddress(ctx context.Context, address string, amount float64) (string, error)
	GetNewAddress(ctx context.Context, label string) (string, error)
	MasternodeGenKey(ctx context.Context) (string, error)
	MasternodeOutputs(ctx context.Context) ([]models.MasternodeOutput, error)
	MasternodeStartAlias(ctx context.Context, alias string) (string, error)
	StartDaemon(ctx context.Context) (Process, error)
	StopDaemon(ctx context.Context) error
}

// Impl implements the Service interface.
type Impl struct {
	executor   CommandExecutor
	cli        string
	daemon     string
	daemonArgs []string
	logger     zerolog.Logger
}

// New creates a new wallet service for the binaries in paths.
func New(logger zerolog.Logger, paths models.Paths, daemonArgs []string) *Impl {
	return NewWithExecutor(logger, paths, daemonArgs, &DefaultExecutor{})
}

// NewWithExecutor creates a new wallet service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, paths models.Paths, daemonArgs []string, executor CommandExecutor) *Impl {
	return &Impl{
		executor:   executor,
		cli:        paths.Cli,
		daemon:     paths.Daemon,
		daemonArgs: daemonArgs,
		logger:     logger,
	}
}

// run invokes the CLI. shown is what logs and errors may display in place
// of args; nil means args carry no secrets.
func (s *Impl) run(ctx context.Context, shown []string, args ...string) (string, error) {
	if shown == nil {
		shown = args
	}

	s.logger.Debug().Strs("args", shown).Msg("running wallet command")

	output, err := s.executor.Execute(ctx, s.cli, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		code, kind := classify(string(output))
		return "", &CommandError{
			Args:   shown,
			Output: string(output),
			Code:   code,
			Kind:   kind,
			Err:    err,
		}
	}

	return strings.TrimSpace(string(output)), nil
}

func (s *Impl) runJSON(ctx context.Context, v any, args ...string) error {
	output, err := s.run(ctx, nil, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(output), v); err != nil {
		return fmt.Errorf("failed to parse %s output: %w", args[0], err)
	}
	return nil
}

// GetBalance returns the confirmed wallet balance.
func (s *Impl) GetBalance(ctx context.Context) (float64, error) {
	output, err := s.run(ctx, nil, "getbalance")
	if err != nil {
		return 0, err
	}

	balance, err := strconv.ParseFloat(output, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance %q: %w", output, err)
	}
	return balance, nil
}

// ListUnspent returns the wallet's unspent outputs.
func (s *Impl) ListUnspent(ctx context.Context) ([]models.UnspentOutput, error) {
	var unspent []models.UnspentOutput
	if err := s.runJSON(ctx, &unspent, "listunspent"); err != nil {
		return nil, err
	}
	return unspent, nil
}

// GetBlockchainInfo returns the node's chain state.
func (s *Impl) GetBlockchainInfo(ctx context.Context) (*models.BlockchainInfo, error) {
	var info models.BlockchainInfo
	if err := s.runJSON(ctx, &info, "getblockchaininfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

// UnlockWallet unlocks the wallet for timeout. The passphrase is never logged.
func (s *Impl) UnlockWallet(ctx context.Context, passphrase string, timeout time.Duration) error {
	seconds := strconv.Itoa(int(timeout.Seconds()))

	_, err := s.run(ctx,
		[]string{"walletpassphrase", redacted, seconds},
		"walletpassphrase", passphrase, seconds,
	)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && passphrase != "" {
			// The CLI may echo the request back on parse errors.
			cmdErr.Output = strings.ReplaceAll(cmdErr.Output, passphrase, redacted)
		}
		return err
	}

	s.logger.Debug().Dur("timeout", timeout).Msg("wallet unlocked")
	return nil
}

// SendToAddress sends amount to address and returns the transaction id.
func (s *Impl) SendToAddress(ctx context.Context, address string, amount float64) (string, error) {
	return s.run(ctx, nil, "sendtoaddress", address, strconv.FormatFloat(amount, 'f', -1, 64))
}

// GetNewAddress creates a receiving address with label.
func (s *Impl) GetNewAddress(ctx context.Context, label string) (string, error) {
	return s.run(ctx, nil, "getnewaddress", label)
}

// MasternodeGenKey generates a masternode private key.
func (s *Impl) MasternodeGenKey(ctx context.Context) (string, error) {
	return s.run(ctx, nil, "masternode", "genkey")
}

// MasternodeOutputs lists outputs usable as masternode collateral. Both the
// array form and the older object form keyed by txhash are accepted.
func (s *Impl) MasternodeOutputs(ctx context.Context) ([]models.MasternodeOutput, error) {
	output, err := s.run(ctx, nil, "masternode", "outputs")
	if err != nil {
		return nil, err
	}
	return parseMasternodeOutputs(output)
}

func parseMasternodeOutputs(output string) ([]models.MasternodeOutput, error) {
	if output == "" {
		return nil, nil
	}

	var list []models.MasternodeOutput
	if err := json.Unmarshal([]byte(output), &list); err == nil {
		return list, nil
	}

	var byHash map[string]json.RawMessage
	if err := json.Unmarshal([]byte(output), &byHash); err != nil {
		return nil, fmt.Errorf("failed to parse masternode outputs: %w", err)
	}

	hashes := make([]string, 0, len(byHash))
	for hash := range byHash {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	list = make([]models.MasternodeOutput, 0, len(byHash))
	for _, hash := range hashes {
		raw := strings.Trim(string(byHash[hash]), `"`)
		idx, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid output index for %s: %w", hash, err)
		}
		list = append(list, models.MasternodeOutput{TxHash: hash, OutputIdx: idx})
	}
	return list, nil
}

// MasternodeStartAlias starts the masternode registered under alias.
func (s *Impl) MasternodeStartAlias(ctx context.Context, alias string) (string, error) {
	return s.run(ctx, nil, "masternode", "start-alias", alias)
}

// foregroundArg keeps the daemon from forking even when the wallet conf or
// the configured arguments ask for daemon mode. It goes last so it wins.
const foregroundArg = "-daemon=0"

// StartDaemon launches the local daemon in the background and returns
// without waiting for it.
func (s *Impl) StartDaemon(_ context.Context) (Process, error) {
	args := make([]string, 0, len(s.daemonArgs)+1)
	args = append(args, s.daemonArgs...)
	args = append(args, foregroundArg)

	s.logger.Debug().Str("daemon", s.daemon).Strs("args", args).Msg("starting local daemon")

	proc, err := s.executor.Start(s.daemon, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.daemon, err)
	}
	return proc, nil
}

// StopDaemon asks the running daemon to shut down.
func (s *Impl) StopDaemon(ctx context.Context) error {
	_, err := s.run(ctx, nil, "stop")
	return err
}
