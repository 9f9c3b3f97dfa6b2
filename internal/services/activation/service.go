// Package activation funds, configures and starts a masternode once its VPS
// has been provisioned.
package activation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/masternode-setup/internal/credentials"
	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/fgeck/masternode-setup/internal/services/daemon"
	"github.com/fgeck/masternode-setup/internal/services/prompt"
	"github.com/fgeck/masternode-setup/internal/services/ssh"
	"github.com/fgeck/masternode-setup/internal/services/wallet"
	"github.com/fgeck/masternode-setup/internal/walletconf"
	"github.com/rs/zerolog"
)

// Service defines the interface for masternode activation.
type Service interface {
	Run(ctx context.Context, cfg models.Config, paths models.Paths, alias string) (*models.ActivationResult, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Impl implements the activation Service interface.
type Impl struct {
	wallet   wallet.Service
	sshSvc   ssh.Service
	prompter prompt.Prompter
	sleep    Sleeper
	logger   zerolog.Logger
}

// New creates a new activation service.
func New(logger zerolog.Logger, walletSvc wallet.Service, sshSvc ssh.Service, prompter prompt.Prompter) *Impl {
	return NewWithSleeper(logger, walletSvc, sshSvc, prompter, sleepContext)
}

// NewWithSleeper creates a new activation service with a custom sleeper (for testing).
func NewWithSleeper(logger zerolog.Logger, walletSvc wallet.Service, sshSvc ssh.Service, prompter prompt.Prompter, sleep Sleeper) *Impl {
	return &Impl{
		wallet:   walletSvc,
		sshSvc:   sshSvc,
		prompter: prompter,
		sleep:    sleep,
		logger:   logger,
	}
}

// Run performs the activation stages in order. The local daemon is stopped
// and waited for on every path once it has been started.
func (s *Impl) Run(ctx context.Context, cfg models.Config, paths models.Paths, alias string) (result *models.ActivationResult, err error) {
	start := time.Now()
	result = &models.ActivationResult{Alias: alias}

	tmpl, err := LoadConfTemplate(cfg)
	if err != nil {
		return nil, &StageError{Stage: StageWalletSetup, Err: err}
	}
	if _, err := RenderConf(tmpl, confValues(cfg, "", "", "")); err != nil {
		return nil, &StageError{Stage: StageWalletSetup, Err: err}
	}

	added, err := walletconf.EnsureRPCCredentials(paths.WalletConf, func() (string, error) {
		return credentials.Generate(credentials.Length)
	})
	if err != nil {
		return nil, &StageError{Stage: StageWalletSetup, Err: err}
	}
	if len(added) > 0 {
		s.logger.Info().Strs("keys", added).Str("path", paths.WalletConf).Msg("added RPC credentials to wallet conf")
	}

	mgr := daemon.New(s.logger, s.wallet, cfg.Timing.DaemonGrace)
	if err := mgr.Start(ctx); err != nil {
		return nil, &StageError{Stage: StageLocalDaemon, Err: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), daemon.DefaultShutdownTimeout)
		defer cancel()

		if stopErr := mgr.Shutdown(shutdownCtx); stopErr != nil {
			// The masternode is already registered; result is kept for reporting.
			if err == nil {
				err = &StageError{Stage: StageLocalDaemon, Err: stopErr}
				return
			}
			s.logger.Error().Err(stopErr).Msg("failed to stop local daemon")
		}
	}()

	if err := s.waitForSync(ctx, cfg); err != nil {
		return nil, &StageError{Stage: StageSync, Err: err}
	}

	if err := s.fund(ctx, cfg, alias, result); err != nil {
		return nil, &StageError{Stage: StageFunding, Err: err}
	}

	ready, err := s.configureRemote(ctx, cfg, tmpl, result.MasternodeKey)
	if err != nil {
		return nil, &StageError{Stage: StageRemote, Err: err}
	}
	result.ReadyChecked = ready

	if err := s.register(ctx, cfg, paths, result); err != nil {
		return nil, &StageError{Stage: StageRegister, Err: err}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// waitForSync polls until the node reports full verification progress.
func (s *Impl) waitForSync(ctx context.Context, cfg models.Config) error {
	s.logger.Info().Msg("waiting for wallet to be synchronized")

	if cfg.Activation.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Activation.SyncTimeout)
		defer cancel()
	}

	timedOut := func(err error) error {
		if cfg.Activation.SyncTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("wallet not synchronized after %s: %w", cfg.Activation.SyncTimeout, err)
		}
		return err
	}

	for {
		info, err := s.wallet.GetBlockchainInfo(ctx)
		switch {
		case err == nil:
			s.logger.Info().
				Str("progress", fmt.Sprintf("%.2f%%", info.VerificationProgress*100)).
				Int64("blocks", info.Blocks).
				Int64("headers", info.Headers).
				Msg("sync progress")
			if info.Synced() {
				return nil
			}
		case errors.Is(err, wallet.ErrWarmingUp):
			s.logger.Info().Msg("local daemon is still loading")
		case ctx.Err() != nil:
			return timedOut(ctx.Err())
		default:
			return fmt.Errorf("failed to read blockchain info: %w", err)
		}

		if err := s.sleep(ctx, cfg.Timing.SyncPollInterval); err != nil {
			return timedOut(err)
		}
	}
}

// fund sends the collateral to a fresh address and generates the masternode key.
func (s *Impl) fund(ctx context.Context, cfg models.Config, alias string, result *models.ActivationResult) error {
	unspent, err := s.wallet.ListUnspent(ctx)
	if err != nil {
		return err
	}

	var balance float64
	for _, u := range unspent {
		balance += u.Amount
	}
	result.Balance = balance

	s.logger.Info().
		Str("collateral", humanize.CommafWithDigits(cfg.Coin.Collateral, 8)).
		Str("balance", humanize.CommafWithDigits(balance, 8)).
		Msg("checking unlocked balance")

	if balance < cfg.Coin.Collateral {
		return &InsufficientFundsError{Required: cfg.Coin.Collateral, Available: balance}
	}

	address, err := s.wallet.GetNewAddress(ctx, alias)
	if err != nil {
		return err
	}
	s.logger.Info().Str("label", alias).Str("address", address).Msg("sending collateral to new address")

	txid, err := withUnlock(ctx, s, cfg, "sendtoaddress", func() (string, error) {
		return s.wallet.SendToAddress(ctx, address, cfg.Coin.Collateral)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("txid", txid).Msg("collateral sent")

	outputs, err := s.wallet.MasternodeOutputs(ctx)
	if err != nil {
		return err
	}

	var matches []models.MasternodeOutput
	for _, o := range outputs {
		if o.TxHash == txid {
			matches = append(matches, o)
		}
	}
	if len(matches) != 1 {
		return &TransactionNotFoundError{TxID: txid, Matches: len(matches)}
	}

	key, err := s.wallet.MasternodeGenKey(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Str("masternode_key", key).Msg("masternode key generated")

	result.Collateral = models.CollateralTx{
		TxID:        txid,
		Address:     address,
		OutputIndex: matches[0].OutputIdx,
	}
	result.MasternodeKey = key
	return nil
}

func suCommand(command, user string) string {
	return "su -c " + ssh.Quote(command) + " " + ssh.Quote(user)
}

// configureRemote installs a fresh node conf on the VPS and restarts the
// daemon. It reports whether the activation marker was waited for.
func (s *Impl) configureRemote(ctx context.Context, cfg models.Config, tmpl, masternodeKey string) (bool, error) {
	ready := false

	err := ssh.WithSession(ctx, s.sshSvc, cfg.SSH, func(ch ssh.Channel) error {
		running, err := ssh.ProcessRunning(ctx, ch, cfg.Coin.Daemon)
		if err != nil {
			return fmt.Errorf("failed to check daemon on VPS: %w", err)
		}
		if running {
			s.logger.Info().Msg("stopping daemon on VPS")
			if _, err := ch.Execute(ctx, suCommand(cfg.Coin.Cli+" stop", cfg.Coin.Name)); err != nil {
				return fmt.Errorf("failed to stop daemon on VPS: %w", err)
			}
			if err := s.sleep(ctx, cfg.Timing.RemoteStopSettle); err != nil {
				return err
			}
		}

		rpcUser, rpcPassword, err := credentials.RPC()
		if err != nil {
			return err
		}
		conf, err := RenderConf(tmpl, confValues(cfg, rpcUser, rpcPassword, masternodeKey))
		if err != nil {
			return err
		}

		confPath := cfg.RemoteConfPath()
		s.logger.Info().Str("path", confPath).Msg("sending configuration file to VPS")
		if err := ch.Upload(ctx, confPath, []byte(conf)); err != nil {
			return err
		}

		owner := ssh.Quote(cfg.Coin.Name + ":" + cfg.Coin.Name)
		if _, err := ch.Execute(ctx, "chown -R "+owner+" "+ssh.Quote(cfg.RemoteHome())); err != nil {
			return fmt.Errorf("failed to update permissions: %w", err)
		}

		debugPath := cfg.RemoteDebugPath()
		if _, err := ch.Execute(ctx, "rm -f "+ssh.Quote(debugPath)); err != nil {
			return fmt.Errorf("failed to remove debug file: %w", err)
		}

		s.logger.Info().Msg("starting daemon on VPS")
		if _, err := ch.Execute(ctx, suCommand(cfg.Coin.Daemon+" -daemon", cfg.Coin.Name)); err != nil {
			return fmt.Errorf("failed to start daemon on VPS: %w", err)
		}
		if err := s.sleep(ctx, cfg.Timing.RemoteStartSettle); err != nil {
			return err
		}

		running, err = ssh.ProcessRunning(ctx, ch, cfg.Coin.Daemon)
		if err != nil {
			return fmt.Errorf("failed to check daemon on VPS: %w", err)
		}
		if !running {
			return &RemoteStartError{Host: cfg.SSH.Host, Daemon: cfg.Coin.Daemon}
		}

		if cfg.Activation.WaitForReady {
			if err := s.waitForReady(ctx, ch, cfg, debugPath); err != nil {
				return err
			}
			ready = true
		}
		return nil
	})

	return ready, err
}

// waitForReady polls the remote debug log for the activation marker.
func (s *Impl) waitForReady(ctx context.Context, ch ssh.Channel, cfg models.Config, debugPath string) error {
	if cfg.Activation.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Activation.ReadyTimeout)
		defer cancel()
	}

	command := "grep -q " + ssh.Quote(cfg.Activation.ReadyMarker) + " " + ssh.Quote(debugPath)

	for {
		s.logger.Info().Msg("waiting until VPS daemon is ready for activation")

		found, err := ssh.Check(ctx, ch, command)
		if err != nil {
			return err
		}
		if found {
			return nil
		}

		if err := s.sleep(ctx, cfg.Timing.ActivationPollInterval); err != nil {
			if cfg.Activation.ReadyTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("daemon not ready for activation after %s: %w", cfg.Activation.ReadyTimeout, err)
			}
			return err
		}
	}
}

// register records the masternode in the local registry and starts it.
func (s *Impl) register(ctx context.Context, cfg models.Config, paths models.Paths, result *models.ActivationResult) error {
	entry := models.RegistryEntry{
		Label:         result.Alias,
		Address:       net.JoinHostPort(cfg.SSH.Host, strconv.Itoa(cfg.Coin.Port)),
		MasternodeKey: result.MasternodeKey,
		TxHash:        result.Collateral.TxID,
		OutputIndex:   result.Collateral.OutputIndex,
	}
	if err := walletconf.AppendRegistryEntry(paths.MasternodeConf, entry); err != nil {
		return err
	}
	s.logger.Info().Str("path", paths.MasternodeConf).Msg("masternode conf updated")

	output, err := withUnlock(ctx, s, cfg, "masternode start-alias", func() (string, error) {
		return s.wallet.MasternodeStartAlias(ctx, result.Alias)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("alias", result.Alias).Str("output", output).Msg("masternode started")
	return nil
}
