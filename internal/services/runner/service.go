// Package runner orchestrates the masternode setup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/masternode-setup/internal/config"
	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/fgeck/masternode-setup/internal/services/activation"
	"github.com/fgeck/masternode-setup/internal/services/daemon"
	"github.com/fgeck/masternode-setup/internal/services/prompt"
	"github.com/fgeck/masternode-setup/internal/services/provision"
	"github.com/fgeck/masternode-setup/internal/services/release"
	"github.com/fgeck/masternode-setup/internal/services/ssh"
	"github.com/fgeck/masternode-setup/internal/services/telegram"
	"github.com/fgeck/masternode-setup/internal/services/wallet"
	"github.com/fgeck/masternode-setup/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Step names reported when a run fails.
const (
	StepPrerequisites = "prerequisites"
	StepProvision     = "provision"
	StepActivation    = "activation"
)

// Service defines the interface for the setup runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config, alias string) error
	Provision(ctx context.Context, cfg models.Config) error
}

// PathResolver resolves the local wallet layout for a run.
type PathResolver func(cfg models.Config) (models.Paths, error)

// ResolvePaths reads the wallet layout from the process environment.
func ResolvePaths(cfg models.Config) (models.Paths, error) {
	return config.ResolvePaths(cfg, os.LookupEnv)
}

// PrerequisiteCheck verifies the local machine can run the activation stage.
type PrerequisiteCheck func(paths models.Paths) error

// ActivationFactory builds the activation service once paths are known.
type ActivationFactory func(cfg models.Config, paths models.Paths) activation.Service

// CheckPrerequisites requires the wallet binaries to be installed and the
// local daemon not to be running already.
func CheckPrerequisites(paths models.Paths) error {
	if err := config.CheckInstalled(paths); err != nil {
		return err
	}

	name := filepath.Base(paths.Daemon)
	running, err := daemon.AlreadyRunning(name)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("%s is already running, please stop it first", name)
	}
	return nil
}

// Impl implements the runner Service interface.
type Impl struct {
	provisionSvc  provision.Service
	newActivation ActivationFactory
	telegramSvc   telegram.Service
	resolvePaths  PathResolver
	checkPrereqs  PrerequisiteCheck
	logger        zerolog.Logger
}

// New creates a new runner service wired to the real collaborators.
func New(logger zerolog.Logger) *Impl {
	sshSvc := ssh.New(logger)
	return &Impl{
		provisionSvc: provision.New(logger, sshSvc, release.New(logger), wol.New(logger)),
		newActivation: func(cfg models.Config, paths models.Paths) activation.Service {
			return activation.New(logger, wallet.New(logger, paths, cfg.Coin.DaemonArgs), sshSvc, prompt.NewTerminal())
		},
		telegramSvc:  telegram.New(logger),
		resolvePaths: ResolvePaths,
		checkPrereqs: CheckPrerequisites,
		logger:       logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	provisionSvc provision.Service,
	activationSvc activation.Service,
	telegramSvc telegram.Service,
	resolvePaths PathResolver,
	checkPrereqs PrerequisiteCheck,
) *Impl {
	return &Impl{
		provisionSvc: provisionSvc,
		newActivation: func(models.Config, models.Paths) activation.Service {
			return activationSvc
		},
		telegramSvc:  telegramSvc,
		resolvePaths: resolvePaths,
		checkPrereqs: checkPrereqs,
		logger:       logger,
	}
}

// Run executes prerequisites, provisioning and activation once each.
// Completed stages are not rolled back on failure.
func (s *Impl) Run(ctx context.Context, cfg models.Config, alias string) error {
	startTime := time.Now()
	logger := s.logger.With().Str("run_id", uuid.NewString()).Logger()

	var failedStep string
	var runErr error
	var activated *models.ActivationResult

	logger.Info().
		Str("coin", cfg.Coin.Name).
		Str("alias", alias).
		Str("host", cfg.SSH.Host).
		Msg("starting masternode setup")

	defer func() {
		if runErr != nil {
			logger.Error().
				Err(runErr).
				Str("failed_step", failedStep).
				Dur("duration", time.Since(startTime)).
				Msg("masternode setup failed")
		}
		if cfg.Telegram != nil {
			s.sendNotification(ctx, logger, cfg, alias, startTime, activated, failedStep, runErr)
		}
	}()

	failedStep = StepPrerequisites
	paths, err := s.resolvePaths(cfg)
	if err != nil {
		runErr = fmt.Errorf("prerequisites failed: %w", err)
		return runErr
	}
	if err := s.checkPrereqs(paths); err != nil {
		runErr = fmt.Errorf("prerequisites failed: %w", err)
		return runErr
	}

	failedStep = StepProvision
	provisioned, err := s.provisionSvc.Run(ctx, cfg)
	if err != nil {
		runErr = fmt.Errorf("provisioning failed: %w", err)
		return runErr
	}

	logger.Info().
		Str("release", provisioned.Release).
		Bool("already_installed", provisioned.AlreadyInstalled).
		Bool("user_created", provisioned.UserCreated).
		Dur("duration", provisioned.Duration).
		Msg("VPS provisioned")

	failedStep = StepActivation
	activated, err = s.newActivation(cfg, paths).Run(ctx, cfg, paths, alias)
	if err != nil {
		var stageErr *activation.StageError
		if errors.As(err, &stageErr) {
			failedStep = stageErr.Stage
		}
		if activated != nil {
			logger.Warn().
				Str("txhash", activated.Collateral.TxID).
				Int("output_index", activated.Collateral.OutputIndex).
				Msg("masternode was started but the run did not finish cleanly")
		}
		runErr = fmt.Errorf("activation failed: %w", err)
		return runErr
	}

	failedStep = ""
	logger.Info().
		Str("alias", activated.Alias).
		Str("txhash", activated.Collateral.TxID).
		Int("output_index", activated.Collateral.OutputIndex).
		Bool("ready_checked", activated.ReadyChecked).
		Dur("duration", time.Since(startTime)).
		Msg("masternode setup completed successfully")

	return nil
}

// Provision runs only the remote preparation of the VPS.
func (s *Impl) Provision(ctx context.Context, cfg models.Config) error {
	logger := s.logger.With().Str("run_id", uuid.NewString()).Logger()

	result, err := s.provisionSvc.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	logger.Info().
		Str("host", cfg.SSH.Host).
		Str("release", result.Release).
		Bool("already_installed", result.AlreadyInstalled).
		Bool("user_created", result.UserCreated).
		Dur("duration", result.Duration).
		Msg("VPS provisioned")

	return nil
}

func (s *Impl) sendNotification(
	ctx context.Context,
	logger zerolog.Logger,
	cfg models.Config,
	alias string,
	startTime time.Time,
	activated *models.ActivationResult,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:   runErr == nil,
		Alias:     alias,
		Host:      cfg.SSH.Host,
		Coin:      cfg.Coin.DisplayName,
		StartTime: startTime,
		Duration:  time.Since(startTime),
	}

	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}
	if activated != nil {
		msg.TxHash = activated.Collateral.TxID
		msg.OutputIndex = activated.Collateral.OutputIndex
		msg.Collateral = cfg.Coin.Collateral
	}

	// The run context may already be cancelled when the run was interrupted.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	result, err := s.telegramSvc.SendNotification(notifyCtx, *cfg.Telegram, msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	logger.Info().Msg("Telegram notification sent")
}
