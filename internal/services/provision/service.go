// Package provision prepares a fresh VPS to host a masternode.
package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/fgeck/masternode-setup/internal/services/release"
	"github.com/fgeck/masternode-setup/internal/services/ssh"
	"github.com/fgeck/masternode-setup/internal/services/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for remote provisioning.
type Service interface {
	Run(ctx context.Context, cfg models.Config) (*models.ProvisionResult, error)
}

// Impl implements the provisioning Service interface.
type Impl struct {
	sshSvc     ssh.Service
	releaseSvc release.Service
	wolSvc     wol.Service
	logger     zerolog.Logger
}

// New creates a new provisioning service.
func New(logger zerolog.Logger, sshSvc ssh.Service, releaseSvc release.Service, wolSvc wol.Service) *Impl {
	return &Impl{
		sshSvc:     sshSvc,
		releaseSvc: releaseSvc,
		wolSvc:     wolSvc,
		logger:     logger,
	}
}

// InstallCommand downloads the release archive into the coin's home and
// copies its binaries onto the PATH.
func InstallCommand(coin, url string) string {
	home := ssh.Quote("/home/" + coin)
	return fmt.Sprintf("mkdir -p %[1]s && wget -qO- %[2]s | tar xvz --strip-components=1 -C %[1]s && cp %[1]s/bin/* /usr/local/bin",
		home, ssh.Quote(url))
}

// Run wakes the host if configured, then prepares it over one session:
// OS check, daemon check, package update, binary install and coin user.
func (s *Impl) Run(ctx context.Context, cfg models.Config) (*models.ProvisionResult, error) {
	start := time.Now()
	result := &models.ProvisionResult{}

	if cfg.WOL != nil {
		wolResult, err := s.wolSvc.Wake(ctx, *cfg.WOL)
		if err != nil {
			return nil, fmt.Errorf("wake-on-lan failed: %w", err)
		}
		if wolResult.Error != nil {
			return nil, fmt.Errorf("wake-on-lan failed: %w", wolResult.Error)
		}
	}

	s.logger.Info().Str("host", cfg.SSH.Host).Msg("provisioning VPS")

	err := ssh.WithSession(ctx, s.sshSvc, cfg.SSH, func(ch ssh.Channel) error {
		if err := s.checkRelease(ctx, ch, cfg.VPS.UbuntuCodename); err != nil {
			return err
		}
		if err := s.checkDaemonNotRunning(ctx, ch, cfg.Coin.Daemon); err != nil {
			return err
		}

		s.logger.Info().Msg("updating packages on VPS")
		if _, err := ch.Execute(ctx, cfg.VPS.UpdateCommand); err != nil {
			return fmt.Errorf("failed to update packages: %w", err)
		}

		url, err := s.releaseSvc.LatestAssetURL(ctx, cfg.Git)
		if err != nil {
			return err
		}
		result.Release = url

		installed, err := s.install(ctx, ch, cfg.Coin, url)
		if err != nil {
			return err
		}
		result.AlreadyInstalled = installed

		created, err := s.ensureUser(ctx, ch, cfg.Coin.Name)
		if err != nil {
			return err
		}
		result.UserCreated = created

		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	s.logger.Info().Dur("duration", result.Duration).Msg("VPS provisioned")

	return result, nil
}

func (s *Impl) checkRelease(ctx context.Context, ch ssh.Channel, codename string) error {
	s.logger.Info().Str("codename", codename).Msg("checking VPS operating system release")

	output, err := ch.Execute(ctx, "lsb_release -a")
	if err != nil {
		return fmt.Errorf("failed to read OS release: %w", err)
	}
	if !strings.Contains(output, codename) {
		return &OSMismatchError{Expected: codename, Output: output}
	}
	return nil
}

func (s *Impl) checkDaemonNotRunning(ctx context.Context, ch ssh.Channel, daemon string) error {
	running, err := ssh.ProcessRunning(ctx, ch, daemon)
	if err != nil {
		return fmt.Errorf("failed to check for running daemon: %w", err)
	}
	if running {
		return &DaemonAlreadyRunningError{Daemon: daemon}
	}
	return nil
}

// install reports whether the daemon binary was already present.
func (s *Impl) install(ctx context.Context, ch ssh.Channel, coin models.CoinConfig, url string) (bool, error) {
	present, err := ssh.Check(ctx, ch, "command -v "+ssh.Quote(coin.Daemon))
	if err != nil {
		return false, fmt.Errorf("failed to check for %s: %w", coin.Daemon, err)
	}
	if present {
		s.logger.Info().Str("daemon", coin.Daemon).Msg("already installed, skipping installation")
		return true, nil
	}

	s.logger.Info().Str("url", url).Msg("installing masternode binaries")
	if _, err := ch.Execute(ctx, InstallCommand(coin.Name, url)); err != nil {
		return false, fmt.Errorf("failed to install %s: %w", coin.Name, err)
	}
	return false, nil
}

// ensureUser reports whether the user had to be created.
func (s *Impl) ensureUser(ctx context.Context, ch ssh.Channel, name string) (bool, error) {
	exists, err := ssh.Check(ctx, ch, "id -u "+ssh.Quote(name))
	if err != nil {
		return false, fmt.Errorf("failed to look up user %s: %w", name, err)
	}
	if exists {
		return false, nil
	}

	s.logger.Info().Str("user", name).Msg("creating user for masternode")
	if _, err := ch.Execute(ctx, "useradd "+ssh.Quote(name)); err != nil {
		return false, fmt.Errorf("failed to create user %s: %w", name, err)
	}
	return true, nil
}
