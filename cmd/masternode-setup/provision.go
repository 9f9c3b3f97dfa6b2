package main

import (
	"os"

	"github.com/fgeck/masternode-setup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var provisionOverrides sshOverrides

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Prepare the VPS without activating a masternode",
	Long: `Prepare the VPS only:
1. Wake-on-LAN (if configured)
2. Check the OS release and that no node is running
3. Update packages
4. Install the latest node release
5. Create the coin user

Safe to repeat: the install and user steps are skipped when already done.`,
	RunE: runProvision,
}

func init() {
	addSSHFlags(provisionCmd, &provisionOverrides)
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, provisionOverrides)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Provision(ctx, *cfg); err != nil {
		_, _ = failure.Fprintf(os.Stderr, "provisioning failed: %v\n", err)
		return err
	}

	_, _ = success.Printf("VPS %s is ready\n", cfg.SSH.Host)
	return nil
}
