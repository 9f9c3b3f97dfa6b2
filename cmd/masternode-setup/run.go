package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/masternode-setup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	masternodeName string
	runOverrides   sshOverrides
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision the VPS and activate the masternode",
	Long: `Execute the complete masternode setup:
1. Check the local wallet installation
2. Wake-on-LAN (if configured)
3. Prepare the VPS: OS check, update, node install, coin user
4. Start the local wallet daemon and wait for sync
5. Fund the collateral and generate the masternode key
6. Configure and start the node on the VPS
7. Register the masternode and start it by alias
8. Send Telegram notification (if configured)`,
	RunE: runSetup,
}

func init() {
	runCmd.Flags().StringVar(&masternodeName, "name", "", "name given to the masternode (required)")
	addSSHFlags(runCmd, &runOverrides)
	_ = runCmd.MarkFlagRequired("name")
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, runOverrides)
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("coin", cfg.Coin.DisplayName).
		Str("vps", cfg.SSH.Host).
		Str("name", masternodeName).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Run(ctx, *cfg, masternodeName); err != nil {
		_, _ = failure.Fprintf(os.Stderr, "masternode setup failed: %v\n", err)
		return err
	}

	_, _ = success.Printf("Masternode %s is up and running on %s\n", masternodeName, cfg.SSH.Host)
	return nil
}
