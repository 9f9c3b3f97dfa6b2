package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/masternode-setup/internal/config"
	"github.com/fgeck/masternode-setup/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	checkSSH          bool
	validateOverrides sshOverrides
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without touching the VPS or the wallet.
With --check-ssh a test command is run on the VPS to verify the credentials.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&checkSSH, "check-ssh", false, "verify SSH connectivity to the VPS")
	addSSHFlags(validateCmd, &validateOverrides)
}

//nolint:funlen // summary printing
func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd, validateOverrides)
	if err != nil {
		return err
	}

	_, _ = success.Println("Configuration is valid!")
	fmt.Println()
	_, _ = heading.Println("Coin:")
	fmt.Printf("  Name: %s (%s)\n", cfg.Coin.DisplayName, cfg.Coin.Name)
	fmt.Printf("  CLI: %s\n", cfg.Coin.Cli)
	fmt.Printf("  Daemon: %s\n", cfg.Coin.Daemon)
	fmt.Printf("  Collateral: %s\n", humanize.CommafWithDigits(cfg.Coin.Collateral, 8))
	fmt.Printf("  Port: %d\n", cfg.Coin.Port)
	fmt.Println()
	_, _ = heading.Println("Local Wallet:")
	paths, err := config.ResolvePaths(*cfg, os.LookupEnv)
	if err != nil {
		_, _ = failure.Printf("  %v\n", err)
	} else {
		fmt.Printf("  CLI: %s\n", paths.Cli)
		fmt.Printf("  Daemon: %s\n", paths.Daemon)
		fmt.Printf("  Wallet conf: %s\n", paths.WalletConf)
		fmt.Printf("  Masternode conf: %s\n", paths.MasternodeConf)
		if err := config.CheckInstalled(paths); err != nil {
			_, _ = failure.Printf("  %v\n", err)
		}
	}
	fmt.Println()
	_, _ = heading.Println("VPS:")
	fmt.Printf("  Host: %s:%d\n", cfg.SSH.Host, cfg.SSH.Port)
	fmt.Printf("  Username: %s\n", cfg.SSH.Username)
	fmt.Printf("  Transfer: %s\n", cfg.SSH.Transfer)
	fmt.Printf("  Ubuntu codename: %s\n", cfg.VPS.UbuntuCodename)
	fmt.Printf("  Conf file: %s\n", cfg.RemoteConfPath())
	if cfg.VPS.ConfTemplate != "" {
		fmt.Printf("  Conf template: %s\n", cfg.VPS.ConfTemplate)
	}
	fmt.Printf("  Release: github.com/%s/%s (%s)\n", cfg.Git.Owner, cfg.Git.Project, cfg.Git.NamePattern)
	fmt.Println()
	_, _ = heading.Println("Activation:")
	fmt.Printf("  Daemon grace: %s\n", cfg.Timing.DaemonGrace)
	fmt.Printf("  Sync poll interval: %s\n", cfg.Timing.SyncPollInterval)
	fmt.Printf("  Unlock attempts: %d\n", cfg.Activation.UnlockAttempts)
	fmt.Printf("  Wait for ready: %v\n", cfg.Activation.WaitForReady)
	fmt.Println()
	_, _ = heading.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Println()
		_, _ = heading.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Printf("  Target: %s\n", cfg.WOL.TargetAddr)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		_, _ = heading.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if !checkSSH {
		return nil
	}

	fmt.Println()
	_, _ = heading.Println("SSH Check:")
	ctx, cancel := signalContext()
	defer cancel()

	result, err := ssh.New(log.Logger).TestConnection(ctx, cfg.SSH)
	if err != nil {
		_, _ = failure.Printf("  %v\n", err)
		return err
	}
	if result.Error != nil {
		_, _ = failure.Printf("  %v\n", result.Error)
		return result.Error
	}
	_, _ = success.Printf("  Connected to %s\n", cfg.SSH.Host)

	return nil
}
