package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/fgeck/masternode-setup/internal/config"
	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

// Colours for operator-facing output.
var (
	heading = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen)
	failure = color.New(color.FgRed)
)

var rootCmd = &cobra.Command{
	Use:   "masternode-setup",
	Short: "Provision and activate a masternode on a fresh VPS",
	Long: `masternode-setup prepares a VPS over SSH and activates a masternode on it:
  - Wake-on-LAN of the VPS host (optional)
  - Remote OS check, package update and node binary install
  - Collateral funding from the local wallet
  - Remote node configuration and start
  - Masternode registration and start by alias
  - Telegram notifications (optional)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
}

func setupLogging() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// sshOverrides are the connection settings accepted on the command line.
type sshOverrides struct {
	host     string
	password string
	keyPath  string
}

func (o sshOverrides) apply(cfg *models.Config) {
	if o.host != "" {
		cfg.SSH.Host = o.host
	}
	if o.password != "" {
		cfg.SSH.Password = o.password
	}
	if o.keyPath != "" {
		cfg.SSH.KeyPath = o.keyPath
		cfg.SSH.PrivateKey = nil
	}
}

func addSSHFlags(cmd *cobra.Command, o *sshOverrides) {
	cmd.Flags().StringVar(&o.host, "vps", "", "IP address of the VPS (overrides ssh.host)")
	cmd.Flags().StringVar(&o.password, "password", "", "root password of the VPS (overrides ssh.password)")
	cmd.Flags().StringVar(&o.keyPath, "key", "", "SSH private key file (overrides ssh.key_path)")
}

// loadConfig parses and validates the config file after applying overrides.
func loadConfig(cmd *cobra.Command, overrides sshOverrides) (*models.Config, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		return nil, fmt.Errorf("config file is required")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	overrides.apply(cfg)

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
