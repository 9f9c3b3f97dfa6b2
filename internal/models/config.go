// Package models contains the data structures used throughout masternode-setup.
package models

import "time"

// Config holds the complete configuration for a masternode setup run.
type Config struct {
	Environment EnvironmentConfig
	Coin        CoinConfig
	Wallet      WalletConfig
	VPS         VPSConfig
	Git         GitConfig
	SSH         SSHConfig
	Timing      TimingConfig
	Activation  ActivationSettings
	WOL         *WOLConfig      // nil if not configured
	Telegram    *TelegramConfig // nil if not configured
}

// EnvironmentConfig names the environment variables that point at the local wallet installation.
type EnvironmentConfig struct {
	Home string // variable holding the wallet install dir (binaries live in <home>/daemon)
	User string // variable holding the wallet data dir (wallet conf, masternode conf)
}

// CoinConfig describes the coin being set up.
type CoinConfig struct {
	Name        string // also the OS user and /home/<name> directory on the VPS
	DisplayName string
	Cli         string
	Daemon      string
	DaemonArgs  []string // extra arguments for the local daemon
	Collateral  float64
	Port        int
}

// WalletConfig holds local wallet file names.
type WalletConfig struct {
	WalletConf     string
	MasternodeConf string
}

// VPSConfig holds the remote layout.
type VPSConfig struct {
	DataDir        string
	ConfFile       string
	DebugFile      string
	UbuntuCodename string
	ConfTemplate   string // optional path to a conf template, built-in template if empty
	UpdateCommand  string
}

// GitConfig locates the release holding the node binaries.
type GitConfig struct {
	Owner       string
	Project     string
	NamePattern string
}

// TimingConfig holds the fixed waits and poll intervals of the workflow.
type TimingConfig struct {
	DaemonGrace            time.Duration // local daemon must survive this long
	SyncPollInterval       time.Duration
	RemoteStopSettle       time.Duration
	RemoteStartSettle      time.Duration
	ActivationPollInterval time.Duration
	UnlockTimeout          time.Duration // walletpassphrase window
}

// ActivationSettings tunes the activation orchestrator.
type ActivationSettings struct {
	WaitForReady   bool          // poll the remote debug log for the activation marker
	ReadyMarker    string
	ReadyTimeout   time.Duration // 0 means unbounded
	SyncTimeout    time.Duration // 0 means unbounded
	UnlockAttempts int
}

// Paths holds local paths resolved once from the environment at startup.
type Paths struct {
	Cli            string
	Daemon         string
	WalletConf     string
	MasternodeConf string
}

// RemoteHome returns the coin's home directory on the VPS.
func (c Config) RemoteHome() string {
	return "/home/" + c.Coin.Name
}

// RemoteConfPath returns the absolute path of the node conf file on the VPS.
func (c Config) RemoteConfPath() string {
	return c.RemoteHome() + "/" + c.VPS.DataDir + "/" + c.VPS.ConfFile
}

// RemoteDebugPath returns the absolute path of the node debug log on the VPS.
func (c Config) RemoteDebugPath() string {
	return c.RemoteHome() + "/" + c.VPS.DataDir + "/" + c.VPS.DebugFile
}
