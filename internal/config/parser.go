// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/spf13/viper"
)

// Defaults mirror the waits the setup has always used.
const (
	DefaultUpdateCommand = "apt-get -y update && apt-get -y upgrade && apt-get -y install wget"
	DefaultReadyMarker   = "waiting for remote activation"

	defaultDaemonGrace       = 20 * time.Second
	defaultSyncPoll          = 5 * time.Second
	defaultRemoteStopSettle  = 20 * time.Second
	defaultRemoteStartSettle = 20 * time.Second
	defaultActivationPoll    = 10 * time.Second
	defaultUnlockTimeout     = 60 * time.Second
	defaultUnlockAttempts    = 3
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path. The format follows the
// file extension, so both config.yaml and the classic config.ini load.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo,funlen // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	cfg.Environment = models.EnvironmentConfig{
		Home: p.str("environment.home"),
		User: p.str("environment.user"),
	}
	if cfg.Environment.Home == "" {
		return nil, fmt.Errorf("environment.home is required")
	}
	if cfg.Environment.User == "" {
		return nil, fmt.Errorf("environment.user is required")
	}

	cfg.Coin = models.CoinConfig{
		Name:        p.str("coin.name"),
		DisplayName: p.str("coin.display_name", "coin.displayname"),
		Cli:         p.str("coin.cli"),
		Daemon:      p.str("coin.daemon"),
		DaemonArgs:  p.v.GetStringSlice("coin.daemon_args"),
		Collateral:  p.v.GetFloat64("coin.collateral"),
		Port:        p.v.GetInt("coin.port"),
	}
	if cfg.Coin.Name == "" {
		return nil, fmt.Errorf("coin.name is required")
	}
	if cfg.Coin.Cli == "" {
		return nil, fmt.Errorf("coin.cli is required")
	}
	if cfg.Coin.Daemon == "" {
		return nil, fmt.Errorf("coin.daemon is required")
	}
	if cfg.Coin.Collateral <= 0 {
		return nil, fmt.Errorf("coin.collateral must be greater than zero")
	}
	if cfg.Coin.Port <= 0 || cfg.Coin.Port > 65535 {
		return nil, fmt.Errorf("coin.port must be between 1 and 65535")
	}
	if cfg.Coin.DisplayName == "" {
		cfg.Coin.DisplayName = cfg.Coin.Name
	}

	cfg.Wallet = models.WalletConfig{
		WalletConf:     p.str("wallet.wallet_conf", "wallet.walletconf"),
		MasternodeConf: p.str("wallet.masternode_conf", "wallet.masternodeconf"),
	}
	if cfg.Wallet.WalletConf == "" {
		return nil, fmt.Errorf("wallet.wallet_conf is required")
	}
	if cfg.Wallet.MasternodeConf == "" {
		return nil, fmt.Errorf("wallet.masternode_conf is required")
	}

	cfg.VPS = models.VPSConfig{
		DataDir:        p.str("vps.data_dir", "vps.datadir"),
		ConfFile:       p.str("vps.conf_file", "vps.conffile"),
		DebugFile:      p.str("vps.debug_file", "vps.debugfile"),
		UbuntuCodename: p.str("vps.ubuntu_codename", "vps.ubuntucodename"),
		ConfTemplate:   p.expandEnv(p.str("vps.conf_template", "vps.conftemplate")),
		UpdateCommand:  p.str("vps.update_command"),
	}
	if cfg.VPS.DataDir == "" {
		return nil, fmt.Errorf("vps.data_dir is required")
	}
	if cfg.VPS.ConfFile == "" {
		return nil, fmt.Errorf("vps.conf_file is required")
	}
	if cfg.VPS.DebugFile == "" {
		cfg.VPS.DebugFile = "debug.log"
	}
	if cfg.VPS.UbuntuCodename == "" {
		return nil, fmt.Errorf("vps.ubuntu_codename is required")
	}
	if cfg.VPS.UpdateCommand == "" {
		cfg.VPS.UpdateCommand = DefaultUpdateCommand
	}

	cfg.Git = models.GitConfig{
		Owner:       p.str("git.owner"),
		Project:     p.str("git.project"),
		NamePattern: p.str("git.name_pattern", "git.namepattern"),
	}
	if cfg.Git.Owner == "" || cfg.Git.Project == "" {
		return nil, fmt.Errorf("git.owner and git.project are required")
	}
	if cfg.Git.NamePattern == "" {
		return nil, fmt.Errorf("git.name_pattern is required")
	}

	// SSH settings may be completed from command line flags, see Validate.
	cfg.SSH = models.SSHConfig{
		Host:     p.str("ssh.host"),
		Port:     p.v.GetInt("ssh.port"),
		Username: p.str("ssh.username"),
		Password: p.expandEnv(p.str("ssh.password")),
		KeyPath:  p.expandEnv(p.str("ssh.key_path")),
		Timeout:  p.v.GetDuration("ssh.timeout"),
		Transfer: p.str("ssh.transfer"),
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.Username == "" {
		cfg.SSH.Username = "root"
	}
	if cfg.SSH.Timeout == 0 {
		cfg.SSH.Timeout = 30 * time.Second
	}
	if cfg.SSH.Transfer == "" {
		cfg.SSH.Transfer = models.TransferSFTP
	}
	validTransfers := map[string]bool{models.TransferSFTP: true, models.TransferSCP: true}
	if !validTransfers[cfg.SSH.Transfer] {
		return nil, fmt.Errorf("ssh.transfer must be one of: sftp, scp")
	}

	cfg.Timing = models.TimingConfig{
		DaemonGrace:            p.duration("timing.daemon_grace", defaultDaemonGrace),
		SyncPollInterval:       p.duration("timing.sync_poll_interval", defaultSyncPoll),
		RemoteStopSettle:       p.duration("timing.remote_stop_settle", defaultRemoteStopSettle),
		RemoteStartSettle:      p.duration("timing.remote_start_settle", defaultRemoteStartSettle),
		ActivationPollInterval: p.duration("timing.activation_poll_interval", defaultActivationPoll),
		UnlockTimeout:          p.duration("timing.unlock_timeout", defaultUnlockTimeout),
	}

	cfg.Activation = models.ActivationSettings{
		WaitForReady:   p.v.GetBool("activation.wait_for_ready"),
		ReadyMarker:    p.str("activation.ready_marker"),
		ReadyTimeout:   p.v.GetDuration("activation.ready_timeout"),
		SyncTimeout:    p.v.GetDuration("activation.sync_timeout"),
		UnlockAttempts: p.v.GetInt("activation.unlock_attempts"),
	}
	if cfg.Activation.ReadyMarker == "" {
		cfg.Activation.ReadyMarker = DefaultReadyMarker
	}
	if cfg.Activation.UnlockAttempts <= 0 {
		cfg.Activation.UnlockAttempts = defaultUnlockAttempts
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") {
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			TargetAddr:    p.v.GetString("wol.target_addr"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// str returns the first non-empty value among keys.
func (p *Parser) str(keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(p.v.GetString(key)); s != "" {
			return s
		}
	}
	return ""
}

func (p *Parser) duration(key string, def time.Duration) time.Duration {
	if d := p.v.GetDuration(key); d > 0 {
		return d
	}
	return def
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration once command
// line overrides have been applied.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.SSH.Host == "" {
		return fmt.Errorf("ssh.host is required (set it in the config or pass --vps)")
	}

	if cfg.SSH.Password == "" && cfg.SSH.KeyPath == "" && len(cfg.SSH.PrivateKey) == 0 {
		return fmt.Errorf("ssh.password or ssh.key_path is required")
	}

	if cfg.Coin.Collateral <= 0 {
		return fmt.Errorf("coin.collateral must be greater than zero")
	}

	if cfg.WOL != nil && cfg.WOL.TargetAddr == "" {
		cfg.WOL.TargetAddr = fmt.Sprintf("%s:%d", cfg.SSH.Host, cfg.SSH.Port)
	}

	return nil
}
