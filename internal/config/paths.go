package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/masternode-setup/internal/models"
)

// MissingEnvError reports an environment variable the wallet layout depends on.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("please set %s environment variable", e.Name)
}

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// ResolvePaths resolves the local wallet layout from the environment
// variables named in cfg. It is called once per run; components only
// ever see the resulting Paths.
func ResolvePaths(cfg models.Config, lookup LookupEnvFunc) (models.Paths, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	home, ok := lookup(cfg.Environment.Home)
	if !ok || home == "" {
		return models.Paths{}, &MissingEnvError{Name: cfg.Environment.Home}
	}

	user, ok := lookup(cfg.Environment.User)
	if !ok || user == "" {
		return models.Paths{}, &MissingEnvError{Name: cfg.Environment.User}
	}

	return models.Paths{
		Cli:            filepath.Join(home, "daemon", cfg.Coin.Cli),
		Daemon:         filepath.Join(home, "daemon", cfg.Coin.Daemon),
		WalletConf:     filepath.Join(user, cfg.Wallet.WalletConf),
		MasternodeConf: filepath.Join(user, cfg.Wallet.MasternodeConf),
	}, nil
}

// CheckInstalled verifies the local wallet binaries exist. A suffix match
// is accepted so that platform extensions like .exe are found.
func CheckInstalled(paths models.Paths) error {
	for _, bin := range []string{paths.Cli, paths.Daemon} {
		matches, err := filepath.Glob(bin + "*")
		if err != nil {
			return fmt.Errorf("checking %s: %w", bin, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("unable to find file: %s, please check your installation", bin)
		}
	}
	return nil
}
