package activation

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fgeck/masternode-setup/internal/models"
)

// DefaultConfTemplate is the node conf used when no template file is configured.
const DefaultConfTemplate = `rpcuser=${rpcuser}
rpcpassword=${rpcpassword}
rpcallowip=127.0.0.1
server=1
listen=1
daemon=1
externalip=${externalip}
port=${port}
masternode=1
masternodeprivkey=${masternodepivkey}
`

// LoadConfTemplate returns the template at cfg.VPS.ConfTemplate or the
// default one.
func LoadConfTemplate(cfg models.Config) (string, error) {
	if cfg.VPS.ConfTemplate == "" {
		return DefaultConfTemplate, nil
	}

	b, err := os.ReadFile(cfg.VPS.ConfTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to read conf template: %w", err)
	}
	return string(b), nil
}

// confValues are the substitutions available to a conf template.
func confValues(cfg models.Config, rpcUser, rpcPassword, masternodeKey string) map[string]string {
	return map[string]string{
		"rpcuser":          rpcUser,
		"rpcpassword":      rpcPassword,
		"externalip":       cfg.SSH.Host,
		"port":             strconv.Itoa(cfg.Coin.Port),
		"masternodepivkey": masternodeKey,
	}
}

// RenderConf substitutes $key and ${key} in tmpl. $$ yields a literal $.
// Unknown keys are an error.
func RenderConf(tmpl string, values map[string]string) (string, error) {
	missing := make(map[string]bool)

	out := os.Expand(tmpl, func(key string) string {
		if key == "$" {
			return "$"
		}
		v, ok := values[key]
		if !ok {
			missing[key] = true
		}
		return v
	})

	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("conf template references unknown keys: %s", strings.Join(keys, ", "))
	}
	return out, nil
}
