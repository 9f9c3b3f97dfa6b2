// Package walletconf edits the local wallet files: the wallet conf holding
// RPC credentials and the masternode registry.
package walletconf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/fgeck/masternode-setup/internal/models"
)

// GenerateFunc produces a credential value.
type GenerateFunc func() (string, error)

// EnsureRPCCredentials appends rpcuser and rpcpassword lines to the wallet
// conf at path when they are missing. Existing values are never touched.
// It returns the keys that were added.
func EnsureRPCCredentials(path string, generate GenerateFunc) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read wallet conf: %w", err)
	}

	present := confKeys(content)

	var added []string
	var buf bytes.Buffer
	if len(content) > 0 && content[len(content)-1] != '\n' {
		buf.WriteByte('\n')
	}
	for _, key := range []string{"rpcuser", "rpcpassword"} {
		if present[key] {
			continue
		}
		value, err := generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s: %w", key, err)
		}
		fmt.Fprintf(&buf, "%s=%s\n", key, value)
		added = append(added, key)
	}

	if len(added) == 0 {
		return nil, nil
	}

	if err := appendFile(path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to update wallet conf: %w", err)
	}
	return added, nil
}

// confKeys returns the keys set in key=value content. Comments are ignored.
func confKeys(content []byte) map[string]bool {
	keys := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, _, ok := strings.Cut(line, "="); ok {
			keys[strings.TrimSpace(key)] = true
		}
	}
	return keys
}

// FormatEntry renders one registry line.
func FormatEntry(e models.RegistryEntry) string {
	return fmt.Sprintf("%s %s %s %s %d", e.Label, e.Address, e.MasternodeKey, e.TxHash, e.OutputIndex)
}

// AppendRegistryEntry appends e to the masternode registry at path,
// preceded by a newline.
func AppendRegistryEntry(path string, e models.RegistryEntry) error {
	if err := appendFile(path, []byte("\n"+FormatEntry(e))); err != nil {
		return fmt.Errorf("failed to update masternode conf: %w", err)
	}
	return nil
}

// ReadRegistry parses the masternode registry at path. Blank lines and
// comments are skipped; malformed lines are reported with their number.
func ReadRegistry(path string) ([]models.RegistryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open masternode conf: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []models.RegistryEntry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 5 {
			return nil, fmt.Errorf("line %d: expected 5 fields, got %d", lineNo, len(fields))
		}
		idx, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid output index %q", lineNo, fields[4])
		}

		entries = append(entries, models.RegistryEntry{
			Label:         fields[0],
			Address:       fields[1],
			MasternodeKey: fields[2],
			TxHash:        fields[3],
			OutputIndex:   idx,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read masternode conf: %w", err)
	}
	return entries, nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
