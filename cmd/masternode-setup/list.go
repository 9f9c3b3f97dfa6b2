package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fgeck/masternode-setup/internal/config"
	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/fgeck/masternode-setup/internal/walletconf"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	registryFile string
	showKeys     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List masternodes registered in the local wallet",
	Long: `Print the entries of the local masternode registry (masternode.conf).
The registry is located through the environment variables named in the config
file unless --file is given.`,
	RunE: listMasternodes,
}

func init() {
	listCmd.Flags().StringVar(&registryFile, "file", "", "masternode registry file (default: resolved from the config)")
	listCmd.Flags().BoolVar(&showKeys, "show-keys", false, "print masternode keys in full")
}

func listMasternodes(cmd *cobra.Command, args []string) error {
	path := registryFile
	if path == "" {
		if configFile == "" {
			log.Error().Msg("config file or --file is required")
			return cmd.Help()
		}

		cfg, err := config.NewParser().LoadFile(configFile)
		if err != nil {
			log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
			return err
		}

		paths, err := config.ResolvePaths(*cfg, os.LookupEnv)
		if err != nil {
			log.Error().Err(err).Msg("failed to resolve wallet installation")
			return err
		}
		path = paths.MasternodeConf
	}

	entries, err := walletconf.ReadRegistry(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("failed to read masternode registry")
		return err
	}

	if len(entries) == 0 {
		fmt.Printf("No masternodes registered in %s\n", path)
		return nil
	}

	renderRegistry(os.Stdout, entries, showKeys)
	return nil
}

func renderRegistry(w io.Writer, entries []models.RegistryEntry, full bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Alias", "Address", "Masternode Key", "Collateral Tx", "Index"})
	table.SetAutoWrapText(false)

	for _, e := range entries {
		key := e.MasternodeKey
		if !full {
			key = maskKey(key)
		}
		table.Append([]string{e.Label, e.Address, key, e.TxHash, strconv.Itoa(e.OutputIndex)})
	}

	table.Render()
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
