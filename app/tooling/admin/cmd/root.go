// Package cmd contains the admin tooling commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	accountsFolder string
	archivePath    string
	genesisPath    string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountsFolder, "accounts", "a", "zblock/accounts/", "Path to the directory with node private keys.")
	rootCmd.PersistentFlags().StringVarP(&archivePath, "archive", "r", "zblock/archive", "Path to the chain archive.")
	rootCmd.PersistentFlags().StringVarP(&genesisPath, "genesis-path", "g", "zblock/genesis.json", "Path to the genesis document.")
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Admin tooling for the consensus simulator",
}

// Execute runs the selected command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
