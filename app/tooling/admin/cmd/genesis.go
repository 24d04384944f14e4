package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Write a default genesis document",
	Run:   genesisRun,
}

func init() {
	rootCmd.AddCommand(genesisCmd)
}

func genesisRun(cmd *cobra.Command, args []string) {
	gen := genesis.Genesis{
		Date:         time.Now().UTC(),
		ChainID:      1,
		Difficulty:   2,
		MiningReward: 50_000_000_000,
	}

	if err := genesis.Save(genesisPath, gen); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("wrote %s\n", genesisPath)
}
