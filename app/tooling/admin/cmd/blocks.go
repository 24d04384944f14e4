package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/archive"
	"github.com/blocksim/blocksim/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "List the blocks of the archived chain",
	Run:   blocksRun,
}

func init() {
	rootCmd.AddCommand(blocksCmd)
}

func blocksRun(cmd *cobra.Command, args []string) {
	arc, err := archive.Open(archivePath)
	if err != nil {
		log.Fatal(err)
	}
	defer arc.Close()

	blocks, err := arc.ReadAllBlocks()
	if err != nil {
		log.Fatal(err)
	}

	for _, data := range blocks {
		minedAt := time.UnixMilli(int64(data.Header.TimeStamp)).UTC()

		// The genesis block carries no proposer signature.
		sig := "none"
		if data.SigV != nil {
			sig = signature.SignatureString(data.SigV, data.SigR, data.SigS)
		}

		fmt.Printf("blk[%4d] hash[%s] proposer[%s] nonce[%d] mined[%s] sig[%s]\n",
			data.Header.Number, data.Hash, data.Header.ProposerID, data.Header.Nonce, minedAt.Format(time.RFC3339), sig)
	}
}
