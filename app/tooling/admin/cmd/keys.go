package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys [count]",
	Short: "Generate key pair files for the specified number of nodes",
	Args:  cobra.ExactArgs(1),
	Run:   keysRun,
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

func keysRun(cmd *cobra.Command, args []string) {
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		log.Fatalf("invalid node count %q", args[0])
	}

	if err := os.MkdirAll(accountsFolder, 0755); err != nil {
		log.Fatal(err)
	}

	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("node%d", i)
		path := filepath.Join(accountsFolder, name+".ecdsa")

		// Keep the key from a previous run if one exists.
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("%s: exists, skipping\n", name)
			continue
		}

		privateKey, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}

		if err := crypto.SaveECDSA(path, privateKey); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("%s: %s\n", name, database.PublicKeyToAccountID(privateKey.PublicKey))
	}
}
