package nameservice_test

import (
	"path/filepath"
	"testing"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"github.com/blocksim/blocksim/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestLookup(t *testing.T) {
	folder := t.TempDir()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}

	if err := crypto.SaveECDSA(filepath.Join(folder, "node1.ecdsa"), privateKey); err != nil {
		t.Fatalf("saving key: %s", err)
	}

	ns, err := nameservice.New(folder)
	if err != nil {
		t.Fatalf("constructing name service: %s", err)
	}

	accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
	if name := ns.Lookup(accountID); name != "node1" {
		t.Errorf("expected name node1 for %s, got %s", accountID, name)
	}

	// An unknown account falls back to the address itself.
	const unknown = database.AccountID("0x0000000000000000000000000000000000000001")
	if name := ns.Lookup(unknown); name != string(unknown) {
		t.Errorf("expected the address back for an unknown account, got %s", name)
	}

	if cpy := ns.Copy(); len(cpy) != 1 || cpy[accountID] != "node1" {
		t.Errorf("expected a single entry map, got %+v", cpy)
	}
}
