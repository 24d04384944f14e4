package genesis_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/genesis"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")

	gen := genesis.Genesis{
		Date:         time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:      1,
		Difficulty:   2,
		MiningReward: 50_000_000_000,
	}

	if err := genesis.Save(path, gen); err != nil {
		t.Fatalf("saving genesis: %s", err)
	}

	loaded, err := genesis.Load(path)
	if err != nil {
		t.Fatalf("loading genesis: %s", err)
	}

	if loaded != gen {
		t.Errorf("loaded %+v, expected %+v", loaded, gen)
	}
}

func TestLoadRejectsInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")

	// Difficulty outside the allowed range.
	doc := `{"date":"2026-01-01T00:00:00Z","chain_id":1,"difficulty":12,"mining_reward":1}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("writing genesis file: %s", err)
	}

	if _, err := genesis.Load(path); err == nil {
		t.Fatal("expected an out of range difficulty to be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := genesis.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected a missing genesis file to be an error")
	}
}
