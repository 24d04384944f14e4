// Package genesis maintains access to the genesis document that seeds
// every replica in the simulation.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/blocksim/blocksim/foundation/validate"
)

// Genesis represents the parameters every node must agree on before the
// first round. The difficulty is fixed for the life of the run, there is
// no retargeting.
type Genesis struct {
	Date         time.Time `json:"date"`
	ChainID      uint16    `json:"chain_id" validate:"required"`
	Difficulty   uint16    `json:"difficulty" validate:"required,min=1,max=6"` // Number of leading 0 nibbles needed to solve the work problem.
	MiningReward uint64    `json:"mining_reward" validate:"required"`          // Reward credited to the proposer of each mined block.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("reading genesis file: %w", err)
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("unmarshal genesis file: %w", err)
	}

	if err := validate.Check(genesis); err != nil {
		return Genesis{}, fmt.Errorf("invalid genesis document: %w", err)
	}

	return genesis, nil
}

// Save writes the genesis document to the specified path. Used by the
// tooling to seed a fresh simulation folder.
func Save(path string, genesis Genesis) error {
	content, err := json.MarshalIndent(genesis, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal genesis file: %w", err)
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}
