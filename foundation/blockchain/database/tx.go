package database

import (
	"github.com/blocksim/blocksim/foundation/blockchain/signature"
)

// RewardTx is the single payload entry carried by every mined block. It
// credits the proposer with the configured mining reward. A transaction
// pool is not modeled, so this is the only ledger content a block has.
type RewardTx struct {
	BeneficiaryID AccountID `json:"beneficiary"`
	Value         uint64    `json:"value"`
}

// NewRewardTx constructs the reward payload for the specified proposer.
func NewRewardTx(beneficiaryID AccountID, value uint64) RewardTx {
	return RewardTx{
		BeneficiaryID: beneficiaryID,
		Value:         value,
	}
}

// Hash returns the unique hash for the reward payload. The block header
// carries this hash so tampering with the payload breaks the block hash.
func (tx RewardTx) Hash() string {
	return signature.Hash(tx)
}
