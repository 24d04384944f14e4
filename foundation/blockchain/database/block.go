package database

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/genesis"
	"github.com/blocksim/blocksim/foundation/blockchain/signature"
	"golang.org/x/time/rate"
)

// BlockHeader represents the information mined and validated for each
// block. The block hash is computed over the header alone, the payload is
// bound in through the reward hash.
type BlockHeader struct {
	Number     uint64    `json:"number"`      // Block number in the chain, genesis is 0.
	ParentHash string    `json:"parent_hash"` // Hash of the previous block in the chain.
	TimeStamp  uint64    `json:"timestamp"`   // Unix milliseconds the block was mined.
	ProposerID AccountID `json:"proposer"`    // The node who mined this block and receives the reward.
	Difficulty uint16    `json:"difficulty"`  // Number of 0 nibbles needed to solve the hash solution.
	Nonce      uint64    `json:"nonce"`       // Value identified to solve the hash solution.
	RewardHash string    `json:"reward_hash"` // Hash of the reward payload carried by this block.
}

// Block represents one entry of a chain replica. The signature is over
// the block header and is produced with the proposer's private key.
type Block struct {
	Header BlockHeader
	Reward RewardTx
	SigV   *big.Int
	SigR   *big.Int
	SigS   *big.Int
}

// GenesisBlock constructs block zero for the chain described by the
// specified genesis document. Every replica builds an identical copy, so
// it is the shared trust anchor and carries no proposer or signature.
func GenesisBlock(gen genesis.Genesis) Block {
	return Block{
		Header: BlockHeader{
			Number:     0,
			ParentHash: signature.ZeroHash,
			TimeStamp:  uint64(gen.Date.UTC().UnixMilli()),
			Difficulty: gen.Difficulty,
		},
	}
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic puzzle, then signs the result with the
// proposer's private key. The search is unbounded but cancellable.
func POW(ctx context.Context, proposer *ecdsa.PrivateKey, difficulty uint16, prevBlock Block, reward RewardTx, ev func(v string, args ...any)) (Block, error) {

	// Construct the block to be mined.
	nb := Block{
		Header: BlockHeader{
			Number:     prevBlock.Header.Number + 1,
			ParentHash: prevBlock.Hash(),
			TimeStamp:  uint64(time.Now().UTC().UnixMilli()),
			ProposerID: PublicKeyToAccountID(proposer.PublicKey),
			Difficulty: difficulty,
			Nonce:      0, // Will be identified by the search below.
			RewardHash: reward.Hash(),
		},
		Reward: reward,
	}

	if err := nb.performPOW(ctx, ev); err != nil {
		return Block{}, err
	}

	// Sign the block so validators can tie it back to the proposer.
	v, r, s, err := signature.Sign(nb.Header, proposer)
	if err != nil {
		return Block{}, fmt.Errorf("signing block: %w", err)
	}
	nb.SigV, nb.SigR, nb.SigS = v, r, s

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for the block.
// Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started: blk[%d]", b.Header.Number)
	defer ev("database: PerformPOW: MINING: completed: blk[%d]", b.Header.Number)

	// Progress events are throttled so a hard target doesn't flood the
	// event stream with attempt counts.
	progress := rate.NewLimiter(rate.Every(time.Second), 1)

	// Loop incrementing the nonce until the hash solves the puzzle or
	// the simulation is asked to stop.
	var attempts uint64
	for {
		attempts++
		if progress.Allow() {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// Were we asked to stop mid search.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.Hash()
		if !isHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.ParentHash, hash)
		ev("database: PerformPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}

// Hash returns the unique hash for the Block. Block zero hashes to the
// zero hash on every replica so the genesis linkage is fixed.
func (b Block) Hash() string {
	if b.Header.Number == 0 {
		return signature.ZeroHash
	}

	return signature.Hash(b.Header)
}

// ValidateBlock takes a candidate block and validates it against the
// specified previous block. Each failure carries the specific rejection
// reason. The check is side-effect free.
func (b Block) ValidateBlock(previousBlock Block, ev func(v string, args ...any)) error {
	ev("database: ValidateBlock: blk[%d]: check: block number is the next number", b.Header.Number)

	nextNumber := previousBlock.Header.Number + 1
	if b.Header.Number != nextNumber {
		return NewInvalidBlockError(ReasonStaleNumber, fmt.Errorf("not the next block number, got %d, exp %d", b.Header.Number, nextNumber))
	}

	ev("database: ValidateBlock: blk[%d]: check: parent hash matches previous block", b.Header.Number)

	if b.Header.ParentHash != previousBlock.Hash() {
		return NewInvalidBlockError(ReasonBadLinkage, fmt.Errorf("parent hash doesn't match previous block, got %s, exp %s", b.Header.ParentHash, previousBlock.Hash()))
	}

	ev("database: ValidateBlock: blk[%d]: check: reward hash matches payload", b.Header.Number)

	if b.Header.RewardHash != b.Reward.Hash() {
		return NewInvalidBlockError(ReasonHashMismatch, fmt.Errorf("reward hash doesn't match payload, got %s, exp %s", b.Reward.Hash(), b.Header.RewardHash))
	}

	ev("database: ValidateBlock: blk[%d]: check: difficulty is not below the parent difficulty", b.Header.Number)

	// The difficulty is fixed for the life of a run, so a candidate
	// carrying a weaker target than its parent is refusing to do the
	// configured work.
	if b.Header.Difficulty < previousBlock.Header.Difficulty {
		return NewInvalidBlockError(ReasonPowNotMet, fmt.Errorf("difficulty dropped from %d to %d", previousBlock.Header.Difficulty, b.Header.Difficulty))
	}

	ev("database: ValidateBlock: blk[%d]: check: block hash has been solved", b.Header.Number)

	if !isHashSolved(b.Header.Difficulty, b.Hash()) {
		return NewInvalidBlockError(ReasonPowNotMet, fmt.Errorf("%s does not solve difficulty %d", b.Hash(), b.Header.Difficulty))
	}

	ev("database: ValidateBlock: blk[%d]: check: timestamp is not before previous block", b.Header.Number)

	if b.Header.TimeStamp < previousBlock.Header.TimeStamp {
		return NewInvalidBlockError(ReasonBadTimeStamp, fmt.Errorf("timestamp went backwards, got %d, exp >= %d", b.Header.TimeStamp, previousBlock.Header.TimeStamp))
	}

	ev("database: ValidateBlock: blk[%d]: check: signature recovers the proposer", b.Header.Number)

	if err := signature.VerifySignature(b.SigV, b.SigR, b.SigS); err != nil {
		return NewInvalidBlockError(ReasonBadSignature, err)
	}

	address, err := signature.FromAddress(b.Header, b.SigV, b.SigR, b.SigS)
	if err != nil {
		return NewInvalidBlockError(ReasonBadSignature, err)
	}
	if AccountID(address) != b.Header.ProposerID {
		return NewInvalidBlockError(ReasonBadSignature, fmt.Errorf("signature recovers %s, exp %s", address, b.Header.ProposerID))
	}

	return nil
}

// isHashSolved checks the hash to make sure it complies with the work
// rules. The difficulty is the number of leading 0 nibbles to match.
func isHashSolved(difficulty uint16, hash string) bool {
	const match = "0x00000000000000000"

	if len(hash) != 66 || int(difficulty) > len(match)-2 {
		return false
	}

	return hash[:2+difficulty] == match[:2+difficulty]
}

// =============================================================================

// BlockData is the form of a block that travels between replicas and is
// written to the archive. It is an immutable copy and carries the
// recorded hash so a validator can detect tampering with any field.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"block"`
	Reward RewardTx    `json:"reward"`
	SigV   *big.Int    `json:"sig_v"`
	SigR   *big.Int    `json:"sig_r"`
	SigS   *big.Int    `json:"sig_s"`
}

// NewBlockData constructs the value to broadcast and archive.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Reward: block.Reward,
		SigV:   block.SigV,
		SigR:   block.SigR,
		SigS:   block.SigS,
	}
}

// ToBlock converts a BlockData back into a Block.
func ToBlock(data BlockData) Block {
	return Block{
		Header: data.Header,
		Reward: data.Reward,
		SigV:   data.SigV,
		SigR:   data.SigR,
		SigS:   data.SigS,
	}
}
