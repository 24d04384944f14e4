// Package database maintains the block and chain model for the
// simulation: hashing rules, the proof of work search, block validation
// and the append-only chain replica each node owns.
package database

import (
	"fmt"
)

// Chain maintains one replica of the simulated ledger. A replica is
// owned exclusively by a single node goroutine, so no locking exists at
// this level. Past blocks are never mutated, the chain only appends.
type Chain struct {
	blocks    []Block
	evHandler func(v string, args ...any)
}

// NewChain constructs a replica seeded with the specified genesis block.
func NewChain(genesisBlock Block, ev func(v string, args ...any)) *Chain {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Chain{
		blocks:    []Block{genesisBlock},
		evHandler: ev,
	}
}

// Tip returns the most recent block in the replica.
func (c *Chain) Tip() Block {
	return c.blocks[len(c.blocks)-1]
}

// Height returns the number of blocks in the replica, genesis included.
func (c *Chain) Height() uint64 {
	return uint64(len(c.blocks))
}

// Blocks returns a copy of the replica in broadcast form for queries.
func (c *Chain) Blocks() []BlockData {
	cpy := make([]BlockData, len(c.blocks))
	for i, block := range c.blocks {
		cpy[i] = NewBlockData(block)
	}

	return cpy
}

// Append validates the candidate against the current tip and extends the
// replica. Rejections carry the specific reason and leave the replica
// untouched.
func (c *Chain) Append(data BlockData) error {
	block := ToBlock(data)

	// The recorded hash must match what the fields hash to, otherwise
	// some field was altered after mining.
	if data.Hash != block.Hash() {
		return NewInvalidBlockError(ReasonHashMismatch, fmt.Errorf("recorded hash doesn't match fields, got %s, exp %s", data.Hash, block.Hash()))
	}

	if err := block.ValidateBlock(c.Tip(), c.evHandler); err != nil {
		return err
	}

	c.blocks = append(c.blocks, block)

	return nil
}

// Validate re-checks every block of the replica against its predecessor.
// A valid replica recomputes to the same hashes and satisfies the work
// rules block by block.
func (c *Chain) Validate() error {
	for i := 1; i < len(c.blocks); i++ {
		if err := c.blocks[i].ValidateBlock(c.blocks[i-1], c.evHandler); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}

	return nil
}
