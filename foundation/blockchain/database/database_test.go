package database_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"github.com/blocksim/blocksim/foundation/blockchain/genesis"
	"github.com/blocksim/blocksim/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// noEv is used when the tests don't care about the diagnostic events.
func noEv(v string, args ...any) {}

// testGenesis returns a genesis document with a target weak enough for
// mining to complete instantly in tests.
func testGenesis() genesis.Genesis {
	return genesis.Genesis{
		Date:         time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:      1,
		Difficulty:   1,
		MiningReward: 50_000_000_000,
	}
}

// mustKey generates a fresh node identity for a test.
func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a private key: %v", failed, err)
	}

	return privateKey
}

// mineBlock mines one valid block on top of the specified previous block.
func mineBlock(t *testing.T, privateKey *ecdsa.PrivateKey, gen genesis.Genesis, prev database.Block) database.Block {
	t.Helper()

	accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
	reward := database.NewRewardTx(accountID, gen.MiningReward)

	block, err := database.POW(context.Background(), privateKey, gen.Difficulty, prev, reward, noEv)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}

	return block
}

// resign produces a fresh signature over the block header with the
// specified key.
func resign(block database.Block, signer *ecdsa.PrivateKey) (v, r, s *big.Int, err error) {
	return signature.Sign(block.Header, signer)
}

// =============================================================================

func Test_POW(t *testing.T) {
	t.Log("Given the need to mine a block that extends the genesis block.")
	{
		gen := testGenesis()
		privateKey := mustKey(t)
		accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
		genesisBlock := database.GenesisBlock(gen)

		block := mineBlock(t, privateKey, gen, genesisBlock)
		t.Logf("\t%s\tShould be able to mine a block.", success)

		if block.Header.Number != 1 {
			t.Errorf("\t%s\tShould have block number 1, got %d.", failed, block.Header.Number)
		} else {
			t.Logf("\t%s\tShould have block number 1.", success)
		}

		if block.Header.ParentHash != genesisBlock.Hash() {
			t.Errorf("\t%s\tShould link to the genesis hash.", failed)
		} else {
			t.Logf("\t%s\tShould link to the genesis hash.", success)
		}

		if block.Header.ProposerID != accountID {
			t.Errorf("\t%s\tShould carry the proposer identity.", failed)
		} else {
			t.Logf("\t%s\tShould carry the proposer identity.", success)
		}

		// Recomputing the hash from the fields must reproduce the
		// recorded value and satisfy the difficulty target.
		data := database.NewBlockData(block)
		if data.Hash != database.ToBlock(data).Hash() {
			t.Errorf("\t%s\tShould recompute to the recorded hash.", failed)
		} else {
			t.Logf("\t%s\tShould recompute to the recorded hash.", success)
		}

		if err := block.ValidateBlock(genesisBlock, noEv); err != nil {
			t.Errorf("\t%s\tShould validate against the genesis block: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould validate against the genesis block.", success)
		}

		if block.Hash() == block.Hash() {
			t.Logf("\t%s\tShould hash deterministically.", success)
		} else {
			t.Errorf("\t%s\tShould hash deterministically.", failed)
		}
	}
}

func Test_BlockValidation(t *testing.T) {
	type table struct {
		name   string
		mutate func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData
		reason string
	}

	gen := testGenesis()
	privateKey := mustKey(t)
	genesisBlock := database.GenesisBlock(gen)

	// rehash recomputes the recorded hash after a header mutation so a
	// test reaches the check it is aiming for.
	rehash := func(data database.BlockData) database.BlockData {
		data.Hash = database.ToBlock(data).Hash()
		return data
	}

	tt := []table{
		{
			name: "stale number",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				data.Header.Number = 0
				return rehash(data)
			},
			reason: database.ReasonStaleNumber,
		},
		{
			name: "bad linkage",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				data.Header.ParentHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
				return rehash(data)
			},
			reason: database.ReasonBadLinkage,
		},
		{
			name: "tampered payload",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				data.Reward.Value++
				return data
			},
			reason: database.ReasonHashMismatch,
		},
		{
			name: "tampered recorded hash",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				data.Hash = "0x2222222222222222222222222222222222222222222222222222222222222222"
				return data
			},
			reason: database.ReasonHashMismatch,
		},
		{
			name: "work not solved",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				data.Header.Difficulty = 6
				return rehash(data)
			},
			reason: database.ReasonPowNotMet,
		},
		{
			name: "zero difficulty",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				data.Header.Difficulty = 0
				data.Header.Nonce = 0
				if v, r, s, err := resign(database.ToBlock(data), privateKey); err == nil {
					data.SigV, data.SigR, data.SigS = v, r, s
				}
				return rehash(data)
			},
			reason: database.ReasonPowNotMet,
		},
		{
			name: "oversized difficulty",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				data.Header.Difficulty = 100
				if v, r, s, err := resign(database.ToBlock(data), privateKey); err == nil {
					data.SigV, data.SigR, data.SigS = v, r, s
				}
				return rehash(data)
			},
			reason: database.ReasonPowNotMet,
		},
		{
			name: "wrong signer",
			mutate: func(data database.BlockData, signer *ecdsa.PrivateKey) database.BlockData {
				block := database.ToBlock(data)
				if v, r, s, err := resign(block, signer); err == nil {
					data.SigV, data.SigR, data.SigS = v, r, s
				}
				return data
			},
			reason: database.ReasonBadSignature,
		},
	}

	t.Log("Given the need to reject invalid candidate blocks with a specific reason.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling a %s block.", testID, tst.name)
			{
				f := func(t *testing.T) {
					chain := database.NewChain(genesisBlock, noEv)
					block := mineBlock(t, privateKey, gen, genesisBlock)

					otherKey := mustKey(t)
					data := tst.mutate(database.NewBlockData(block), otherKey)

					err := chain.Append(data)
					if err == nil {
						t.Fatalf("\t%s\tTest %d:\tShould reject the block.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)

					if reason := database.Reason(err); reason != tst.reason {
						t.Errorf("\t%s\tTest %d:\tShould reject with reason %q, got %q.", failed, testID, tst.reason, reason)
					} else {
						t.Logf("\t%s\tTest %d:\tShould reject with reason %q.", success, testID, tst.reason)
					}

					if chain.Height() != 1 {
						t.Errorf("\t%s\tTest %d:\tShould leave the replica untouched.", failed, testID)
					} else {
						t.Logf("\t%s\tTest %d:\tShould leave the replica untouched.", success, testID)
					}
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_BadTimeStamp(t *testing.T) {
	t.Log("Given the need to reject a block whose timestamp went backwards.")
	{
		gen := testGenesis()
		privateKey := mustKey(t)

		// Mine against a doctored previous block stamped in the future.
		// Block zero hashes to the zero hash regardless of its fields,
		// so the linkage still holds and only the timestamp check fires.
		future := database.GenesisBlock(gen)
		future.Header.TimeStamp = uint64(time.Now().Add(time.Hour).UTC().UnixMilli())

		block := mineBlock(t, privateKey, gen, future)

		err := block.ValidateBlock(future, noEv)
		if err == nil {
			t.Fatalf("\t%s\tShould reject the block.", failed)
		}
		t.Logf("\t%s\tShould reject the block.", success)

		if reason := database.Reason(err); reason != database.ReasonBadTimeStamp {
			t.Errorf("\t%s\tShould reject with reason %q, got %q.", failed, database.ReasonBadTimeStamp, reason)
		} else {
			t.Logf("\t%s\tShould reject with reason %q.", success, database.ReasonBadTimeStamp)
		}
	}
}

func Test_ChainAppend(t *testing.T) {
	t.Log("Given the need to extend a replica and keep it valid.")
	{
		gen := testGenesis()
		privateKey := mustKey(t)
		chain := database.NewChain(database.GenesisBlock(gen), noEv)

		blockA := mineBlock(t, privateKey, gen, chain.Tip())
		if err := chain.Append(database.NewBlockData(blockA)); err != nil {
			t.Fatalf("\t%s\tShould be able to append the first block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to append the first block.", success)

		blockB := mineBlock(t, privateKey, gen, chain.Tip())
		if err := chain.Append(database.NewBlockData(blockB)); err != nil {
			t.Fatalf("\t%s\tShould be able to append the second block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to append the second block.", success)

		if chain.Height() != 3 {
			t.Errorf("\t%s\tShould have height 3, got %d.", failed, chain.Height())
		} else {
			t.Logf("\t%s\tShould have height 3.", success)
		}

		// Replaying an old block must be rejected as stale.
		err := chain.Append(database.NewBlockData(blockA))
		if reason := database.Reason(err); reason != database.ReasonStaleNumber {
			t.Errorf("\t%s\tShould reject a replayed block as %q, got %q.", failed, database.ReasonStaleNumber, reason)
		} else {
			t.Logf("\t%s\tShould reject a replayed block as %q.", success, database.ReasonStaleNumber)
		}

		if err := chain.Validate(); err != nil {
			t.Errorf("\t%s\tShould validate the whole replica: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould validate the whole replica.", success)
		}
	}
}

func Test_MiningCancel(t *testing.T) {
	t.Log("Given the need to interrupt an in-flight mining search.")
	{
		gen := testGenesis()
		gen.Difficulty = 6 // Hard enough that the search cannot finish first.

		privateKey := mustKey(t)
		accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
		reward := database.NewRewardTx(accountID, gen.MiningReward)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := database.POW(ctx, privateKey, gen.Difficulty, database.GenesisBlock(gen), reward, noEv)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("\t%s\tShould return the cancellation error, got %v.", failed, err)
		}
		t.Logf("\t%s\tShould return the cancellation error.", success)
	}
}
