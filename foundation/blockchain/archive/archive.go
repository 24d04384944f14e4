// Package archive writes a finished run's chain to a local leveldb store
// so it can be inspected after the simulation ends. The archive sits
// outside the consensus path, replicas never read from it.
package archive

import (
	"encoding/json"
	"fmt"

	"github.com/blocksim/blocksim/foundation/blockchain/database"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// blockKeyPrefix namespaces block entries inside the store. Keys are
// zero-padded so the iterator returns blocks in chain order.
const blockKeyPrefix = "block:"

// Archive provides access to the chain export store.
type Archive struct {
	db *leveldb.DB
}

// Open opens or creates the archive at the specified path.
func Open(path string) (*Archive, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close releases the underlying store.
func (a *Archive) Close() error {
	return a.db.Close()
}

// WriteBlock stores a single block keyed by its number.
func (a *Archive) WriteBlock(data database.BlockData) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", data.Header.Number, err)
	}

	if err := a.db.Put(blockKey(data.Header.Number), value, nil); err != nil {
		return fmt.Errorf("storing block %d: %w", data.Header.Number, err)
	}

	return nil
}

// WriteChain stores every block of the specified replica copy.
func (a *Archive) WriteChain(blocks []database.BlockData) error {
	for _, data := range blocks {
		if err := a.WriteBlock(data); err != nil {
			return err
		}
	}

	return nil
}

// ReadAllBlocks returns the archived chain in block number order.
func (a *Archive) ReadAllBlocks() ([]database.BlockData, error) {
	iter := a.db.NewIterator(util.BytesPrefix([]byte(blockKeyPrefix)), nil)
	defer iter.Release()

	var blocks []database.BlockData
	for iter.Next() {
		var data database.BlockData
		if err := json.Unmarshal(iter.Value(), &data); err != nil {
			return nil, fmt.Errorf("unmarshal block at key %s: %w", iter.Key(), err)
		}
		blocks = append(blocks, data)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating archive: %w", err)
	}

	return blocks, nil
}

// blockKey formats the store key for a block number.
func blockKey(number uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", blockKeyPrefix, number))
}
