package archive_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/blocksim/blocksim/foundation/blockchain/archive"
	"github.com/blocksim/blocksim/foundation/blockchain/database"
)

func TestWriteReadChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive")

	arc, err := archive.Open(path)
	if err != nil {
		t.Fatalf("opening archive: %s", err)
	}
	defer arc.Close()

	// Write out of order, the archive must return chain order.
	var blocks []database.BlockData
	for _, number := range []uint64{2, 0, 1} {
		blocks = append(blocks, database.BlockData{
			Hash: fmt.Sprintf("0x%064d", number),
			Header: database.BlockHeader{
				Number: number,
			},
		})
	}

	if err := arc.WriteChain(blocks); err != nil {
		t.Fatalf("writing chain: %s", err)
	}

	read, err := arc.ReadAllBlocks()
	if err != nil {
		t.Fatalf("reading blocks: %s", err)
	}

	if len(read) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(read))
	}

	for i, data := range read {
		if data.Header.Number != uint64(i) {
			t.Errorf("block %d out of order, got number %d", i, data.Header.Number)
		}
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive")

	arc, err := archive.Open(path)
	if err != nil {
		t.Fatalf("opening archive: %s", err)
	}

	data := database.BlockData{
		Hash:   "0x00000000000000000000000000000000000000000000000000000000000000aa",
		Header: database.BlockHeader{Number: 1},
	}
	if err := arc.WriteBlock(data); err != nil {
		t.Fatalf("writing block: %s", err)
	}
	arc.Close()

	arc, err = archive.Open(path)
	if err != nil {
		t.Fatalf("reopening archive: %s", err)
	}
	defer arc.Close()

	read, err := arc.ReadAllBlocks()
	if err != nil {
		t.Fatalf("reading blocks: %s", err)
	}

	if len(read) != 1 || read[0].Hash != data.Hash {
		t.Fatalf("expected the written block back, got %+v", read)
	}
}
