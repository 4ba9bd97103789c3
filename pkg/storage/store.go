// Package storage is the harness-level snapshot store: it is not part
// of the core matching/risk engine (spec §1 Non-goals exclude
// persistence from the buffer's own responsibilities), but a devnet
// process restarting mid-market needs somewhere durable to load its
// MarketBuffer from. It follows the teacher's pebble-backed
// key-per-record layout, adapted from block/certificate storage to
// header/block storage.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/valleyfi/perpengine/pkg/buffer"
)

// Store persists MarketBuffer snapshots in a pebble key-value store,
// one market per common.Hash identity.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a pebble store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes market's current header and every block to the store in
// one batch, synced to disk before returning (spec §6.1's buffer layout
// expressed as pebble keys instead of one flat byte region).
func (s *Store) Save(market common.Hash, mb *buffer.MarketBuffer) error {
	h, blocks := mb.Snapshot()

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(headerKey(market), encodeHeader(h), nil); err != nil {
		return fmt.Errorf("storage: stage header: %w", err)
	}

	var numBlocks [4]byte
	putUint32(numBlocks[:], uint32(len(blocks)))
	if err := batch.Set(numBlocksKey(market), numBlocks[:], nil); err != nil {
		return fmt.Errorf("storage: stage block count: %w", err)
	}

	for i, b := range blocks {
		idx := uint32(i)
		var enc []byte
		switch b.Tag {
		case buffer.TagSeat:
			enc = encodeSeat(b.Seat)
		case buffer.TagOrder:
			enc = encodeOrder(b.Order)
		default:
			continue // free blocks are implied by absence; Load re-synthesizes them
		}
		if err := batch.Set(blockKey(market, idx), enc, nil); err != nil {
			return fmt.Errorf("storage: stage block %d: %w", idx, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("storage: commit snapshot: %w", err)
	}
	return nil
}

// Load reconstructs a MarketBuffer previously written by Save, or
// returns (nil, false, nil) if no snapshot exists for market.
func (s *Store) Load(market common.Hash) (*buffer.MarketBuffer, bool, error) {
	hdrBytes, closer, err := s.db.Get(headerKey(market))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get header: %w", err)
	}
	hdrCopy := append([]byte(nil), hdrBytes...)
	closer.Close()

	h, err := decodeHeader(hdrCopy)
	if err != nil {
		return nil, false, err
	}

	nbBytes, closer, err := s.db.Get(numBlocksKey(market))
	if err != nil {
		return nil, false, fmt.Errorf("storage: get block count: %w", err)
	}
	numBlocks := getUint32(nbBytes)
	closer.Close()

	blocks := make([]buffer.BlockSnapshot, numBlocks)

	prefix := blockPrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: iterate blocks: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		idx := getUint32(key[len(key)-4:])
		val := iter.Value()
		if len(val) == 0 {
			continue
		}
		switch blockTag(val[0]) {
		case blockSeat:
			blocks[idx] = buffer.BlockSnapshot{Tag: buffer.TagSeat, Seat: decodeSeat(val)}
		case blockOrder:
			blocks[idx] = buffer.BlockSnapshot{Tag: buffer.TagOrder, Order: decodeOrder(val)}
		}
	}

	return buffer.Restore(h, blocks), true, nil
}

// Delete removes every key belonging to market, used when a seat-empty
// market winds down in a devnet harness.
func (s *Store) Delete(market common.Hash) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(headerKey(market), nil); err != nil {
		return err
	}
	if err := batch.Delete(numBlocksKey(market), nil); err != nil {
		return err
	}
	prefix := blockPrefix(market)
	if err := batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
