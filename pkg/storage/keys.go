package storage

import "github.com/ethereum/go-ethereum/common"

// Key schema for the snapshot store. One market buffer is kept per
// market identity; each snapshot is written as a handful of adjacent
// keys rather than one giant value, so a reader can fetch just the
// header without paying for the whole block region.
//
//	hdr:<market>          → encoded buffer.Header
//	blk:<market>:<index>  → encoded block (seat or order), big-endian index for ordering
//	nblk:<market>         → u32 block count
//
// The free list is not persisted: buffer.Restore re-derives it from
// which blocks are occupied, so there is nothing free-list-shaped worth
// a key of its own.
const (
	prefixHeader    = "hdr:"
	prefixBlock     = "blk:"
	prefixNumBlocks = "nblk:"
)

func headerKey(market common.Hash) []byte {
	return append([]byte(prefixHeader), market[:]...)
}

func numBlocksKey(market common.Hash) []byte {
	return append([]byte(prefixNumBlocks), market[:]...)
}

func blockPrefix(market common.Hash) []byte {
	return append([]byte(prefixBlock), market[:]...)
}

func blockKey(market common.Hash, index uint32) []byte {
	k := blockPrefix(market)
	k = append(k, ':')
	k = append(k, byte(index>>24), byte(index>>16), byte(index>>8), byte(index))
	return k
}

// keyUpperBound returns the exclusive upper bound for a prefix scan,
// incrementing the last byte of prefix.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
