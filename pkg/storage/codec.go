package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/valleyfi/perpengine/pkg/buffer"
	"github.com/valleyfi/perpengine/pkg/price"
)

// headerSize is the encoded size of a buffer.Header snapshot, little-endian
// with the fields written back to back (no alignment padding between them):
// 1 (BaseMintIndex) + 32 (QuoteMint) + 1 (BaseDecimals) + 1 (QuoteDecimals)
// + 8*4 (margin bps fields) + 32 (OracleID) + 8 (OraclePriceMantissa)
// + 4 (OraclePriceExponent) + 8 (CumulativeFunding) + 8 (LastFundingTimestamp)
// + 8 (InsuranceFund) + 8*2 (open interest) + 8 (NextSequence) = 159 bytes,
// followed by 4 zero bytes, 163 bytes in all.
const headerSize = 1 + 32 + 1 + 1 + 8*4 + 32 + 8 + 4 + 8 + 8 + 8 + 8*2 + 8 + 4 // 4 trailing zero bytes

// blockSize is the 80-byte encoded block: a 1-byte tag followed directly
// by the seat or order payload. No red-black or free-list linkage is
// encoded; buffer.Restore rebuilds the trees and the free list.
const blockSize = buffer.BlockSize

func encodeHeader(h buffer.Header) []byte {
	b := make([]byte, headerSize)
	off := 0
	b[off] = h.BaseMintIndex
	off++
	copy(b[off:off+32], h.QuoteMint[:])
	off += 32
	b[off] = h.BaseDecimals
	off++
	b[off] = h.QuoteDecimals
	off++
	binary.LittleEndian.PutUint64(b[off:], h.InitialMarginBps)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.MaintenanceMarginBps)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.LiquidationBufferBps)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.TakerFeeBps)
	off += 8
	copy(b[off:off+32], h.OracleID[:])
	off += 32
	binary.LittleEndian.PutUint64(b[off:], h.OraclePriceMantissa)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], uint32(h.OraclePriceExponent))
	off += 4
	binary.LittleEndian.PutUint64(b[off:], uint64(h.CumulativeFunding))
	off += 8
	binary.LittleEndian.PutUint64(b[off:], uint64(h.LastFundingTimestamp))
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.InsuranceFund)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.TotalLongBaseAtoms)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.TotalShortBaseAtoms)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.NextSequence)
	return b
}

func decodeHeader(b []byte) (buffer.Header, error) {
	if len(b) < headerSize-4 {
		return buffer.Header{}, fmt.Errorf("storage: short header (%d bytes)", len(b))
	}
	var h buffer.Header
	off := 0
	h.BaseMintIndex = b[off]
	off++
	copy(h.QuoteMint[:], b[off:off+32])
	off += 32
	h.BaseDecimals = b[off]
	off++
	h.QuoteDecimals = b[off]
	off++
	h.InitialMarginBps = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.MaintenanceMarginBps = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.LiquidationBufferBps = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.TakerFeeBps = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(h.OracleID[:], b[off:off+32])
	off += 32
	h.OraclePriceMantissa = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.OraclePriceExponent = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	h.CumulativeFunding = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	h.LastFundingTimestamp = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	h.InsuranceFund = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.TotalLongBaseAtoms = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.TotalShortBaseAtoms = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.NextSequence = binary.LittleEndian.Uint64(b[off:])
	return h, nil
}

// blockTag mirrors spec §6.1's payload-type tag byte.
type blockTag uint8

const (
	blockFree  blockTag = 0
	blockSeat  blockTag = 1
	blockOrder blockTag = 2
)

// encodeSeat packs a seat into one blockSize-byte block: tag byte,
// 32-byte trader hash, then the balance/position fields, little-endian.
func encodeSeat(s buffer.Seat) []byte {
	b := make([]byte, blockSize)
	b[0] = byte(blockSeat)
	off := 1
	copy(b[off:off+32], s.Trader[:])
	off += 32
	binary.LittleEndian.PutUint64(b[off:], s.QuoteWithdrawable)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], uint64(s.LastCumulativeFunding))
	off += 8
	binary.LittleEndian.PutUint64(b[off:], uint64(s.PositionSize))
	off += 8
	binary.LittleEndian.PutUint64(b[off:], s.QuoteCostBasis)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], s.QuoteVolume)
	return b
}

func decodeSeat(b []byte) buffer.Seat {
	var s buffer.Seat
	off := 1
	copy(s.Trader[:], b[off:off+32])
	off += 32
	s.QuoteWithdrawable = binary.LittleEndian.Uint64(b[off:])
	off += 8
	s.LastCumulativeFunding = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	s.PositionSize = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	s.QuoteCostBasis = binary.LittleEndian.Uint64(b[off:])
	off += 8
	s.QuoteVolume = binary.LittleEndian.Uint64(b[off:])
	return s
}

// encodeOrder packs a resting order into one blockSize-byte block. The
// price's 128 low bits of its 256-bit inner value are the only ones the
// engine ever populates (pkg/price), so only 16 bytes are written.
func encodeOrder(o buffer.RestingOrder) []byte {
	b := make([]byte, blockSize)
	b[0] = byte(blockOrder)
	off := 1
	binary.LittleEndian.PutUint32(b[off:], uint32(o.TraderSeatIndex))
	off += 4
	binary.LittleEndian.PutUint64(b[off:], o.SequenceNumber)
	off += 8
	inner := o.Price.Inner().Bytes32()
	copy(b[off:off+16], inner[16:32]) // low 128 bits, big-endian within the field
	off += 16
	binary.LittleEndian.PutUint64(b[off:], o.NumBaseAtoms)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], o.LastValidSlot)
	off += 4
	if o.IsBid {
		b[off] = 1
	}
	off++
	b[off] = byte(o.OrderType)
	return b
}

func decodeOrder(b []byte) buffer.RestingOrder {
	var o buffer.RestingOrder
	off := 1
	o.TraderSeatIndex = buffer.Index(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	o.SequenceNumber = binary.LittleEndian.Uint64(b[off:])
	off += 8
	var inner [32]byte
	copy(inner[16:32], b[off:off+16])
	off += 16
	o.Price = price.FromBytes32(inner)
	o.NumBaseAtoms = binary.LittleEndian.Uint64(b[off:])
	off += 8
	o.LastValidSlot = binary.LittleEndian.Uint32(b[off:])
	off += 4
	o.IsBid = b[off] != 0
	off++
	o.OrderType = buffer.OrderType(b[off])
	return o
}
