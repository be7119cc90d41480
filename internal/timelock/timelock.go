// Package timelock packs an escrow's full time schedule into a single
// 256-bit word: an absolute deployment timestamp in the top 32 bits and
// seven 32-bit stage offsets, each relative to that timestamp, below it.
// The layout matches the escrow contracts bit for bit, so a word read
// from a log can be persisted, re-encoded, and passed back on-chain
// unchanged.
package timelock

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Stage indexes one of the seven schedule fields, in contract order.
type Stage uint

const (
	SrcWithdrawal Stage = iota
	SrcPublicWithdrawal
	SrcCancellation
	SrcPublicCancellation
	DstWithdrawal
	DstPublicWithdrawal
	DstCancellation

	numStages
)

const (
	deployedAtOffset = 224
	fieldBits        = 32
	fieldMask        = 0xFFFFFFFF
)

// String returns the stage name as used in the escrow contracts.
func (s Stage) String() string {
	switch s {
	case SrcWithdrawal:
		return "SrcWithdrawal"
	case SrcPublicWithdrawal:
		return "SrcPublicWithdrawal"
	case SrcCancellation:
		return "SrcCancellation"
	case SrcPublicCancellation:
		return "SrcPublicCancellation"
	case DstWithdrawal:
		return "DstWithdrawal"
	case DstPublicWithdrawal:
		return "DstPublicWithdrawal"
	case DstCancellation:
		return "DstCancellation"
	default:
		return fmt.Sprintf("Stage(%d)", uint(s))
	}
}

// Timelocks is the packed word. The zero value is a valid empty schedule.
// All methods are value-semantics: mutators return a new word.
type Timelocks struct {
	word uint256.Int
}

// Schedule is the fully decoded form: deployment time plus the seven
// absolute stage timestamps.
type Schedule struct {
	DeployedAt            uint64
	SrcWithdrawal         uint64
	SrcPublicWithdrawal   uint64
	SrcCancellation       uint64
	SrcPublicCancellation uint64
	DstWithdrawal         uint64
	DstPublicWithdrawal   uint64
	DstCancellation       uint64
}

// FromBig builds a Timelocks word from a big.Int as decoded from an EVM log.
func FromBig(v *big.Int) (Timelocks, error) {
	if v == nil {
		return Timelocks{}, fmt.Errorf("timelocks: nil word")
	}
	w, overflow := uint256.FromBig(v)
	if overflow {
		return Timelocks{}, fmt.Errorf("timelocks: word exceeds 256 bits")
	}
	return Timelocks{word: *w}, nil
}

// Parse decodes a word from its decimal or 0x-hex string form, the format
// the order ledger persists.
func Parse(s string) (Timelocks, error) {
	if s == "" {
		return Timelocks{}, nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return Timelocks{}, fmt.Errorf("timelocks: parse %q", s)
	}
	return FromBig(v)
}

// Big returns the packed word as a big.Int for ABI encoding.
func (t Timelocks) Big() *big.Int {
	return t.word.ToBig()
}

// String renders the packed word in decimal, the ledger's storage form.
func (t Timelocks) String() string {
	return t.word.Dec()
}

// IsZero reports whether no schedule has been recorded.
func (t Timelocks) IsZero() bool {
	return t.word.IsZero()
}

// DeployedAt returns the absolute deployment timestamp from the top 32 bits.
func (t Timelocks) DeployedAt() uint64 {
	var v uint256.Int
	v.Rsh(&t.word, deployedAtOffset)
	return v.Uint64()
}

// SetDeployedAt replaces the deployment timestamp, leaving every stage
// offset intact.
func (t Timelocks) SetDeployedAt(ts uint64) Timelocks {
	var mask, v uint256.Int
	mask.SetUint64(fieldMask)
	mask.Lsh(&mask, deployedAtOffset)
	mask.Not(&mask)

	v.SetUint64(ts & fieldMask)
	v.Lsh(&v, deployedAtOffset)

	var out uint256.Int
	out.And(&t.word, &mask)
	out.Or(&out, &v)
	return Timelocks{word: out}
}

// Put replaces the 32-bit field for stage with offsetSeconds, silently
// truncated to 32 bits. Callers must keep offsets within [0, 2^32).
func (t Timelocks) Put(stage Stage, offsetSeconds uint64) Timelocks {
	shift := uint(stage) * fieldBits

	var mask, v uint256.Int
	mask.SetUint64(fieldMask)
	mask.Lsh(&mask, shift)
	mask.Not(&mask)

	v.SetUint64(offsetSeconds & fieldMask)
	v.Lsh(&v, shift)

	var out uint256.Int
	out.And(&t.word, &mask)
	out.Or(&out, &v)
	return Timelocks{word: out}
}

// Get returns the absolute timestamp for stage: deployedAt plus the
// stage's relative offset.
func (t Timelocks) Get(stage Stage) uint64 {
	return t.DeployedAt() + t.field(stage)
}

// RescueStart returns the earliest time a stuck escrow may be rescued by
// its owner: deployedAt plus the rescue delay.
func (t Timelocks) RescueStart(rescueDelay uint64) uint64 {
	return t.DeployedAt() + rescueDelay
}

// Decode expands the packed word into all seven absolute stage timestamps.
func (t Timelocks) Decode() Schedule {
	deployedAt := t.DeployedAt()
	return Schedule{
		DeployedAt:            deployedAt,
		SrcWithdrawal:         deployedAt + t.field(SrcWithdrawal),
		SrcPublicWithdrawal:   deployedAt + t.field(SrcPublicWithdrawal),
		SrcCancellation:       deployedAt + t.field(SrcCancellation),
		SrcPublicCancellation: deployedAt + t.field(SrcPublicCancellation),
		DstWithdrawal:         deployedAt + t.field(DstWithdrawal),
		DstPublicWithdrawal:   deployedAt + t.field(DstPublicWithdrawal),
		DstCancellation:       deployedAt + t.field(DstCancellation),
	}
}

func (t Timelocks) field(stage Stage) uint64 {
	var v uint256.Int
	v.Rsh(&t.word, uint(stage)*fieldBits)
	return v.Uint64() & fieldMask
}
