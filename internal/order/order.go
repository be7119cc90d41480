// Package order defines the swap order aggregate, its status machine
// vocabulary, and the normalized escrow events the ledger consumes.
package order

import (
	"math/big"
	"time"

	"github.com/hashbridge/fusion-resolver/internal/timelock"
)

// Status is the persisted lifecycle state of an order. Transitions are
// monotonic; the ledger enforces them with guarded conditional updates.
type Status string

const (
	StatusPending               Status = "PENDING"
	StatusSourceEscrowCreated   Status = "SOURCE_ESCROW_CREATED"
	StatusResolverSentDstEscrow Status = "RESOLVER_SENT_DST_ESCROW_CREATED"
	StatusDestEscrowCreated     Status = "DEST_ESCROW_CREATED"
	StatusSecretShared          Status = "SECRET_SHARED"
	StatusCompleted             Status = "COMPLETED"
	StatusCancelled             Status = "CANCELLED"
	StatusExpired               Status = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Amount is a token quantity in its smallest unit plus display decimals.
type Amount struct {
	Value    string
	Decimals int
}

// LegInfo describes one side of the swap. EscrowAddress, TxHash,
// Timestamp, and Timelocks are populated once the leg's escrow is
// observed on-chain.
type LegInfo struct {
	ChainID       string
	Token         string
	Amount        Amount
	EscrowAddress string
	TxHash        string
	Timestamp     uint64
	Timelocks     timelock.Timelocks
}

// Order is the aggregate root for one cross-chain swap. Created PENDING
// by the order-creation API; mutated only through the ledger's guarded
// transitions. Terminal orders are retained for audit, never deleted.
type Order struct {
	ID        int64
	OrderHash string
	HashLock  string
	Maker     string
	Taker     string

	Source LegInfo
	Dest   LegInfo

	SafetyDeposit string
	Secret        string
	Status        Status

	// Per-leg withdrawal tracking: a crash or RPC failure between the two
	// withdrawal transactions must not re-submit the leg that already
	// cleared.
	DstWithdrawn bool
	SrcWithdrawn bool

	// Halted marks a hard stop (resolver under-capitalized). The resolve
	// cycle skips halted orders until an operator intervenes.
	Halted    bool
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Immutables is the fixed parameter tuple identifying one escrow
// instance on-chain. Both legs of an order share OrderHash and Hashlock;
// that pairing is what matches an event on either chain back to the order.
type Immutables struct {
	OrderHash     string
	Hashlock      string
	Maker         string
	Taker         string
	Token         string
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     timelock.Timelocks
}

// Event is the tagged union of normalized escrow-creation events.
// Adapters produce them; only the ledger consumes them. Consumers must
// switch exhaustively over the two variants.
type Event interface {
	Meta() EventMeta
	escrowEvent()
}

// EventMeta carries the fields common to every normalized event.
type EventMeta struct {
	ChainID   string
	TxHash    string
	Timestamp uint64
}

// SrcEscrowCreated is emitted by the factory when a maker locks the
// source leg.
type SrcEscrowCreated struct {
	EventMeta
	OrderHash     string
	Hashlock      string
	Maker         string
	Taker         string
	Token         string
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     timelock.Timelocks
	Escrow        string
}

// DstEscrowCreated is emitted by the factory when the resolver's
// destination escrow lands.
type DstEscrowCreated struct {
	EventMeta
	OrderHash string
	Escrow    string
	Hashlock  string
	Taker     string
	Timelocks timelock.Timelocks
}

func (e SrcEscrowCreated) Meta() EventMeta { return e.EventMeta }
func (e DstEscrowCreated) Meta() EventMeta { return e.EventMeta }

func (SrcEscrowCreated) escrowEvent() {}
func (DstEscrowCreated) escrowEvent() {}
