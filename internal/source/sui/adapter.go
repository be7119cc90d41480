// Package sui is the placeholder adapter for the Sui chain family. The
// escrow package on Sui is not deployed yet; until it is, the adapter
// reports no events and refuses resolver actions.
package sui

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/hashbridge/fusion-resolver/internal/chain"
	"github.com/hashbridge/fusion-resolver/internal/order"
)

// ErrNotImplemented is returned by every resolver capability until the
// Sui escrow package exists.
var ErrNotImplemented = errors.New("sui adapter not implemented")

// Adapter satisfies both the scan contract and the resolver capability
// set for Sui chains.
type Adapter struct {
	desc chain.Descriptor
	log  *slog.Logger
}

// NewAdapter builds the stub adapter for one Sui chain.
func NewAdapter(desc chain.Descriptor, log *slog.Logger) *Adapter {
	return &Adapter{desc: desc, log: log}
}

// Scan holds the cursor in place: returning from unchanged means the
// chain resumes from its configured start checkpoint once a real
// adapter lands, with no events silently skipped in between.
func (a *Adapter) Scan(_ context.Context, from, _ uint64) ([]order.Event, uint64, error) {
	a.log.Debug("sui scan skipped, adapter is a stub", "chain_id", a.desc.ID, "cursor", from)
	return nil, from, nil
}

// Address returns the resolver's Sui address once key handling exists.
func (a *Adapter) Address() string { return "" }

func (a *Adapter) CheckBalanceAndAllowance(context.Context, string, string, *big.Int) (bool, bool, error) {
	return false, false, ErrNotImplemented
}

func (a *Adapter) Approve(context.Context, string, string) (string, error) {
	return "", ErrNotImplemented
}

func (a *Adapter) CreateDstEscrow(context.Context, string, order.Immutables, uint64) (string, error) {
	return "", ErrNotImplemented
}

func (a *Adapter) Withdraw(context.Context, string, string, string, order.Immutables) (string, error) {
	return "", ErrNotImplemented
}
