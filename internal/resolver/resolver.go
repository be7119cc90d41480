// Package resolver drives the swap forward from the resolver's side:
// it funds destination escrows for freshly locked source legs and
// unlocks both legs once the maker shares the secret.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/hashbridge/fusion-resolver/internal/chain"
	"github.com/hashbridge/fusion-resolver/internal/metrics"
	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/storage"
	"github.com/hashbridge/fusion-resolver/internal/timelock"
)

// Destination-stage offsets applied when the resolver packs the
// timelock word for a new destination escrow, in seconds after
// deployment.
const (
	DstWithdrawalOffset       = 30
	DstPublicWithdrawalOffset = 120
	DstCancellationOffset     = 1800
)

// ChainAdapter is the per-family capability set the engine needs to act
// on a chain. One adapter may serve every chain of its family; the
// chain id selects the target.
type ChainAdapter interface {
	Address() string
	CheckBalanceAndAllowance(ctx context.Context, chainID, token string, amount *big.Int) (hasBalance, hasAllowance bool, err error)
	Approve(ctx context.Context, chainID, token string) (string, error)
	CreateDstEscrow(ctx context.Context, chainID string, imm order.Immutables, srcCancellation uint64) (string, error)
	Withdraw(ctx context.Context, chainID, escrow, secret string, imm order.Immutables) (string, error)
}

// Notifier delivers operator alerts. Hard stops go through it.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Engine is the resolve cycle. Each ProcessOrders pass sweeps the
// actionable statuses and dispatches the next action for every order,
// one order at a time.
type Engine struct {
	store    *storage.Store
	registry *chain.Registry
	adapters map[chain.Family]ChainAdapter
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// New builds the engine. notifier and m may be nil.
func New(store *storage.Store, registry *chain.Registry, adapters map[chain.Family]ChainAdapter, notifier Notifier, m *metrics.Metrics, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		adapters: adapters,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// ProcessOrders runs one resolve pass. Per-order failures are recorded
// on the order and do not abort the pass.
func (e *Engine) ProcessOrders(ctx context.Context) error {
	orders, err := e.store.ListOrdersByStatus(ctx,
		order.StatusSourceEscrowCreated,
		order.StatusDestEscrowCreated,
		order.StatusSecretShared,
	)
	if err != nil {
		return fmt.Errorf("list actionable orders: %w", err)
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if o.Halted {
			e.log.Debug("skipping halted order", "order_hash", o.OrderHash)
			continue
		}
		if e.expireIfPastCancellation(ctx, o) {
			continue
		}

		var actErr error
		switch o.Status {
		case order.StatusSourceEscrowCreated:
			actErr = e.deployDstEscrow(ctx, o)
		case order.StatusDestEscrowCreated:
			// Both escrows funded. Nothing to do until the maker
			// shares the secret through the relayer surface.
			e.log.Debug("awaiting secret", "order_hash", o.OrderHash)
		case order.StatusSecretShared:
			actErr = e.withdrawBothLegs(ctx, o)
		}
		if actErr != nil {
			e.metrics.Errors()
			e.log.Error("resolver action failed", "order_hash", o.OrderHash, "status", string(o.Status), "error", actErr)
			if err := e.store.SetLastError(ctx, o.OrderHash, actErr.Error()); err != nil {
				e.log.Error("persist last error", "order_hash", o.OrderHash, "error", err)
			}
		}
	}
	return nil
}

// expireIfPastCancellation closes an order whose source cancellation
// stage has opened: the maker can reclaim the source leg, so funding or
// unlocking it is wasted gas.
func (e *Engine) expireIfPastCancellation(ctx context.Context, o *order.Order) bool {
	tl := o.Source.Timelocks
	if tl.IsZero() {
		return false
	}
	cancelAt := tl.Decode().SrcCancellation
	if cancelAt == 0 || uint64(e.now().Unix()) < cancelAt {
		return false
	}
	applied, err := e.store.CloseOrder(ctx, o.OrderHash, order.StatusExpired)
	if err != nil {
		e.log.Error("expire order", "order_hash", o.OrderHash, "error", err)
		return true
	}
	if applied {
		e.metrics.OrdersTransitioned()
		e.log.Warn("order expired past source cancellation", "order_hash", o.OrderHash, "cancel_at", cancelAt)
	}
	return true
}

// deployDstEscrow funds the destination leg of an order whose source
// escrow was just observed. The order is claimed with a guarded status
// bump before the transaction goes out, so a concurrent pass cannot
// double-fund.
func (e *Engine) deployDstEscrow(ctx context.Context, o *order.Order) error {
	adapter, desc, err := e.adapterFor(o.Dest.ChainID)
	if err != nil {
		return err
	}

	amount, ok := new(big.Int).SetString(o.Dest.Amount.Value, 10)
	if !ok {
		return fmt.Errorf("order %s: bad destination amount %q", o.OrderHash, o.Dest.Amount.Value)
	}

	hasBalance, hasAllowance, err := adapter.CheckBalanceAndAllowance(ctx, desc.ID, o.Dest.Token, amount)
	if err != nil {
		return fmt.Errorf("capitalization check: %w", err)
	}
	if !hasBalance {
		return e.haltUndercapitalized(ctx, o, amount)
	}
	if !hasAllowance {
		if _, err := adapter.Approve(ctx, desc.ID, o.Dest.Token); err != nil {
			return fmt.Errorf("approve: %w", err)
		}
	}

	var dstTL timelock.Timelocks
	dstTL = dstTL.SetDeployedAt(uint64(e.now().Unix()))
	dstTL = dstTL.Put(timelock.DstWithdrawal, DstWithdrawalOffset)
	dstTL = dstTL.Put(timelock.DstPublicWithdrawal, DstPublicWithdrawalOffset)
	dstTL = dstTL.Put(timelock.DstCancellation, DstCancellationOffset)

	imm := order.Immutables{
		OrderHash:     o.OrderHash,
		Hashlock:      o.HashLock,
		Maker:         o.Maker,
		Taker:         adapter.Address(),
		Token:         o.Dest.Token,
		Amount:        amount,
		SafetyDeposit: desc.SafetyDeposit,
		Timelocks:     dstTL,
	}
	srcCancellation := o.Source.Timelocks.Decode().SrcCancellation

	applied, err := e.store.MarkDstEscrowRequested(ctx, o.OrderHash)
	if err != nil {
		return fmt.Errorf("claim order: %w", err)
	}
	if !applied {
		// Another pass got here first.
		return nil
	}

	txHash, err := adapter.CreateDstEscrow(ctx, desc.ID, imm, srcCancellation)
	if err != nil {
		// Release the claim so the next pass retries the submission.
		if _, revertErr := e.store.RevertDstEscrowRequested(ctx, o.OrderHash); revertErr != nil {
			e.log.Error("release destination claim", "order_hash", o.OrderHash, "error", revertErr)
		}
		return fmt.Errorf("createDstEscrow: %w", err)
	}

	e.metrics.ResolverActions()
	e.log.Info("destination escrow submitted",
		"order_hash", o.OrderHash, "chain_id", desc.ID, "tx_hash", txHash, "amount", amount.String())
	return nil
}

// withdrawBothLegs unlocks destination then source, tracking each leg
// so a failure in between retries only the remaining one.
func (e *Engine) withdrawBothLegs(ctx context.Context, o *order.Order) error {
	if !o.DstWithdrawn {
		if err := e.withdrawLeg(ctx, o, storage.LegDest); err != nil {
			return fmt.Errorf("destination withdrawal: %w", err)
		}
		o.DstWithdrawn = true
	}
	if !o.SrcWithdrawn {
		if err := e.withdrawLeg(ctx, o, storage.LegSource); err != nil {
			return fmt.Errorf("source withdrawal: %w", err)
		}
	}
	e.log.Info("order settled", "order_hash", o.OrderHash)
	return nil
}

func (e *Engine) withdrawLeg(ctx context.Context, o *order.Order, leg storage.Leg) error {
	info := o.Source
	if leg == storage.LegDest {
		info = o.Dest
	}
	adapter, desc, err := e.adapterFor(info.ChainID)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(info.Amount.Value, 10)
	if !ok {
		return fmt.Errorf("order %s: bad amount %q", o.OrderHash, info.Amount.Value)
	}

	imm := order.Immutables{
		OrderHash:     o.OrderHash,
		Hashlock:      o.HashLock,
		Maker:         o.Maker,
		Taker:         o.Taker,
		Token:         info.Token,
		Amount:        amount,
		SafetyDeposit: desc.SafetyDeposit,
		Timelocks:     info.Timelocks,
	}
	if leg == storage.LegDest {
		imm.Taker = adapter.Address()
	}

	txHash, err := adapter.Withdraw(ctx, desc.ID, info.EscrowAddress, o.Secret, imm)
	if err != nil {
		return err
	}
	if _, err := e.store.MarkLegWithdrawn(ctx, o.OrderHash, leg); err != nil {
		return fmt.Errorf("record withdrawal: %w", err)
	}

	e.metrics.ResolverActions()
	e.log.Info("escrow withdrawn",
		"order_hash", o.OrderHash, "leg", string(leg), "chain_id", desc.ID, "tx_hash", txHash)
	return nil
}

// haltUndercapitalized is the hard-stop path: the resolver cannot fund
// this order, retrying will not help, and an operator has to act.
func (e *Engine) haltUndercapitalized(ctx context.Context, o *order.Order, amount *big.Int) error {
	reason := fmt.Sprintf("insufficient balance on chain %s: need %s of %s", o.Dest.ChainID, amount, o.Dest.Token)
	if err := e.store.HaltOrder(ctx, o.OrderHash, reason); err != nil {
		return fmt.Errorf("halt order: %w", err)
	}
	e.log.Error("order halted", "order_hash", o.OrderHash, "reason", reason)
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, "resolver under-capitalized", fmt.Sprintf("order %s: %s", o.OrderHash, reason)); err != nil {
			e.log.Error("notify operator", "error", err)
		}
	}
	return nil
}

func (e *Engine) adapterFor(chainID string) (ChainAdapter, chain.Descriptor, error) {
	desc, err := e.registry.Get(chainID)
	if err != nil {
		return nil, chain.Descriptor{}, err
	}
	adapter, ok := e.adapters[desc.Family]
	if !ok {
		return nil, chain.Descriptor{}, fmt.Errorf("no adapter for family %s", desc.Family)
	}
	return adapter, desc, nil
}
