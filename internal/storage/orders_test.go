package storage

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/timelock"
)

const testOrderHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newTestOrder() *order.Order {
	return &order.Order{
		OrderHash: testOrderHash,
		HashLock:  "0x2222222222222222222222222222222222222222222222222222222222222222",
		Maker:     "0x0000000000000000000000000000000000000001",
		Taker:     "0x0000000000000000000000000000000000000002",
		Source: order.LegInfo{
			ChainID: "11155111",
			Token:   "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			Amount:  order.Amount{Value: "1000000", Decimals: 6},
		},
		Dest: order.LegInfo{
			ChainID: "43113",
			Token:   "0x5425890298aed601595a70AB815c96711a31Bc65",
			Amount:  order.Amount{Value: "990000", Decimals: 6},
		},
		SafetyDeposit: "10000000000",
	}
}

func srcEvent() order.SrcEscrowCreated {
	tl := timelock.Timelocks{}.SetDeployedAt(1_700_000_000).Put(timelock.SrcCancellation, 1800)
	return order.SrcEscrowCreated{
		EventMeta:     order.EventMeta{ChainID: "11155111", TxHash: "0xaaa", Timestamp: 1_700_000_000},
		OrderHash:     testOrderHash,
		Hashlock:      "0x2222222222222222222222222222222222222222222222222222222222222222",
		Maker:         "0x0000000000000000000000000000000000000001",
		Taker:         "0x0000000000000000000000000000000000000002",
		Token:         "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Amount:        big.NewInt(1000000),
		SafetyDeposit: big.NewInt(10_000_000_000),
		Timelocks:     tl,
		Escrow:        "0x00000000000000000000000000000000000000e5",
	}
}

func dstEvent() order.DstEscrowCreated {
	tl := timelock.Timelocks{}.SetDeployedAt(1_700_000_100).Put(timelock.DstWithdrawal, 30)
	return order.DstEscrowCreated{
		EventMeta: order.EventMeta{ChainID: "43113", TxHash: "0xbbb", Timestamp: 1_700_000_100},
		OrderHash: testOrderHash,
		Escrow:    "0x00000000000000000000000000000000000000e6",
		Hashlock:  "0x2222222222222222222222222222222222222222222222222222222222222222",
		Taker:     "0x0000000000000000000000000000000000000002",
		Timelocks: tl,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := newTestOrder()
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.ID == 0 || o.Status != order.StatusPending {
		t.Fatalf("order not initialized: id=%d status=%s", o.ID, o.Status)
	}

	got, err := store.GetOrderByHash(ctx, testOrderHash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.Maker != o.Maker || got.Source.ChainID != "11155111" || got.Dest.Amount.Value != "990000" {
		t.Fatalf("unexpected order: %+v", got)
	}

	byID, err := store.GetOrderByID(ctx, o.ID)
	if err != nil || byID.OrderHash != testOrderHash {
		t.Fatalf("get by id: %v %+v", err, byID)
	}
}

func TestCreateOrderDuplicateHashFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateOrder(ctx, newTestOrder()); err == nil {
		t.Fatalf("expected duplicate order_hash to fail")
	}
}

func TestGetOrderNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetOrderByHash(context.Background(), "0xdead")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplySrcEscrowCreatedIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := store.ApplySrcEscrowCreated(ctx, srcEvent())
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}

	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Status != order.StatusSourceEscrowCreated {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Source.EscrowAddress == "" || got.Source.TxHash != "0xaaa" || got.Source.Timelocks.IsZero() {
		t.Fatalf("source leg not populated: %+v", got.Source)
	}

	// Re-delivered event is a no-op, not an error.
	applied, err = store.ApplySrcEscrowCreated(ctx, srcEvent())
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if applied {
		t.Fatalf("expected second apply to be rejected")
	}
}

func TestApplyDstEscrowCreatedRequiresPredecessor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Order still PENDING: the destination event must not touch it.
	applied, err := store.ApplyDstEscrowCreated(ctx, dstEvent())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied {
		t.Fatalf("dst event applied to PENDING order")
	}
	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Status != order.StatusPending {
		t.Fatalf("status mutated to %s", got.Status)
	}
}

func TestFullTransitionChain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}

	if applied, err := store.ApplySrcEscrowCreated(ctx, srcEvent()); err != nil || !applied {
		t.Fatalf("src event: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkDstEscrowRequested(ctx, testOrderHash); err != nil || !applied {
		t.Fatalf("mark dst requested: applied=%v err=%v", applied, err)
	}
	if applied, err := store.ApplyDstEscrowCreated(ctx, dstEvent()); err != nil || !applied {
		t.Fatalf("dst event: applied=%v err=%v", applied, err)
	}
	if applied, err := store.ShareSecret(ctx, testOrderHash, "0xsecret"); err != nil || !applied {
		t.Fatalf("share secret: applied=%v err=%v", applied, err)
	}

	if applied, err := store.MarkLegWithdrawn(ctx, testOrderHash, LegDest); err != nil || !applied {
		t.Fatalf("dst withdrawn: applied=%v err=%v", applied, err)
	}
	mid, _ := store.GetOrderByHash(ctx, testOrderHash)
	if mid.Status != order.StatusSecretShared || !mid.DstWithdrawn || mid.SrcWithdrawn {
		t.Fatalf("unexpected mid state: %+v", mid)
	}

	if applied, err := store.MarkLegWithdrawn(ctx, testOrderHash, LegSource); err != nil || !applied {
		t.Fatalf("src withdrawn: applied=%v err=%v", applied, err)
	}
	final, _ := store.GetOrderByHash(ctx, testOrderHash)
	if final.Status != order.StatusCompleted {
		t.Fatalf("final status = %s", final.Status)
	}
	if final.Secret != "0xsecret" || final.Source.EscrowAddress == "" || final.Dest.EscrowAddress == "" {
		t.Fatalf("final order incomplete: %+v", final)
	}
}

func TestMarkLegWithdrawnIsPerLegIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}
	mustApply := func(applied bool, err error) {
		t.Helper()
		if err != nil || !applied {
			t.Fatalf("transition failed: applied=%v err=%v", applied, err)
		}
	}
	mustApply(store.ApplySrcEscrowCreated(ctx, srcEvent()))
	mustApply(store.MarkDstEscrowRequested(ctx, testOrderHash))
	mustApply(store.ApplyDstEscrowCreated(ctx, dstEvent()))
	mustApply(store.ShareSecret(ctx, testOrderHash, "0xs"))
	mustApply(store.MarkLegWithdrawn(ctx, testOrderHash, LegDest))

	// Same leg again: rejected, status unchanged.
	applied, err := store.MarkLegWithdrawn(ctx, testOrderHash, LegDest)
	if err != nil || applied {
		t.Fatalf("expected duplicate leg withdrawal to be rejected: applied=%v err=%v", applied, err)
	}
	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Status != order.StatusSecretShared {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestRevertDstEscrowRequestedReleasesClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Only a claimed order can be reverted.
	applied, err := store.RevertDstEscrowRequested(ctx, testOrderHash)
	if err != nil || applied {
		t.Fatalf("revert on PENDING order: applied=%v err=%v", applied, err)
	}

	if applied, err := store.ApplySrcEscrowCreated(ctx, srcEvent()); err != nil || !applied {
		t.Fatalf("src event: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkDstEscrowRequested(ctx, testOrderHash); err != nil || !applied {
		t.Fatalf("mark requested: applied=%v err=%v", applied, err)
	}

	applied, err = store.RevertDstEscrowRequested(ctx, testOrderHash)
	if err != nil || !applied {
		t.Fatalf("revert: applied=%v err=%v", applied, err)
	}
	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Status != order.StatusSourceEscrowCreated {
		t.Fatalf("status = %s", got.Status)
	}

	// The released order can be claimed again.
	if applied, err := store.MarkDstEscrowRequested(ctx, testOrderHash); err != nil || !applied {
		t.Fatalf("re-claim: applied=%v err=%v", applied, err)
	}
}

func TestShareSecretRequiresDestEscrowCreated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := store.ShareSecret(ctx, testOrderHash, "0xsecret")
	if err != nil {
		t.Fatalf("share secret: %v", err)
	}
	if applied {
		t.Fatalf("secret accepted on PENDING order")
	}
	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Secret != "" {
		t.Fatalf("secret leaked onto order: %q", got.Secret)
	}
}

func TestCloseOrderGuards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.CloseOrder(ctx, testOrderHash, order.StatusCompleted); err == nil {
		t.Fatalf("expected invalid target status error")
	}

	applied, err := store.CloseOrder(ctx, testOrderHash, order.StatusExpired)
	if err != nil || !applied {
		t.Fatalf("close: applied=%v err=%v", applied, err)
	}
	// Terminal orders stay closed.
	applied, err = store.CloseOrder(ctx, testOrderHash, order.StatusCancelled)
	if err != nil || applied {
		t.Fatalf("expected terminal order to reject close: applied=%v err=%v", applied, err)
	}
}

func TestHaltAndResume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateOrder(ctx, newTestOrder()); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.HaltOrder(ctx, testOrderHash, "insufficient balance of 0x54.. on 43113"); err != nil {
		t.Fatalf("halt: %v", err)
	}
	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if !got.Halted || got.LastError == "" {
		t.Fatalf("halt not recorded: %+v", got)
	}

	if err := store.ResumeOrder(ctx, testOrderHash); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, _ = store.GetOrderByHash(ctx, testOrderHash)
	if got.Halted || got.LastError != "" {
		t.Fatalf("resume not recorded: %+v", got)
	}
}

func TestListAndCountByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestOrder()
	if err := store.CreateOrder(ctx, a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	b := newTestOrder()
	b.OrderHash = "0x3333333333333333333333333333333333333333333333333333333333333333"
	if err := store.CreateOrder(ctx, b); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if applied, err := store.ApplySrcEscrowCreated(ctx, srcEvent()); err != nil || !applied {
		t.Fatalf("src event: %v", err)
	}

	pending, err := store.ListOrdersByStatus(ctx, order.StatusPending)
	if err != nil || len(pending) != 1 || pending[0].OrderHash != b.OrderHash {
		t.Fatalf("pending list: %v len=%d", err, len(pending))
	}
	both, err := store.ListOrdersByStatus(ctx, order.StatusPending, order.StatusSourceEscrowCreated)
	if err != nil || len(both) != 2 {
		t.Fatalf("combined list: %v len=%d", err, len(both))
	}

	counts, err := store.CountOrdersByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[order.StatusPending] != 1 || counts[order.StatusSourceEscrowCreated] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
