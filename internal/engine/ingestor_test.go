package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/hashbridge/fusion-resolver/internal/chain"
	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/source"
	"github.com/hashbridge/fusion-resolver/internal/storage"
	"github.com/hashbridge/fusion-resolver/internal/timelock"
)

const (
	testOrderHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testHashLock  = "0x2222222222222222222222222222222222222222222222222222222222222222"
	srcChainID    = "11155111"
	dstChainID    = "43113"
)

type fakeSource struct {
	events []order.Event
	next   uint64
	err    error
	calls  int
}

func (f *fakeSource) Scan(_ context.Context, from, _ uint64) ([]order.Event, uint64, error) {
	f.calls++
	if f.err != nil {
		return nil, from, f.err
	}
	return f.events, f.next, nil
}

func testRegistry(t *testing.T) *chain.Registry {
	t.Helper()
	reg, err := chain.NewRegistry([]chain.Descriptor{
		{
			ID: srcChainID, Name: "Sepolia", Family: chain.FamilyEVM,
			RPCURL: "http://src", EscrowFactory: "0xf1", StartBlock: 100, ScanWindow: 50,
			SafetyDeposit: big.NewInt(1), Decimals: 18, GasLimit: 1, GasPriceGwei: 1,
		},
		{
			ID: dstChainID, Name: "Fuji", Family: chain.FamilyEVM,
			RPCURL: "http://dst", EscrowFactory: "0xf2", StartBlock: 200, ScanWindow: 50,
			SafetyDeposit: big.NewInt(1), Decimals: 18, GasLimit: 1, GasPriceGwei: 1,
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.SeedCursor(ctx, srcChainID, 100, 0, "0xf1"); err != nil {
		t.Fatalf("seed src cursor: %v", err)
	}
	if err := store.SeedCursor(ctx, dstChainID, 200, 0, "0xf2"); err != nil {
		t.Fatalf("seed dst cursor: %v", err)
	}

	o := &order.Order{
		OrderHash: testOrderHash,
		HashLock:  testHashLock,
		Maker:     "0x0000000000000000000000000000000000000001",
		Taker:     "0x0000000000000000000000000000000000000002",
		Source: order.LegInfo{
			ChainID: srcChainID,
			Token:   "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			Amount:  order.Amount{Value: "1000000", Decimals: 6},
		},
		Dest: order.LegInfo{
			ChainID: dstChainID,
			Token:   "0x5425890298aed601595a70AB815c96711a31Bc65",
			Amount:  order.Amount{Value: "990000", Decimals: 6},
		},
		SafetyDeposit: "10000",
	}
	if err := store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return store
}

func newIngestor(store *storage.Store, reg *chain.Registry, adapters map[string]source.Adapter) *Ingestor {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIngestor(store, reg, adapters, nil, log)
}

func srcEvent(ts uint64) order.SrcEscrowCreated {
	tl := timelock.Timelocks{}.SetDeployedAt(ts).Put(timelock.SrcCancellation, 3600)
	return order.SrcEscrowCreated{
		EventMeta: order.EventMeta{ChainID: srcChainID, TxHash: "0xaaa", Timestamp: ts},
		OrderHash: testOrderHash, Hashlock: testHashLock,
		Maker:  "0x0000000000000000000000000000000000000001",
		Taker:  "0x0000000000000000000000000000000000000002",
		Token:  "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Amount: big.NewInt(1000000), SafetyDeposit: big.NewInt(10_000),
		Timelocks: tl, Escrow: "0x00000000000000000000000000000000000000e5",
	}
}

func dstEvent(ts uint64) order.DstEscrowCreated {
	tl := timelock.Timelocks{}.SetDeployedAt(ts).Put(timelock.DstWithdrawal, 30)
	return order.DstEscrowCreated{
		EventMeta: order.EventMeta{ChainID: dstChainID, TxHash: "0xbbb", Timestamp: ts},
		OrderHash: testOrderHash, Escrow: "0x00000000000000000000000000000000000000e6",
		Hashlock: testHashLock, Taker: "0x0000000000000000000000000000000000000002",
		Timelocks: tl,
	}
}

func TestRunOnceAppliesBatchAndAdvancesCursors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	adapters := map[string]source.Adapter{
		srcChainID: &fakeSource{events: []order.Event{srcEvent(1_700_000_000)}, next: 150},
		dstChainID: &fakeSource{events: nil, next: 250},
	}
	in := newIngestor(store, testRegistry(t), adapters)

	if err := in.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Status != order.StatusSourceEscrowCreated {
		t.Fatalf("status = %s", got.Status)
	}
	srcCur, _, err := store.GetCursor(ctx, srcChainID)
	if err != nil || srcCur.ProcessBlock != 150 {
		t.Fatalf("src cursor: %+v err=%v", srcCur, err)
	}
	dstCur, _, err := store.GetCursor(ctx, dstChainID)
	if err != nil || dstCur.ProcessBlock != 250 {
		t.Fatalf("dst cursor: %+v err=%v", dstCur, err)
	}
}

func TestRunOnceRecoveryPassRedeliversSafely(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Order already claimed by the resolver, cursors lagging behind a
	// restart: the next pass re-delivers the source event and brings the
	// destination event in alongside it.
	if applied, err := store.ApplySrcEscrowCreated(ctx, srcEvent(1_700_000_000)); err != nil || !applied {
		t.Fatalf("src event: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkDstEscrowRequested(ctx, testOrderHash); err != nil || !applied {
		t.Fatalf("mark requested: applied=%v err=%v", applied, err)
	}

	adapters := map[string]source.Adapter{
		srcChainID: &fakeSource{events: []order.Event{srcEvent(1_700_000_000)}, next: 150},
		dstChainID: &fakeSource{events: []order.Event{dstEvent(1_700_000_100)}, next: 250},
	}
	in := newIngestor(store, testRegistry(t), adapters)

	if err := in.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Status != order.StatusDestEscrowCreated {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Source.EscrowAddress == "" || got.Dest.EscrowAddress == "" {
		t.Fatalf("legs not populated: %+v", got)
	}
	srcCur, _, _ := store.GetCursor(ctx, srcChainID)
	dstCur, _, _ := store.GetCursor(ctx, dstChainID)
	if srcCur.ProcessBlock != 150 || dstCur.ProcessBlock != 250 {
		t.Fatalf("cursors: %d %d", srcCur.ProcessBlock, dstCur.ProcessBlock)
	}
}

func TestRunOnceFailedChainHoldsCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	adapters := map[string]source.Adapter{
		srcChainID: &fakeSource{err: errors.New("rpc unreachable")},
		dstChainID: &fakeSource{events: nil, next: 260},
	}
	in := newIngestor(store, testRegistry(t), adapters)

	if err := in.RunOnce(ctx); err != nil {
		t.Fatalf("run once should tolerate a failed chain: %v", err)
	}

	srcCur, _, err := store.GetCursor(ctx, srcChainID)
	if err != nil || srcCur.ProcessBlock != 100 {
		t.Fatalf("failed chain's cursor moved: %+v err=%v", srcCur, err)
	}
	dstCur, _, err := store.GetCursor(ctx, dstChainID)
	if err != nil || dstCur.ProcessBlock != 260 {
		t.Fatalf("healthy chain's cursor held: %+v err=%v", dstCur, err)
	}
}

func TestRunOnceUnmatchedEventIsDropped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := srcEvent(1_700_000_000)
	ev.OrderHash = "0x9999999999999999999999999999999999999999999999999999999999999999"
	adapters := map[string]source.Adapter{
		srcChainID: &fakeSource{events: []order.Event{ev}, next: 150},
		dstChainID: &fakeSource{events: nil, next: 250},
	}
	in := newIngestor(store, testRegistry(t), adapters)

	if err := in.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	// The known order is untouched and the cursor still advances past
	// the foreign event.
	got, _ := store.GetOrderByHash(ctx, testOrderHash)
	if got.Status != order.StatusPending {
		t.Fatalf("status = %s", got.Status)
	}
	srcCur, _, _ := store.GetCursor(ctx, srcChainID)
	if srcCur.ProcessBlock != 150 {
		t.Fatalf("cursor: %+v", srcCur)
	}
}
