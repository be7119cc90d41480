package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashbridge/fusion-resolver/internal/chain"
	"github.com/hashbridge/fusion-resolver/internal/metrics"
	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/source"
	"github.com/hashbridge/fusion-resolver/internal/storage"
)

// Ingestor is the ingest cycle: scan every chain from its persisted
// cursor, apply the combined batch to the order ledger in timestamp
// order, then advance the cursors. A chain whose scan fails is skipped
// for the pass and its cursor holds, so nothing is missed on retry.
type Ingestor struct {
	store    *storage.Store
	registry *chain.Registry
	adapters map[string]source.Adapter
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewIngestor builds the ingest cycle. adapters is keyed by chain id;
// m may be nil.
func NewIngestor(store *storage.Store, registry *chain.Registry, adapters map[string]source.Adapter, m *metrics.Metrics, log *slog.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		registry: registry,
		adapters: adapters,
		metrics:  m,
		log:      log,
	}
}

type scanResult struct {
	chainID string
	events  []order.Event
	next    uint64
	err     error
}

// RunOnce performs one ingest pass. It returns an error only when the
// ledger itself fails; per-chain RPC failures are logged and retried on
// the next pass.
func (in *Ingestor) RunOnce(ctx context.Context) error {
	cursors, err := in.store.ListCursors(ctx)
	if err != nil {
		return fmt.Errorf("list cursors: %w", err)
	}

	// Cursors are disjoint per chain, so the scans run concurrently.
	results := make([]scanResult, len(cursors))
	var wg sync.WaitGroup
	for i, cur := range cursors {
		adapter, ok := in.adapters[cur.ChainID]
		if !ok {
			results[i] = scanResult{chainID: cur.ChainID, err: fmt.Errorf("no adapter for chain %s", cur.ChainID)}
			continue
		}
		desc, err := in.registry.Get(cur.ChainID)
		if err != nil {
			results[i] = scanResult{chainID: cur.ChainID, err: err}
			continue
		}
		wg.Add(1)
		go func(i int, cur storage.Cursor, desc chain.Descriptor) {
			defer wg.Done()
			events, next, err := adapter.Scan(ctx, cur.ProcessBlock, desc.ScanWindow)
			results[i] = scanResult{chainID: cur.ChainID, events: events, next: next, err: err}
		}(i, cur, desc)
	}
	wg.Wait()

	var batch []order.Event
	advance := map[string]uint64{}
	for i, res := range results {
		if res.err != nil {
			in.metrics.Errors()
			in.log.Error("scan failed, cursor holds", "chain_id", res.chainID, "error", res.err)
			continue
		}
		batch = append(batch, res.events...)
		if res.next != cursors[i].ProcessBlock {
			advance[res.chainID] = res.next
		}
	}

	// Events from different chains interleave; block timestamps give the
	// one global order both legs agree on.
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Meta().Timestamp < batch[j].Meta().Timestamp
	})

	for _, ev := range batch {
		if err := in.apply(ctx, ev); err != nil {
			// Ledger failure: bail without advancing any cursor so the
			// whole batch is re-scanned and re-applied.
			return err
		}
	}

	for chainID, next := range advance {
		if err := in.store.AdvanceCursor(ctx, chainID, next); err != nil {
			return fmt.Errorf("advance cursor %s: %w", chainID, err)
		}
		in.log.Debug("cursor advanced", "chain_id", chainID, "process_block", next)
	}
	return nil
}

func (in *Ingestor) apply(ctx context.Context, ev order.Event) error {
	var (
		applied   bool
		err       error
		kind      string
		orderHash string
	)
	switch e := ev.(type) {
	case order.SrcEscrowCreated:
		kind, orderHash = "src_escrow_created", e.OrderHash
		applied, err = in.store.ApplySrcEscrowCreated(ctx, e)
	case order.DstEscrowCreated:
		kind, orderHash = "dst_escrow_created", e.OrderHash
		applied, err = in.store.ApplyDstEscrowCreated(ctx, e)
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
	if err != nil {
		return fmt.Errorf("apply %s for %s: %w", kind, orderHash, err)
	}
	if !applied {
		// No matching order in the expected state. Re-delivered or
		// foreign event; dropping it is safe because transitions are
		// guarded.
		in.log.Warn("event not applied", "kind", kind, "order_hash", orderHash, "chain_id", ev.Meta().ChainID, "tx_hash", ev.Meta().TxHash)
		return nil
	}
	in.metrics.EventsIngested()
	in.metrics.OrdersTransitioned()
	in.log.Info("event applied", "kind", kind, "order_hash", orderHash, "chain_id", ev.Meta().ChainID, "tx_hash", ev.Meta().TxHash)
	return nil
}
