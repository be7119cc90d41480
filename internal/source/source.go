// Package source defines the chain-family adapter contract consumed by
// the ingest cycle. Family-specific implementations live in the
// subpackages.
package source

import (
	"context"

	"github.com/hashbridge/fusion-resolver/internal/order"
)

// Adapter reads escrow-creation events from one chain. Scan fetches and
// normalizes events in the window starting after from, bounded by
// maxWindow blocks (or the family's closest equivalent), and returns
// the new cursor position. Implementations never persist the cursor;
// the ingest cycle advances it only after the whole batch is applied.
//
// A chain that cannot make progress returns (nil, from, nil) so its
// cursor holds.
type Adapter interface {
	Scan(ctx context.Context, from, maxWindow uint64) ([]order.Event, uint64, error)
}
