package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/timelock"
)

// Leg selects one side of an order for per-leg bookkeeping.
type Leg string

const (
	LegSource Leg = "src"
	LegDest   Leg = "dst"
)

const orderColumns = `
id, order_hash, hash_lock, maker, taker,
src_chain_id, src_token, src_amount, src_decimals, src_escrow, src_tx_hash, src_timestamp, src_timelocks,
dst_chain_id, dst_token, dst_amount, dst_decimals, dst_escrow, dst_tx_hash, dst_timestamp, dst_timelocks,
safety_deposit, secret, status, dst_withdrawn, src_withdrawn, halted, last_error, created_at, updated_at`

// CreateOrder inserts a new order in PENDING state. The order_hash
// uniqueness constraint guarantees at most one order per hash.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	if o.OrderHash == "" || o.HashLock == "" {
		return errors.New("order_hash and hash_lock are required")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO orders (
  order_hash, hash_lock, maker, taker,
  src_chain_id, src_token, src_amount, src_decimals,
  dst_chain_id, dst_token, dst_amount, dst_decimals,
  safety_deposit, status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		o.OrderHash, o.HashLock, o.Maker, o.Taker,
		o.Source.ChainID, o.Source.Token, o.Source.Amount.Value, o.Source.Amount.Decimals,
		o.Dest.ChainID, o.Dest.Token, o.Dest.Amount.Value, o.Dest.Amount.Decimals,
		o.SafetyDeposit, order.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	o.ID = id
	o.Status = order.StatusPending
	return nil
}

// GetOrderByHash looks an order up by its order hash.
func (s *Store) GetOrderByHash(ctx context.Context, orderHash string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_hash = ?;`, orderHash)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderHash, ErrNotFound)
	}
	return o, err
}

// GetOrderByID looks an order up by its opaque id.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?;`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOrdersByStatus returns all orders whose status is one of the given
// set, oldest first. This is the resolve cycle's polled query.
func (s *Store) ListOrdersByStatus(ctx context.Context, statuses ...order.Status) ([]*order.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status IN (`+placeholders+`) ORDER BY id;`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountOrdersByStatus returns per-status order counts for operator views.
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[order.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	out := map[order.Status]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[order.Status(st)] = n
	}
	return out, rows.Err()
}

// ApplySrcEscrowCreated advances a PENDING order to
// SOURCE_ESCROW_CREATED, recording the source leg's on-chain facts. The
// status predicate makes re-delivered events a no-op: the update matches
// zero rows and applied is false.
func (s *Store) ApplySrcEscrowCreated(ctx context.Context, ev order.SrcEscrowCreated) (applied bool, err error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE orders SET
  status = ?, src_escrow = ?, src_tx_hash = ?, src_timestamp = ?, src_timelocks = ?,
  updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status = ?;
`,
		order.StatusSourceEscrowCreated, ev.Escrow, ev.TxHash, ev.Timestamp, ev.Timelocks.String(),
		ev.OrderHash, order.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("apply src escrow created: %w", err)
	}
	return oneRow(res)
}

// ApplyDstEscrowCreated advances RESOLVER_SENT_DST_ESCROW_CREATED to
// DEST_ESCROW_CREATED, recording the destination leg's on-chain facts.
// Guarding on that specific predecessor keeps a stray destination event
// from touching an order that never asked for a destination escrow.
func (s *Store) ApplyDstEscrowCreated(ctx context.Context, ev order.DstEscrowCreated) (applied bool, err error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE orders SET
  status = ?, dst_escrow = ?, dst_tx_hash = ?, dst_timestamp = ?, dst_timelocks = ?,
  updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status = ?;
`,
		order.StatusDestEscrowCreated, ev.Escrow, ev.TxHash, ev.Timestamp, ev.Timelocks.String(),
		ev.OrderHash, order.StatusResolverSentDstEscrow,
	)
	if err != nil {
		return false, fmt.Errorf("apply dst escrow created: %w", err)
	}
	return oneRow(res)
}

// MarkDstEscrowRequested claims the destination leg for the resolver,
// moving SOURCE_ESCROW_CREATED to RESOLVER_SENT_DST_ESCROW_CREATED. The
// claim is taken before the create transaction goes out so the escrow
// event cannot outrun the status it guards on.
func (s *Store) MarkDstEscrowRequested(ctx context.Context, orderHash string) (applied bool, err error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status = ?;
`, order.StatusResolverSentDstEscrow, orderHash, order.StatusSourceEscrowCreated)
	if err != nil {
		return false, fmt.Errorf("mark dst escrow requested: %w", err)
	}
	return oneRow(res)
}

// RevertDstEscrowRequested releases a destination-leg claim after a
// failed submission, returning RESOLVER_SENT_DST_ESCROW_CREATED to
// SOURCE_ESCROW_CREATED so the next resolve pass retries the order.
func (s *Store) RevertDstEscrowRequested(ctx context.Context, orderHash string) (applied bool, err error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status = ?;
`, order.StatusSourceEscrowCreated, orderHash, order.StatusResolverSentDstEscrow)
	if err != nil {
		return false, fmt.Errorf("revert dst escrow requested: %w", err)
	}
	return oneRow(res)
}

// ShareSecret stores the disclosed secret and moves DEST_ESCROW_CREATED
// to SECRET_SHARED. Orders in any other state reject the secret.
func (s *Store) ShareSecret(ctx context.Context, orderHash, secret string) (applied bool, err error) {
	if secret == "" {
		return false, errors.New("secret required")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE orders SET secret = ?, status = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status = ?;
`, secret, order.StatusSecretShared, orderHash, order.StatusDestEscrowCreated)
	if err != nil {
		return false, fmt.Errorf("share secret: %w", err)
	}
	return oneRow(res)
}

// MarkLegWithdrawn records a confirmed withdrawal for one leg of a
// SECRET_SHARED order, and promotes the order to COMPLETED once both
// legs have cleared.
func (s *Store) MarkLegWithdrawn(ctx context.Context, orderHash string, leg Leg) (applied bool, err error) {
	col := "src_withdrawn"
	if leg == LegDest {
		col = "dst_withdrawn"
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE orders SET `+col+` = 1, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status = ? AND `+col+` = 0;
`, orderHash, order.StatusSecretShared)
	if err != nil {
		return false, fmt.Errorf("mark %s withdrawn: %w", leg, err)
	}
	applied, err = oneRow(res)
	if err != nil || !applied {
		return applied, err
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status = ? AND dst_withdrawn = 1 AND src_withdrawn = 1;
`, order.StatusCompleted, orderHash, order.StatusSecretShared); err != nil {
		return true, fmt.Errorf("complete order: %w", err)
	}
	return true, nil
}

// CloseOrder moves a non-terminal order to CANCELLED or EXPIRED. This is
// the resolver's timelock safety valve, never an event-driven path.
func (s *Store) CloseOrder(ctx context.Context, orderHash string, to order.Status) (applied bool, err error) {
	if to != order.StatusCancelled && to != order.StatusExpired {
		return false, fmt.Errorf("close order: invalid target status %s", to)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ? AND status NOT IN (?, ?, ?);
`, to, orderHash, order.StatusCompleted, order.StatusCancelled, order.StatusExpired)
	if err != nil {
		return false, fmt.Errorf("close order: %w", err)
	}
	return oneRow(res)
}

// HaltOrder flags an order for operator attention. Halted orders are
// skipped by the resolve cycle until the flag is cleared.
func (s *Store) HaltOrder(ctx context.Context, orderHash, reason string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE orders SET halted = 1, last_error = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ?;
`, reason, orderHash)
	if err != nil {
		return fmt.Errorf("halt order: %w", err)
	}
	return nil
}

// ResumeOrder clears the halt flag after operator intervention.
func (s *Store) ResumeOrder(ctx context.Context, orderHash string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE orders SET halted = 0, last_error = '', updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ?;
`, orderHash)
	if err != nil {
		return fmt.Errorf("resume order: %w", err)
	}
	return nil
}

// SetLastError records the most recent failure for an order so the
// status surface can distinguish "progressing" from "stuck".
func (s *Store) SetLastError(ctx context.Context, orderHash, msg string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE orders SET last_error = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_hash = ?;
`, msg, orderHash)
	if err != nil {
		return fmt.Errorf("set last error: %w", err)
	}
	return nil
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var o order.Order
	var srcTL, dstTL string
	err := row.Scan(
		&o.ID, &o.OrderHash, &o.HashLock, &o.Maker, &o.Taker,
		&o.Source.ChainID, &o.Source.Token, &o.Source.Amount.Value, &o.Source.Amount.Decimals,
		&o.Source.EscrowAddress, &o.Source.TxHash, &o.Source.Timestamp, &srcTL,
		&o.Dest.ChainID, &o.Dest.Token, &o.Dest.Amount.Value, &o.Dest.Amount.Decimals,
		&o.Dest.EscrowAddress, &o.Dest.TxHash, &o.Dest.Timestamp, &dstTL,
		&o.SafetyDeposit, &o.Secret, &o.Status, &o.DstWithdrawn, &o.SrcWithdrawn,
		&o.Halted, &o.LastError, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if o.Source.Timelocks, err = timelock.Parse(srcTL); err != nil {
		return nil, fmt.Errorf("order %s src timelocks: %w", o.OrderHash, err)
	}
	if o.Dest.Timelocks, err = timelock.Parse(dstTL); err != nil {
		return nil, fmt.Errorf("order %s dst timelocks: %w", o.OrderHash, err)
	}
	return &o, nil
}
