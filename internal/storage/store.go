// Package storage wraps SQLite-backed persistence for the per-chain
// progress cursors and the order ledger. Guarded status transitions are
// single conditional UPDATEs; the affected-row count is the
// compare-and-swap primitive the whole state machine depends on.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open initializes the database and runs schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  chain_id        TEXT PRIMARY KEY,
  start_block     INTEGER NOT NULL,
  process_block   INTEGER NOT NULL,
  process_delay   INTEGER NOT NULL,
  factory_address TEXT NOT NULL,
  updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  order_hash      TEXT NOT NULL UNIQUE,
  hash_lock       TEXT NOT NULL,
  maker           TEXT NOT NULL,
  taker           TEXT NOT NULL,

  src_chain_id    TEXT NOT NULL,
  src_token       TEXT NOT NULL,
  src_amount      TEXT NOT NULL,
  src_decimals    INTEGER NOT NULL,
  src_escrow      TEXT NOT NULL DEFAULT '',
  src_tx_hash     TEXT NOT NULL DEFAULT '',
  src_timestamp   INTEGER NOT NULL DEFAULT 0,
  src_timelocks   TEXT NOT NULL DEFAULT '',

  dst_chain_id    TEXT NOT NULL,
  dst_token       TEXT NOT NULL,
  dst_amount      TEXT NOT NULL,
  dst_decimals    INTEGER NOT NULL,
  dst_escrow      TEXT NOT NULL DEFAULT '',
  dst_tx_hash     TEXT NOT NULL DEFAULT '',
  dst_timestamp   INTEGER NOT NULL DEFAULT 0,
  dst_timelocks   TEXT NOT NULL DEFAULT '',

  safety_deposit  TEXT NOT NULL DEFAULT '0',
  secret          TEXT NOT NULL DEFAULT '',
  status          TEXT NOT NULL,
  dst_withdrawn   INTEGER NOT NULL DEFAULT 0,
  src_withdrawn   INTEGER NOT NULL DEFAULT 0,
  halted          INTEGER NOT NULL DEFAULT 0,
  last_error      TEXT NOT NULL DEFAULT '',
  created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Cursor is the persisted ingestion position for one chain.
// ProcessBlock is the exclusive lower bound of the next scan window.
type Cursor struct {
	ChainID        string
	StartBlock     uint64
	ProcessBlock   uint64
	ProcessDelay   uint64
	FactoryAddress string
	UpdatedAt      time.Time
}

// SeedCursor inserts a cursor for a chain if none exists yet, starting
// at startBlock. An existing cursor is left untouched so restarts resume
// where ingestion stopped.
func (s *Store) SeedCursor(ctx context.Context, chainID string, startBlock, processDelay uint64, factoryAddress string) error {
	if chainID == "" {
		return errors.New("chainID required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (chain_id, start_block, process_block, process_delay, factory_address)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(chain_id) DO NOTHING;
`, chainID, startBlock, startBlock, processDelay, factoryAddress)
	if err != nil {
		return fmt.Errorf("seed cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a chain.
func (s *Store) GetCursor(ctx context.Context, chainID string) (Cursor, bool, error) {
	var c Cursor
	row := s.db.QueryRowContext(ctx, `
SELECT chain_id, start_block, process_block, process_delay, factory_address, updated_at
FROM cursors WHERE chain_id = ?;
`, chainID)
	switch err := row.Scan(&c.ChainID, &c.StartBlock, &c.ProcessBlock, &c.ProcessDelay, &c.FactoryAddress, &c.UpdatedAt); {
	case err == nil:
		return c, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return Cursor{}, false, nil
	default:
		return Cursor{}, false, fmt.Errorf("get cursor: %w", err)
	}
}

// AdvanceCursor records the new process block for a chain. Called only
// after the chain's event batch has been fully applied to the ledger, so
// a crash in between re-fetches the same window next cycle.
func (s *Store) AdvanceCursor(ctx context.Context, chainID string, processBlock uint64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE cursors SET process_block = ?, updated_at = CURRENT_TIMESTAMP WHERE chain_id = ?;
`, processBlock, chainID)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("advance cursor %s: %w", chainID, ErrNotFound)
	}
	return nil
}

// ListCursors returns all persisted cursors ordered by chain id.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chain_id, start_block, process_block, process_delay, factory_address, updated_at
FROM cursors ORDER BY chain_id;
`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.ChainID, &c.StartBlock, &c.ProcessBlock, &c.ProcessDelay, &c.FactoryAddress, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WithTx executes a callback inside a transaction for callers needing
// multi-statement atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
