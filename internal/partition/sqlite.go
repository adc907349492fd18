package partition

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kblocks/internal/api"
)

//go:embed schema.sql
var schemaSQL string

// pullPollInterval bounds how often an empty partition is re-checked while
// Pull waits.
const pullPollInterval = 100 * time.Millisecond

// SQLiteQueue implements Queue on a SQLite database.
// Uses WAL mode so several worker processes can share one file.
type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the queue database at path.
func OpenSQLite(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteQueue{db: db, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close implements Queue.
func (q *SQLiteQueue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Append implements Queue.
func (q *SQLiteQueue) Append(ctx context.Context, p int, ev api.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO events (part, payload, enqueued_at) VALUES (?, ?, ?)`,
		p, payload, q.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append to partition %d: %w", p, err)
	}
	return nil
}

// Pull implements Queue.
func (q *SQLiteQueue) Pull(ctx context.Context, p int, wait time.Duration) (Item, bool, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		item, ok, err := q.head(ctx, p)
		if err != nil || ok {
			return item, ok, err
		}

		tick := time.NewTimer(min(pullPollInterval, wait))
		select {
		case <-ctx.Done():
			tick.Stop()
			return Item{}, false, nil
		case <-deadline.C:
			tick.Stop()
			return Item{}, false, nil
		case <-tick.C:
		}
	}
}

func (q *SQLiteQueue) head(ctx context.Context, p int) (Item, bool, error) {
	var (
		item     = Item{Partition: p}
		payload  []byte
		enqueued int64
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, payload, enqueued_at FROM events WHERE part = ? ORDER BY id LIMIT 1`, p,
	).Scan(&item.ID, &payload, &enqueued)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return Item{}, false, nil
		}
		return Item{}, false, fmt.Errorf("failed to read partition %d: %w", p, err)
	}
	if err := json.Unmarshal(payload, &item.Event); err != nil {
		return Item{}, false, fmt.Errorf("failed to decode event %d of partition %d: %w", item.ID, p, err)
	}
	item.EnqueuedAt = time.Unix(0, enqueued)
	return item, true, nil
}

// Ack implements Queue.
func (q *SQLiteQueue) Ack(ctx context.Context, p int, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM events WHERE part = ? AND id = ?`, p, id); err != nil {
		return fmt.Errorf("failed to ack event %d of partition %d: %w", id, p, err)
	}
	return nil
}

// Len implements Queue.
func (q *SQLiteQueue) Len(ctx context.Context, p int) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE part = ?`, p).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count partition %d: %w", p, err)
	}
	return n, nil
}

// Claim implements Queue.
func (q *SQLiteQueue) Claim(ctx context.Context, p int, owner string, ttl time.Duration) error {
	return q.take(ctx, p, owner, ttl, true)
}

// Renew implements Queue.
func (q *SQLiteQueue) Renew(ctx context.Context, p int, owner string, ttl time.Duration) error {
	return q.take(ctx, p, owner, ttl, false)
}

func (q *SQLiteQueue) take(ctx context.Context, p int, owner string, ttl time.Duration, allowTakeover bool) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lease transaction: %w", err)
	}
	defer tx.Rollback()

	now := q.now()
	var (
		current string
		expires int64
	)
	err = tx.QueryRowContext(ctx, `SELECT owner, expires_at FROM leases WHERE part = ?`, p).Scan(&current, &expires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !allowTakeover {
			return fmt.Errorf("partition %d: lease of %s not found", p, owner)
		}
	case err != nil:
		return fmt.Errorf("failed to read lease of partition %d: %w", p, err)
	case current != owner:
		if !allowTakeover || now.UnixNano() < expires {
			return fmt.Errorf("partition %d: %w (owner %s)", p, ErrLeaseHeld, current)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO leases (part, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (part) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at`,
		p, owner, now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write lease of partition %d: %w", p, err)
	}
	return tx.Commit()
}

// Release implements Queue.
func (q *SQLiteQueue) Release(ctx context.Context, p int, owner string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM leases WHERE part = ? AND owner = ?`, p, owner); err != nil {
		return fmt.Errorf("failed to release lease of partition %d: %w", p, err)
	}
	return nil
}

// Leases implements Queue.
func (q *SQLiteQueue) Leases(ctx context.Context) ([]Lease, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT part, owner, expires_at FROM leases ORDER BY part`)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	var out []Lease
	for rows.Next() {
		var (
			l       Lease
			expires int64
		)
		if err := rows.Scan(&l.Partition, &l.Owner, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		l.ExpiresAt = time.Unix(0, expires)
		out = append(out, l)
	}
	return out, rows.Err()
}
