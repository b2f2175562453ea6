package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// maxBindParams bounds how many "?" placeholders a single flushed
// statement may carry, well under SQLite's historical default
// host-parameter ceiling (999 pre-3.32, 32766 since); capping here
// keeps a single flush safe regardless of which limit the linked
// SQLite build enforces.
const maxBindParams = 900

// batchInsert accumulates rows for one INSERT statement and flushes
// them as multi-row "VALUES (...), (...), ..." statements against tx,
// every batchSize rows and once more on Done.
//
// Adapted from this codebase's pgx.Batch-based micro-batcher: the
// shape (queue rows, flush automatically once a threshold is reached,
// a final Done flush) is unchanged, but the implementation builds
// multi-row statements over *sql.Tx rather than a pgx.Batch, since
// SQLite (unlike Postgres via pgx) has no wire-level batched-exec
// protocol to hand rows to directly.
type batchInsert struct {
	tx        *sql.Tx
	prefix    string // "INSERT INTO t (...) VALUES "
	group     string // one row's "(?,?,...)" placeholder group
	cols      int
	batchSize int
	pending   []any // flattened args, cols per queued row
}

// newBatchInsert parses query (a single-row "INSERT ... VALUES
// (?,?,...)" statement) into a prefix and placeholder group it can
// repeat, and returns a batcher that flushes every batchSize rows.
func newBatchInsert(ctx context.Context, tx *sql.Tx, query string, batchSize int) (*batchInsert, error) {
	if batchSize <= 0 {
		batchSize = 5000
	}
	const valuesKeyword = "VALUES"
	idx := strings.Index(query, valuesKeyword)
	if idx < 0 {
		return nil, fmt.Errorf("store: batch insert: query has no VALUES clause: %q", query)
	}
	group := strings.TrimSpace(query[idx+len(valuesKeyword):])
	cols := strings.Count(group, "?")
	if cols == 0 {
		return nil, fmt.Errorf("store: batch insert: no placeholders in VALUES clause: %q", query)
	}
	return &batchInsert{
		tx:        tx,
		prefix:    query[:idx+len(valuesKeyword)] + " ",
		group:     group,
		cols:      cols,
		batchSize: batchSize,
	}, nil
}

// Queue appends one row's args and flushes once batchSize rows are
// pending.
func (b *batchInsert) Queue(ctx context.Context, args ...any) error {
	if len(args) != b.cols {
		return fmt.Errorf("store: batch insert: row has %d args, want %d", len(args), b.cols)
	}
	b.pending = append(b.pending, args...)
	if len(b.pending)/b.cols >= b.batchSize {
		return b.flush(ctx)
	}
	return nil
}

// flush executes every pending row, splitting into as many statements
// as needed to keep each one's placeholder count under maxBindParams.
func (b *batchInsert) flush(ctx context.Context) error {
	rowsPerStmt := maxBindParams / b.cols
	if rowsPerStmt < 1 {
		rowsPerStmt = 1
	}
	for len(b.pending) > 0 {
		n := rowsPerStmt
		if n > len(b.pending)/b.cols {
			n = len(b.pending) / b.cols
		}
		chunk := b.pending[:n*b.cols]
		groups := make([]string, n)
		for i := range groups {
			groups[i] = b.group
		}
		query := b.prefix + strings.Join(groups, ",")
		if _, err := b.tx.ExecContext(ctx, query, chunk...); err != nil {
			return fmt.Errorf("store: batch insert: flush %d rows: %w", n, err)
		}
		b.pending = b.pending[n*b.cols:]
	}
	return nil
}

// Done flushes any rows still queued.
func (b *batchInsert) Done(ctx context.Context) error {
	return b.flush(ctx)
}
