package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// RateSnapshotStore implements domain.RateSnapshotStore using PostgreSQL.
type RateSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewRateSnapshotStore creates a new RateSnapshotStore backed by the given
// connection pool.
func NewRateSnapshotStore(pool *pgxpool.Pool) *RateSnapshotStore {
	return &RateSnapshotStore{pool: pool}
}

const snapshotCols = `denom, borrow_rate, liquidity_rate, liquidity_index,
	debt_index, utilization, observed_at`

// Insert appends one accrual observation.
func (s *RateSnapshotStore) Insert(ctx context.Context, snap domain.RateSnapshot) error {
	const query = `
		INSERT INTO rate_snapshots (` + snapshotCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		snap.Denom, snap.BorrowRate, snap.LiquidityRate, snap.LiquidityIndex,
		snap.DebtIndex, snap.Utilization, snap.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert rate snapshot %s: %w", snap.Denom, err)
	}
	return nil
}

// ListByDenom returns a market's accrual history, newest first.
func (s *RateSnapshotStore) ListByDenom(ctx context.Context, denom string, opts domain.ListOpts) ([]domain.RateSnapshot, error) {
	query := `SELECT ` + snapshotCols + ` FROM rate_snapshots WHERE denom = $1`
	args := []any{denom}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY observed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rate snapshots %s: %w", denom, err)
	}
	defer rows.Close()
	return scanRateSnapshots(rows)
}

// ListBefore returns snapshots observed strictly before the cutoff, for
// archival sweeps.
func (s *RateSnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RateSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM rate_snapshots WHERE observed_at < $1 ORDER BY observed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rate snapshots before %s: %w", before, err)
	}
	defer rows.Close()
	return scanRateSnapshots(rows)
}

func scanRateSnapshots(rows pgx.Rows) ([]domain.RateSnapshot, error) {
	var snaps []domain.RateSnapshot
	for rows.Next() {
		var snap domain.RateSnapshot
		if err := rows.Scan(
			&snap.Denom, &snap.BorrowRate, &snap.LiquidityRate, &snap.LiquidityIndex,
			&snap.DebtIndex, &snap.Utilization, &snap.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan rate snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rate snapshot rows: %w", err)
	}
	return snaps, nil
}
