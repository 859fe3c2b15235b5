package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// LiquidationStore implements domain.LiquidationStore using PostgreSQL.
type LiquidationStore struct {
	pool *pgxpool.Pool
}

// NewLiquidationStore creates a new LiquidationStore backed by the given
// connection pool.
func NewLiquidationStore(pool *pgxpool.Pool) *LiquidationStore {
	return &LiquidationStore{pool: pool}
}

const liquidationCols = `id, account, liquidator, debt_denom, collateral_denom,
	debt_repaid, collateral_seized, bonus, protocol_fee,
	pre_health_factor, post_health_factor, executed_at`

// Insert appends one executed liquidation.
func (s *LiquidationStore) Insert(ctx context.Context, rec domain.LiquidationRecord) error {
	const query = `
		INSERT INTO liquidations (` + liquidationCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Account, rec.Liquidator, rec.DebtDenom, rec.CollateralDenom,
		rec.DebtRepaid, rec.CollateralSeized, rec.Bonus, rec.ProtocolFee,
		rec.PreHealthFactor, rec.PostHealthFactor, rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert liquidation %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent liquidations, newest first.
func (s *LiquidationStore) ListRecent(ctx context.Context, limit int) ([]domain.LiquidationRecord, error) {
	query := `SELECT ` + liquidationCols + ` FROM liquidations ORDER BY executed_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent liquidations: %w", err)
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

// ListBefore returns liquidations executed strictly before the cutoff, for
// archival sweeps.
func (s *LiquidationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LiquidationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+liquidationCols+` FROM liquidations WHERE executed_at < $1 ORDER BY executed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations before %s: %w", before, err)
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

func scanLiquidations(rows pgx.Rows) ([]domain.LiquidationRecord, error) {
	var records []domain.LiquidationRecord
	for rows.Next() {
		var rec domain.LiquidationRecord
		if err := rows.Scan(
			&rec.ID, &rec.Account, &rec.Liquidator, &rec.DebtDenom, &rec.CollateralDenom,
			&rec.DebtRepaid, &rec.CollateralSeized, &rec.Bonus, &rec.ProtocolFee,
			&rec.PreHealthFactor, &rec.PostHealthFactor, &rec.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: liquidation rows: %w", err)
	}
	return records, nil
}
