package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. The rate
// model union and bonus curve are stored as JSONB; everything monetary is
// NUMERIC.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `denom, liquidity_index, debt_index, borrow_rate,
	liquidity_rate, total_scaled_liquidity, total_scaled_debt,
	reserve_factor, max_loan_to_value, liquidation_threshold,
	liquidation_bonus, protocol_liquidation_fee, rate_model,
	borrow_enabled, deposit_enabled, deposit_cap,
	last_updated, rate_updated, txs_since_rate_update,
	created_at, updated_at`

// Create inserts a newly listed market. ErrAlreadyExists is returned when
// the denom is already registered.
func (s *MarketStore) Create(ctx context.Context, m domain.AssetMarket) error {
	bonusJSON, modelJSON, err := encodeMarketParams(m)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO asset_markets (` + marketCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = s.pool.Exec(ctx, query,
		m.Denom, m.LiquidityIndex, m.DebtIndex, m.BorrowRate,
		m.LiquidityRate, m.TotalScaledLiquidity, m.TotalScaledDebt,
		m.ReserveFactor, m.MaxLoanToValue, m.LiquidationThreshold,
		bonusJSON, m.ProtocolLiquidationFee, modelJSON,
		m.BorrowEnabled, m.DepositEnabled, m.DepositCap,
		m.LastUpdated, m.RateUpdated, int32(m.TxsSinceRateUpdate),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: market %s: %w", m.Denom, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.Denom, err)
	}
	return nil
}

// Update rewrites a market row in full; accrual mutates most columns.
func (s *MarketStore) Update(ctx context.Context, m domain.AssetMarket) error {
	bonusJSON, modelJSON, err := encodeMarketParams(m)
	if err != nil {
		return err
	}

	const query = `
		UPDATE asset_markets SET
			liquidity_index          = $2,
			debt_index               = $3,
			borrow_rate              = $4,
			liquidity_rate           = $5,
			total_scaled_liquidity   = $6,
			total_scaled_debt        = $7,
			reserve_factor           = $8,
			max_loan_to_value        = $9,
			liquidation_threshold    = $10,
			liquidation_bonus        = $11,
			protocol_liquidation_fee = $12,
			rate_model               = $13,
			borrow_enabled           = $14,
			deposit_enabled          = $15,
			deposit_cap              = $16,
			last_updated             = $17,
			rate_updated             = $18,
			txs_since_rate_update    = $19,
			updated_at               = $20
		WHERE denom = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.Denom, m.LiquidityIndex, m.DebtIndex, m.BorrowRate,
		m.LiquidityRate, m.TotalScaledLiquidity, m.TotalScaledDebt,
		m.ReserveFactor, m.MaxLoanToValue, m.LiquidationThreshold,
		bonusJSON, m.ProtocolLiquidationFee, modelJSON,
		m.BorrowEnabled, m.DepositEnabled, m.DepositCap,
		m.LastUpdated, m.RateUpdated, int32(m.TxsSinceRateUpdate),
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.Denom, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", m.Denom, domain.ErrNotFound)
	}
	return nil
}

// GetByDenom retrieves a market by its denom.
func (s *MarketStore) GetByDenom(ctx context.Context, denom string) (domain.AssetMarket, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM asset_markets WHERE denom = $1`, denom)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AssetMarket{}, fmt.Errorf("postgres: market %s: %w", denom, domain.ErrNotFound)
		}
		return domain.AssetMarket{}, fmt.Errorf("postgres: get market %s: %w", denom, err)
	}
	return m, nil
}

// List returns markets ordered by denom with pagination.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AssetMarket, error) {
	query := `SELECT ` + marketCols + ` FROM asset_markets ORDER BY denom`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.AssetMarket
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the number of listed markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM asset_markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// scanMarket scans a single market row.
func scanMarket(row pgx.Row) (domain.AssetMarket, error) {
	var m domain.AssetMarket
	var bonusJSON, modelJSON []byte
	var txs int32
	err := row.Scan(
		&m.Denom, &m.LiquidityIndex, &m.DebtIndex, &m.BorrowRate,
		&m.LiquidityRate, &m.TotalScaledLiquidity, &m.TotalScaledDebt,
		&m.ReserveFactor, &m.MaxLoanToValue, &m.LiquidationThreshold,
		&bonusJSON, &m.ProtocolLiquidationFee, &modelJSON,
		&m.BorrowEnabled, &m.DepositEnabled, &m.DepositCap,
		&m.LastUpdated, &m.RateUpdated, &txs,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.AssetMarket{}, err
	}
	m.TxsSinceRateUpdate = uint32(txs)

	if err := json.Unmarshal(bonusJSON, &m.LiquidationBonus); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("decode liquidation bonus: %w", err)
	}
	if err := json.Unmarshal(modelJSON, &m.RateModel); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("decode rate model: %w", err)
	}
	return m, nil
}

func encodeMarketParams(m domain.AssetMarket) (bonusJSON, modelJSON []byte, err error) {
	bonusJSON, err = json.Marshal(m.LiquidationBonus)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: encode liquidation bonus: %w", err)
	}
	modelJSON, err = json.Marshal(m.RateModel)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: encode rate model: %w", err)
	}
	return bonusJSON, modelJSON, nil
}
