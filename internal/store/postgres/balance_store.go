package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get returns the balance for (account, denom, kind).
func (s *BalanceStore) Get(ctx context.Context, account, denom string, kind domain.BalanceKind) (domain.ScaledBalance, error) {
	const query = `
		SELECT account, denom, kind, scaled_amount, updated_at
		FROM scaled_balances
		WHERE account = $1 AND denom = $2 AND kind = $3`

	var b domain.ScaledBalance
	var kindStr string
	err := s.pool.QueryRow(ctx, query, account, denom, string(kind)).Scan(
		&b.Account, &b.Denom, &kindStr, &b.ScaledAmount, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScaledBalance{}, fmt.Errorf("postgres: balance %s/%s/%s: %w", account, denom, kind, domain.ErrNotFound)
		}
		return domain.ScaledBalance{}, fmt.Errorf("postgres: get balance %s/%s: %w", account, denom, err)
	}
	b.Kind = domain.BalanceKind(kindStr)
	return b, nil
}

// Upsert writes the balance; a zero scaled amount deletes the row instead,
// keeping the table free of dust entries.
func (s *BalanceStore) Upsert(ctx context.Context, b domain.ScaledBalance) error {
	if b.ScaledAmount.IsZero() {
		const del = `DELETE FROM scaled_balances WHERE account = $1 AND denom = $2 AND kind = $3`
		if _, err := s.pool.Exec(ctx, del, b.Account, b.Denom, string(b.Kind)); err != nil {
			return fmt.Errorf("postgres: delete balance %s/%s: %w", b.Account, b.Denom, err)
		}
		return nil
	}

	const query = `
		INSERT INTO scaled_balances (account, denom, kind, scaled_amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account, denom, kind) DO UPDATE SET
			scaled_amount = EXCLUDED.scaled_amount,
			updated_at    = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		b.Account, b.Denom, string(b.Kind), b.ScaledAmount, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert balance %s/%s: %w", b.Account, b.Denom, err)
	}
	return nil
}

// ListByAccount returns all balances held by the account.
func (s *BalanceStore) ListByAccount(ctx context.Context, account string) ([]domain.ScaledBalance, error) {
	const query = `
		SELECT account, denom, kind, scaled_amount, updated_at
		FROM scaled_balances
		WHERE account = $1
		ORDER BY denom, kind`

	rows, err := s.pool.Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances for %s: %w", account, err)
	}
	defer rows.Close()

	var balances []domain.ScaledBalance
	for rows.Next() {
		var b domain.ScaledBalance
		var kindStr string
		if err := rows.Scan(&b.Account, &b.Denom, &kindStr, &b.ScaledAmount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		b.Kind = domain.BalanceKind(kindStr)
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return balances, nil
}

// ListAccountsWithDebt returns the distinct accounts holding any debt
// balance, ordered for stable pagination across monitor scans.
func (s *BalanceStore) ListAccountsWithDebt(ctx context.Context, opts domain.ListOpts) ([]string, error) {
	query := `
		SELECT DISTINCT account FROM scaled_balances
		WHERE kind = 'debt'
		ORDER BY account`
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
		return nil, fmt.Errorf("postgres: list debt accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("postgres: scan debt account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list debt accounts rows: %w", err)
	}
	return accounts, nil
}
