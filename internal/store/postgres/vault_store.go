package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// VaultPositionStore implements domain.VaultPositionStore using PostgreSQL.
type VaultPositionStore struct {
	pool *pgxpool.Pool
}

// NewVaultPositionStore creates a new VaultPositionStore backed by the given
// connection pool.
func NewVaultPositionStore(pool *pgxpool.Pool) *VaultPositionStore {
	return &VaultPositionStore{pool: pool}
}

// Upsert writes the vault position; a zero amount deletes the row.
func (s *VaultPositionStore) Upsert(ctx context.Context, pos domain.VaultPosition) error {
	if pos.Amount.IsZero() {
		const del = `DELETE FROM vault_positions WHERE account = $1 AND vault_id = $2`
		if _, err := s.pool.Exec(ctx, del, pos.Account, pos.VaultID); err != nil {
			return fmt.Errorf("postgres: delete vault position %s/%s: %w", pos.Account, pos.VaultID, err)
		}
		return nil
	}

	const query = `
		INSERT INTO vault_positions (account, vault_id, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, vault_id) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, pos.Account, pos.VaultID, pos.Amount, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert vault position %s/%s: %w", pos.Account, pos.VaultID, err)
	}
	return nil
}

// ListByAccount returns the account's vault positions.
func (s *VaultPositionStore) ListByAccount(ctx context.Context, account string) ([]domain.VaultPosition, error) {
	const query = `
		SELECT account, vault_id, amount, updated_at
		FROM vault_positions
		WHERE account = $1
		ORDER BY vault_id`

	rows, err := s.pool.Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vault positions for %s: %w", account, err)
	}
	defer rows.Close()

	var positions []domain.VaultPosition
	for rows.Next() {
		var p domain.VaultPosition
		if err := rows.Scan(&p.Account, &p.VaultID, &p.Amount, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vault position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list vault positions rows: %w", err)
	}
	return positions, nil
}
