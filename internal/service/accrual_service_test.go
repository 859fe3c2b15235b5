package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mars-protocol/riskengine/internal/domain"
)

func newAccrualEnv(t *testing.T) (*testEnv, *AccrualService, *fakeRateSnapshotStore) {
	t.Helper()
	env := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snaps := &fakeRateSnapshotStore{}
	svc := NewAccrualService(env.markets, snaps, env.locks,
		AccrualConfig{LockTTL: 5 * time.Second}, logger)
	return env, svc, snaps
}

func TestAccrueAdvancesMarketAndRecordsSnapshot(t *testing.T) {
	env, svc, snaps := newAccrualEnv(t)
	ctx := context.Background()
	env.fund(t)
	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("500"), testNow))

	m, err := svc.Accrue(ctx, "uusdc", testNow.Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, m.DebtIndex.GreaterThanOrEqual(dec("1")))
	assert.True(t, m.BorrowRate.IsPositive())
	assert.Equal(t, testNow.Add(time.Hour), m.LastUpdated)

	history, err := snaps.ListByDenom(ctx, "uusdc", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Utilization.IsPositive())
}

func TestAccrueSameTimestampWritesNothing(t *testing.T) {
	_, svc, snaps := newAccrualEnv(t)
	ctx := context.Background()

	first, err := svc.Accrue(ctx, "uatom", testNow)
	require.NoError(t, err)
	second, err := svc.Accrue(ctx, "uatom", testNow)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	history, err := snaps.ListByDenom(ctx, "uatom", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAccrueUnknownMarket(t *testing.T) {
	_, svc, _ := newAccrualEnv(t)

	_, err := svc.Accrue(context.Background(), "unlisted", testNow)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccrueAllSweepsEveryMarket(t *testing.T) {
	env, svc, snaps := newAccrualEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, svc.AccrueAll(ctx, testNow.Add(time.Hour)))

	for _, denom := range []string{"uatom", "uusdc"} {
		history, err := snaps.ListByDenom(ctx, denom, domain.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, history, 1, "denom %s", denom)
	}
}
