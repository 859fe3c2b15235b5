package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/notify"
)

type captureSender struct {
	mu       sync.Mutex
	titles   []string
	messages []string
}

func (s *captureSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *captureSender) Name() string { return "capture" }

func (s *captureSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func newMonitorEnv(t *testing.T) (*testEnv, *MonitorService, *captureSender) {
	t.Helper()
	env := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sender := &captureSender{}
	notifier := notify.NewNotifier([]notify.Sender{sender}, nil, logger)
	monitor := NewMonitorService(env.balances, env.positions, notifier, MonitorConfig{
		Interval: time.Minute,
		PageSize: 10,
		Workers:  2,
	}, logger)
	return env, monitor, sender
}

func TestScanIgnoresHealthyAccounts(t *testing.T) {
	env, monitor, sender := newMonitorEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("200"), testNow))

	require.NoError(t, monitor.Scan(ctx))
	assert.Empty(t, sender.sent())
}

func TestScanAlertsOnLiquidatableAccount(t *testing.T) {
	env, monitor, sender := newMonitorEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("600"), testNow))

	// Collateral collapses: 100 uatom at 5 carries a liquidation-threshold
	// adjusted 375 against 600 of debt.
	require.NoError(t, env.prices.SetPrice(ctx, "uatom", dec("5"), testNow))

	require.NoError(t, monitor.Scan(ctx))

	titles := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Account liquidatable", titles[0])
	assert.True(t, strings.Contains(sender.messages[0], "osmo1alice"))
}

func TestScanAlertsAboveMaxLTV(t *testing.T) {
	env, monitor, sender := newMonitorEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("690"), testNow))

	// Drop collateral slightly: max-LTV power 0.7*100*9.5 = 665 < 690 but
	// the liquidation threshold power 0.75*100*9.5 = 712.5 still covers
	// the debt.
	require.NoError(t, env.prices.SetPrice(ctx, "uatom", dec("9.5"), testNow))

	require.NoError(t, monitor.Scan(ctx))

	titles := sender.sent()
	require.Len(t, titles, 1)
	assert.Equal(t, "Account above max LTV", titles[0])
}

func TestScanPaginatesAccounts(t *testing.T) {
	env, monitor, sender := newMonitorEnv(t)
	ctx := context.Background()
	env.fund(t)

	// Three indebted accounts with a page size of 10 scan in one pass; the
	// same set scanned with page size 1 must visit each exactly once.
	monitor.cfg.PageSize = 1
	for _, account := range []string{"osmo1a", "osmo1b", "osmo1c"} {
		require.NoError(t, env.lending.Deposit(ctx, account, "uatom", dec("100"), testNow))
		require.NoError(t, env.lending.Borrow(ctx, account, domain.AccountKindDefault, "uusdc", dec("600"), testNow))
	}
	require.NoError(t, env.prices.SetPrice(ctx, "uatom", dec("5"), testNow))

	require.NoError(t, monitor.Scan(ctx))
	assert.Len(t, sender.sent(), 3)
}
