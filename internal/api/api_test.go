package api

import (
	"context"
	"path/filepath"
	"testing"

	"gridcore/internal/botmanager"
	"gridcore/internal/config"
	"gridcore/internal/corelog"
	"gridcore/internal/credentials"
	"gridcore/internal/domain"
	"gridcore/internal/exchange/fake"
	"gridcore/internal/notify"
	"gridcore/internal/store/sqlite"
	"gridcore/internal/strategy"
	"gridcore/pkg/concurrency"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gw := fake.New()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 32}, corelog.Nop{})
	t.Cleanup(pool.Stop)
	hub := notify.NewHub(corelog.Nop{})
	strat := strategy.New(gw, st, hub, corelog.Nop{}, pool)

	sealer, err := config.NewSealer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	resolver := credentials.NewResolver(st, sealer)
	manager := botmanager.New(gw, st, strat, hub, resolver, corelog.Nop{}, pool)

	grid := config.GridConfig{MinGridLevels: 2, MaxGridLevels: 500, MinInvestmentUSDT: "10"}
	return New(manager, st, gw, sealer, resolver, grid, corelog.Nop{})
}

func TestRegisterUser_SealsCredentialsRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, 42, "api-key", "api-secret")
	require.NoError(t, err)
	require.NotEqual(t, "api-key", user.APIKey, "stored key must be sealed, not plaintext")

	balances, err := svc.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, balances)
}

func TestCreateRangeBot_RejectsNarrowSpan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRangeBot(ctx, 1, "BTCUSDT", decimal.NewFromInt(45000), decimal.NewFromInt(45100), 10, decimal.NewFromInt(100))
	require.Error(t, err)
}

func TestCreateRangeBot_RejectsOddLevels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRangeBot(ctx, 1, "BTCUSDT", decimal.NewFromInt(44000), decimal.NewFromInt(46000), 9, decimal.NewFromInt(100))
	require.Error(t, err)
}

func TestCreateRangeBot_RejectsBelowMinInvestment(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRangeBot(ctx, 1, "BTCUSDT", decimal.NewFromInt(44000), decimal.NewFromInt(46000), 10, decimal.NewFromInt(1))
	require.Error(t, err)
}

func TestCreateRangeBot_Succeeds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, 1, "api-key", "api-secret")
	require.NoError(t, err)

	bot, err := svc.CreateRangeBot(ctx, user.ID, "BTCUSDT", decimal.NewFromInt(44000), decimal.NewFromInt(46000), 10, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, domain.BotActive, bot.Status)
	t.Cleanup(func() { _ = svc.manager.Stop(ctx, bot.ID, false) })

	bots, err := svc.ListBots(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, bots, 1)

	detail, err := svc.BotDetails(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, detail.OpenOrders, 10)
}

func TestCreateFlatBot_RejectsNonPositiveSpread(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFlatBot(ctx, 1, "BTCUSDT", decimal.NewFromInt(45000), decimal.Zero, decimal.NewFromInt(100), 3, 3, decimal.NewFromInt(10))
	require.Error(t, err)
}

func TestCreateFlatBot_RejectsBelowMinInvestment(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFlatBot(ctx, 1, "BTCUSDT", decimal.NewFromInt(45000), decimal.NewFromInt(100), decimal.NewFromInt(100), 1, 1, decimal.NewFromInt(1))
	require.Error(t, err)
}

func TestCreateFlatBot_Succeeds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, 1, "api-key", "api-secret")
	require.NoError(t, err)

	bot, err := svc.CreateFlatBot(ctx, user.ID, "BTCUSDT", decimal.NewFromInt(45000), decimal.NewFromInt(100), decimal.NewFromInt(100), 3, 3, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Equal(t, domain.GridFlat, bot.GridType)
	t.Cleanup(func() { _ = svc.manager.Stop(ctx, bot.ID, false) })
}
