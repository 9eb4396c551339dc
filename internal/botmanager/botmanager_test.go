package botmanager

import (
	"context"
	"path/filepath"
	"testing"

	"gridcore/internal/corelog"
	"gridcore/internal/domain"
	"gridcore/internal/exchange"
	"gridcore/internal/exchange/fake"
	"gridcore/internal/notify"
	"gridcore/internal/store"
	"gridcore/internal/store/sqlite"
	"gridcore/internal/strategy"
	"gridcore/pkg/concurrency"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixedCreds struct{}

func (fixedCreds) Resolve(ctx context.Context, userID int64) (exchange.Credentials, error) {
	return exchange.Credentials{APIKey: "k", APISecret: "s"}, nil
}

func newTestManager(t *testing.T) (*Manager, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gw := fake.New()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 32}, corelog.Nop{})
	t.Cleanup(pool.Stop)

	hub := notify.NewHub(corelog.Nop{})
	strat := strategy.New(gw, st, hub, corelog.Nop{}, pool)
	m := New(gw, st, strat, hub, fixedCreds{}, corelog.Nop{}, pool)
	return m, st
}

func rangeBot() *domain.Bot {
	return &domain.Bot{
		UserID:     1,
		Symbol:     "BTCUSDT",
		GridType:   domain.GridRange,
		LowerPrice: decimal.NewFromInt(44000),
		UpperPrice: decimal.NewFromInt(46000),
		GridLevels: 10,
		OrderSize:  decimal.NewFromInt(10),
	}
}

func TestCreate_PlacesLadderAndActivatesBot(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, m.Create(ctx, bot))
	require.Equal(t, domain.BotActive, bot.Status)
	t.Cleanup(func() { m.stopSupervisor(bot.ID) })

	orders, err := st.GetOpenOrders(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, orders, 10)
}

func TestPauseResumeLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, m.Create(ctx, bot))
	t.Cleanup(func() { m.stopSupervisor(bot.ID) })

	require.NoError(t, m.Pause(ctx, bot.ID))
	paused, err := m.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BotPaused, paused.Status)

	require.Error(t, m.Pause(ctx, bot.ID), "pausing an already-paused bot must fail")

	require.NoError(t, m.Resume(ctx, bot.ID))
	resumed, err := m.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BotActive, resumed.Status)
}

func TestStop_CancelsOpenOrdersAndStopsBot(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, m.Create(ctx, bot))

	require.NoError(t, m.Stop(ctx, bot.ID, false))

	stopped, err := m.store.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BotStopped, stopped.Status)

	open, err := st.GetOpenOrders(ctx, bot.ID)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestDelete_CascadesOrdersAndLogs(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, m.Create(ctx, bot))
	require.NoError(t, st.AppendLog(ctx, &domain.Log{UserID: bot.UserID, BotID: &bot.ID, Level: domain.LogInfo, Message: "created"}))

	require.NoError(t, m.Delete(ctx, bot.ID))

	_, err := st.GetBot(ctx, bot.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	orders, err := st.GetOrdersByBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestRestoreAfterRestart_ResumesActiveBots(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, m.Create(ctx, bot))
	m.stopSupervisor(bot.ID) // simulate process restart: no supervisor running

	m2, _ := newTestManagerSharingStore(t, st)
	require.NoError(t, m2.RestoreAfterRestart(ctx))
	t.Cleanup(func() { m2.stopSupervisor(bot.ID) })

	m2.mu.Lock()
	_, running := m2.supervisors[bot.ID]
	m2.mu.Unlock()
	require.True(t, running, "restart should re-register a supervisor for every active bot")
}

func newTestManagerSharingStore(t *testing.T, st *sqlite.Store) (*Manager, *sqlite.Store) {
	t.Helper()
	gw := fake.New()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test2", MaxWorkers: 4, MaxCapacity: 32}, corelog.Nop{})
	t.Cleanup(pool.Stop)
	hub := notify.NewHub(corelog.Nop{})
	strat := strategy.New(gw, st, hub, corelog.Nop{}, pool)
	return New(gw, st, strat, hub, fixedCreds{}, corelog.Nop{}, pool), st
}
