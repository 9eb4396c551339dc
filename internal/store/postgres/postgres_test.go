package postgres

import (
	"context"
	"os"
	"testing"

	"gridcore/internal/domain"
	"gridcore/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// These tests exercise a real server and are skipped unless
// GRIDCORE_TEST_POSTGRES_DSN points at one, gating the integration suite
// on an environment-provided DSN rather than faking the driver.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GRIDCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GRIDCORE_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}
	st, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSaveUser_ZeroIDInsertsThenUpserts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := &domain.User{ChatID: 4242, APIKey: "sealed-key", APISecret: "sealed-secret", NotificationsEnabled: true}
	require.NoError(t, st.SaveUser(ctx, u))
	require.NotZero(t, u.ID)

	fetched, err := st.GetUserByChatID(ctx, 4242)
	require.NoError(t, err)
	require.Equal(t, u.ID, fetched.ID)

	fetched.APIKey = "rotated-key"
	require.NoError(t, st.SaveUser(ctx, fetched))

	reloaded, err := st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "rotated-key", reloaded.APIKey)
}

func TestGetBot_MissingReturnsErrNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetBot(context.Background(), 999999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveBot_RoundTripsDecimalFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bot := &domain.Bot{
		UserID:           1,
		Symbol:           "BTCUSDT",
		GridType:         domain.GridRange,
		LowerPrice:       decimal.NewFromInt(44000),
		UpperPrice:       decimal.NewFromInt(46000),
		GridLevels:       10,
		OrderSize:        decimal.NewFromInt(10),
		InvestmentAmount: decimal.NewFromInt(100),
		Status:           domain.BotActive,
	}
	require.NoError(t, st.SaveBot(ctx, bot))
	require.NotZero(t, bot.ID)

	fetched, err := st.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	require.True(t, fetched.LowerPrice.Equal(decimal.NewFromInt(44000)))
	require.Equal(t, domain.BotActive, fetched.Status)

	fetched.Status = domain.BotPaused
	require.NoError(t, st.SaveBot(ctx, fetched))
	reloaded, err := st.GetBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BotPaused, reloaded.Status)
}

func TestListActiveBots_ExcludesStoppedBots(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	active := &domain.Bot{UserID: 1, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, active))
	stopped := &domain.Bot{UserID: 1, Symbol: "ETHUSDT", GridType: domain.GridRange, Status: domain.BotStopped}
	require.NoError(t, st.SaveBot(ctx, stopped))

	bots, err := st.ListActiveBots(ctx)
	require.NoError(t, err)
	found := false
	for _, b := range bots {
		if b.ID == active.ID {
			found = true
		}
		require.NotEqual(t, stopped.ID, b.ID)
	}
	require.True(t, found)
}

func TestSaveOrder_NullableFieldsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bot := &domain.Bot{UserID: 1, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, bot))

	buy := &domain.Order{
		BotID: bot.ID, Side: domain.SideBuy, OrderType: "limit", Level: 0,
		Price: decimal.NewFromInt(44000), Amount: decimal.NewFromFloat(0.001), Status: domain.OrderFilled,
	}
	require.NoError(t, st.SaveOrder(ctx, buy))

	profit := decimal.NewFromFloat(1.5)
	sell := &domain.Order{
		BotID: bot.ID, Side: domain.SideSell, OrderType: "limit", Level: 1,
		Price: decimal.NewFromInt(44200), Amount: decimal.NewFromFloat(0.001), Status: domain.OrderFilled,
		PairedOrderID: &buy.ID, Profit: &profit,
	}
	require.NoError(t, st.SaveOrder(ctx, sell))

	fetched, err := st.GetOrder(ctx, sell.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.PairedOrderID)
	require.Equal(t, buy.ID, *fetched.PairedOrderID)
	require.NotNil(t, fetched.Profit)
	require.True(t, fetched.Profit.Equal(profit))
}

func TestDeleteOrdersAndLogsForBot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bot := &domain.Bot{UserID: 1, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, bot))

	order := &domain.Order{BotID: bot.ID, Side: domain.SideBuy, OrderType: "limit", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Status: domain.OrderOpen}
	require.NoError(t, st.SaveOrder(ctx, order))
	require.NoError(t, st.AppendLog(ctx, &domain.Log{UserID: bot.UserID, BotID: &bot.ID, Level: domain.LogInfo, Message: "placed"}))

	require.NoError(t, st.DeleteOrdersForBot(ctx, bot.ID))
	require.NoError(t, st.DeleteLogsForBot(ctx, bot.ID))
	require.NoError(t, st.DeleteBot(ctx, bot.ID))

	_, err := st.GetBot(ctx, bot.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
