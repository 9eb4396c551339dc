package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"gridcore/internal/domain"
	"gridcore/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSaveUser_ZeroIDInsertsThenUpserts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	u := &domain.User{ChatID: 42, APIKey: "sealed-key", APISecret: "sealed-secret", NotificationsEnabled: true}
	require.NoError(t, st.SaveUser(ctx, u))
	require.NotZero(t, u.ID, "zero-ID save must assign an autoincrement id")

	fetched, err := st.GetUserByChatID(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, u.ID, fetched.ID)
	require.Equal(t, "sealed-key", fetched.APIKey)

	fetched.APIKey = "rotated-key"
	require.NoError(t, st.SaveUser(ctx, fetched))

	reloaded, err := st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "rotated-key", reloaded.APIKey)
}

func TestGetUser_MissingReturnsErrNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetUser(context.Background(), 999)
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
	require.True(t, fetched.UpperPrice.Equal(decimal.NewFromInt(46000)))
	require.Equal(t, domain.GridRange, fetched.GridType)
	require.Equal(t, domain.BotActive, fetched.Status)
}

func TestGetBot_MissingReturnsErrNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetBot(context.Background(), 999)
	require.ErrorIs(t, err, store.ErrNotFound)
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
	require.Len(t, bots, 1)
	require.Equal(t, active.ID, bots[0].ID)
}

func TestListBotsByUser_OrdersByID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := &domain.Bot{UserID: 7, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, first))
	second := &domain.Bot{UserID: 7, Symbol: "ETHUSDT", GridType: domain.GridFlat, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, second))
	other := &domain.Bot{UserID: 9, Symbol: "SOLUSDT", GridType: domain.GridFlat, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, other))

	bots, err := st.ListBotsByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	require.Equal(t, first.ID, bots[0].ID)
	require.Equal(t, second.ID, bots[1].ID)
}

func TestDeleteBot_CascadesOrdersAndLogsExplicitly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bot := &domain.Bot{UserID: 1, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, bot))

	order := &domain.Order{BotID: bot.ID, Side: domain.SideBuy, OrderType: "limit", Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(1), Status: domain.OrderOpen}
	require.NoError(t, st.SaveOrder(ctx, order))
	require.NoError(t, st.AppendLog(ctx, &domain.Log{UserID: bot.UserID, BotID: &bot.ID, Level: domain.LogInfo, Message: "placed"}))

	// DeleteBot itself only removes the bots row; callers delete orders and
	// logs explicitly (see botmanager.Manager.Delete), so exercise the same
	// sequence here.
	require.NoError(t, st.DeleteOrdersForBot(ctx, bot.ID))
	require.NoError(t, st.DeleteLogsForBot(ctx, bot.ID))
	require.NoError(t, st.DeleteBot(ctx, bot.ID))

	_, err := st.GetBot(ctx, bot.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	orders, err := st.GetOrdersByBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Empty(t, orders)
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

func TestGetOpenOrders_FiltersByStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bot := &domain.Bot{UserID: 1, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, bot))

	open := &domain.Order{BotID: bot.ID, Side: domain.SideBuy, OrderType: "limit", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Status: domain.OrderOpen}
	require.NoError(t, st.SaveOrder(ctx, open))
	filled := &domain.Order{BotID: bot.ID, Side: domain.SideSell, OrderType: "limit", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Status: domain.OrderFilled}
	require.NoError(t, st.SaveOrder(ctx, filled))

	orders, err := st.GetOpenOrders(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, open.ID, orders[0].ID)
}

func TestOrders_UniqueExchangeOrderIDExceptEmpty(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bot := &domain.Bot{UserID: 1, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive}
	require.NoError(t, st.SaveBot(ctx, bot))

	// Two orders with no exchange_order_id assigned yet are both allowed;
	// the unique index is scoped to exchange_order_id != ''.
	first := &domain.Order{BotID: bot.ID, Side: domain.SideBuy, OrderType: "limit", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Status: domain.OrderOpen}
	require.NoError(t, st.SaveOrder(ctx, first))
	second := &domain.Order{BotID: bot.ID, Side: domain.SideBuy, OrderType: "limit", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Status: domain.OrderOpen}
	require.NoError(t, st.SaveOrder(ctx, second))
}

func TestAppendLog_NilBotIDAllowed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendLog(ctx, &domain.Log{UserID: 1, Level: domain.LogInfo, Message: "user-level event"}))
}
