package health

import (
	"context"
	"path/filepath"
	"testing"

	"gridcore/internal/corelog"
	"gridcore/internal/domain"
	"gridcore/internal/exchange"
	"gridcore/internal/exchange/fake"
	"gridcore/internal/notify"
	"gridcore/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixedCreds struct{}

func (fixedCreds) Resolve(ctx context.Context, userID int64) (exchange.Credentials, error) {
	return exchange.Credentials{APIKey: "k", APISecret: "s"}, nil
}

func newTestChecker(t *testing.T) (*Checker, *fake.Gateway, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gw := fake.New()
	c := New(gw, st, notify.NewHub(corelog.Nop{}), fixedCreds{}, corelog.Nop{})
	return c, gw, st
}

func rangeBot() *domain.Bot {
	return &domain.Bot{
		UserID: 1, Symbol: "BTCUSDT", GridType: domain.GridRange, Status: domain.BotActive,
		LowerPrice: decimal.NewFromInt(44000), UpperPrice: decimal.NewFromInt(46000), GridLevels: 10,
		BuyOrdersCount: 5, SellOrdersCount: 5, OrderSize: decimal.NewFromInt(10),
		InvestmentAmount: decimal.NewFromInt(100),
	}
}

// check 3: an order priced outside [lower, upper] is cancelled.
func TestCheckOutOfRange_CancelsOrderOutsideRange(t *testing.T) {
	c, gw, st := newTestChecker(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, st.SaveBot(ctx, bot))

	ref, err := gw.PlaceLimit(ctx, exchange.Credentials{}, bot.Symbol, exchange.SideSell, decimal.NewFromInt(47000), decimal.NewFromFloat(0.001))
	require.NoError(t, err)
	order := &domain.Order{
		BotID: bot.ID, ExchangeOrderID: ref.ExchangeOrderID, Side: domain.SideSell, Level: 9,
		Price: decimal.NewFromInt(47000), Amount: decimal.NewFromFloat(0.001), Status: domain.OrderOpen,
	}
	require.NoError(t, st.SaveOrder(ctx, order))

	require.NoError(t, c.checkOutOfRange(ctx, bot, exchange.Credentials{}, []*domain.Order{order}))

	reloaded, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderCancelled, reloaded.Status)
}

// check 4: the second order at the same (level, side) is cancelled,
// keeping the first.
func TestCheckDuplicates_KeepsFirstCancelsRest(t *testing.T) {
	c, gw, st := newTestChecker(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, st.SaveBot(ctx, bot))

	ref1, err := gw.PlaceLimit(ctx, exchange.Credentials{}, bot.Symbol, exchange.SideBuy, decimal.NewFromInt(44000), decimal.NewFromFloat(0.001))
	require.NoError(t, err)
	first := &domain.Order{BotID: bot.ID, ExchangeOrderID: ref1.ExchangeOrderID, Side: domain.SideBuy, Level: 0, Price: decimal.NewFromInt(44000), Amount: decimal.NewFromFloat(0.001), Status: domain.OrderOpen}
	require.NoError(t, st.SaveOrder(ctx, first))

	ref2, err := gw.PlaceLimit(ctx, exchange.Credentials{}, bot.Symbol, exchange.SideBuy, decimal.NewFromInt(44000), decimal.NewFromFloat(0.001))
	require.NoError(t, err)
	second := &domain.Order{BotID: bot.ID, ExchangeOrderID: ref2.ExchangeOrderID, Side: domain.SideBuy, Level: 0, Price: decimal.NewFromInt(44000), Amount: decimal.NewFromFloat(0.001), Status: domain.OrderOpen}
	require.NoError(t, st.SaveOrder(ctx, second))

	require.NoError(t, c.checkDuplicates(ctx, bot, exchange.Credentials{}, []*domain.Order{first, second}))

	reloadedFirst, err := st.GetOrder(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderOpen, reloadedFirst.Status)

	reloadedSecond, err := st.GetOrder(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderCancelled, reloadedSecond.Status)
}

// check 1: base-asset balance not backed by any open sell gets a repair
// sell placed at the lowest unoccupied level above the ticker.
func TestCheckOrphanedAssets_RepairsOrphanBalance(t *testing.T) {
	c, gw, st := newTestChecker(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, st.SaveBot(ctx, bot))
	gw.SetTicker(bot.Symbol, decimal.NewFromInt(44500))
	gw.SetBalance("BTC", decimal.NewFromFloat(0.01))

	info, err := gw.MarketInfo(ctx, bot.Symbol)
	require.NoError(t, err)

	require.NoError(t, c.checkOrphanedAssets(ctx, bot, exchange.Credentials{}, info, nil))

	orders, err := st.GetOrdersByBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, domain.SideSell, orders[0].Side)
}

// checkOrphanedAssets places no repair sell when the unbacked base
// balance is below min_order_amount.
func TestCheckOrphanedAssets_NoRepairWhenBelowMinOrderAmount(t *testing.T) {
	c, gw, st := newTestChecker(t)
	ctx := context.Background()

	bot := rangeBot()
	require.NoError(t, st.SaveBot(ctx, bot))
	gw.SetBalance("BTC", decimal.NewFromFloat(0.0000001))

	info, err := gw.MarketInfo(ctx, bot.Symbol)
	require.NoError(t, err)

	require.NoError(t, c.checkOrphanedAssets(ctx, bot, exchange.Credentials{}, info, nil))

	orders, err := st.GetOrdersByBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestSweep_RunsAcrossActiveBotsOnly(t *testing.T) {
	c, _, st := newTestChecker(t)
	ctx := context.Background()

	active := rangeBot()
	require.NoError(t, st.SaveBot(ctx, active))

	stopped := rangeBot()
	stopped.Status = domain.BotStopped
	require.NoError(t, st.SaveBot(ctx, stopped))

	require.NoError(t, c.Sweep(ctx))
}
