package strategy

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
	"gridcore/pkg/concurrency"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStrategy(t *testing.T) (*Strategy, *fake.Gateway, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gw := fake.New()
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 32}, corelog.Nop{})
	t.Cleanup(pool.Stop)

	s := New(gw, st, notify.NewHub(corelog.Nop{}), corelog.Nop{}, pool)
	return s, gw, st
}

func creds() exchange.Credentials {
	return exchange.Credentials{APIKey: "k", APISecret: "s"}
}

// A 10-level range grid
// from 44000 to 46000 places five buys below 45000 and five sells above it,
// skipping the center level.
func TestInitialPlacement_RangeGrid(t *testing.T) {
	s, _, st := newTestStrategy(t)
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
	}
	require.NoError(t, st.SaveBot(ctx, bot))

	summary, err := s.InitialPlacement(ctx, bot, creds(), decimal.NewFromInt(45000))
	require.NoError(t, err)
	require.Equal(t, 5, summary.BuyOrdersPlaced)
	require.Equal(t, 5, summary.SellOrdersPlaced)
	require.Empty(t, summary.Failures)

	orders, err := st.GetOrdersByBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, orders, 10)
}

func TestInitialPlacement_FlatGrid(t *testing.T) {
	s, _, st := newTestStrategy(t)
	ctx := context.Background()

	bot := &domain.Bot{
		UserID:          1,
		Symbol:          "BTCUSDT",
		GridType:        domain.GridFlat,
		StartingPrice:   decimal.NewFromInt(45000),
		FlatSpread:      decimal.NewFromInt(100),
		FlatIncrement:   decimal.NewFromInt(100),
		BuyOrdersCount:  3,
		SellOrdersCount: 3,
		OrderSize:       decimal.NewFromInt(10),
	}
	require.NoError(t, st.SaveBot(ctx, bot))

	summary, err := s.InitialPlacement(ctx, bot, creds(), decimal.NewFromInt(45000))
	require.NoError(t, err)
	require.Equal(t, 3, summary.BuyOrdersPlaced)
	require.Equal(t, 3, summary.SellOrdersPlaced)
}

func TestInitialPlacement_ZeroOrdersIsError(t *testing.T) {
	s, _, st := newTestStrategy(t)
	ctx := context.Background()

	bot := &domain.Bot{
		UserID:         1,
		Symbol:         "BTCUSDT",
		GridType:       domain.GridFlat,
		StartingPrice:  decimal.NewFromInt(45000),
		FlatSpread:     decimal.NewFromInt(100),
		FlatIncrement:  decimal.NewFromInt(100),
		BuyOrdersCount: 0,
		SellOrdersCount: 0,
		OrderSize:      decimal.NewFromInt(10),
	}
	require.NoError(t, st.SaveBot(ctx, bot))

	_, err := s.InitialPlacement(ctx, bot, creds(), decimal.NewFromInt(45000))
	require.Error(t, err)
}

// Filling a range grid's lowest buy creates a counter sell one level up
// and persists both.
func TestHandleFilledOrder_RangeBuyCreatesCounterSell(t *testing.T) {
	s, gw, st := newTestStrategy(t)
	ctx := context.Background()

	bot := &domain.Bot{
		UserID:     1,
		Symbol:     "BTCUSDT",
		GridType:   domain.GridRange,
		LowerPrice: decimal.NewFromInt(44000),
		UpperPrice: decimal.NewFromInt(46000),
		GridLevels: 10,
		OrderSize:  decimal.NewFromInt(10),
	}
	require.NoError(t, st.SaveBot(ctx, bot))

	ref, err := gw.PlaceLimit(ctx, creds(), bot.Symbol, exchange.SideBuy, decimal.NewFromInt(44000), decimal.NewFromFloat(0.001))
	require.NoError(t, err)
	filled := &domain.Order{
		BotID: bot.ID, ExchangeOrderID: ref.ExchangeOrderID, Side: domain.SideBuy,
		OrderType: "limit", Level: 0, Price: decimal.NewFromInt(44000), Amount: decimal.NewFromFloat(0.001),
		Status: domain.OrderOpen,
	}
	require.NoError(t, st.SaveOrder(ctx, filled))

	state := exchange.OrderState{Status: "filled", Price: filled.Price, Amount: filled.Amount}
	require.NoError(t, s.HandleFilledOrder(ctx, bot, filled, state, creds()))

	require.Equal(t, domain.OrderFilled, filled.Status)

	orders, err := st.GetOrdersByBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	var counter *domain.Order
	for _, o := range orders {
		if o.ID != filled.ID {
			counter = o
		}
	}
	require.NotNil(t, counter)
	require.Equal(t, domain.SideSell, counter.Side)
	require.Equal(t, 1, counter.Level)
	require.NotNil(t, counter.PairedOrderID)
	require.Equal(t, filled.ID, *counter.PairedOrderID)
}

// Redispatching the same fill (as a crash between the counter-order
// commit and the filled-order commit would cause) must not place a
// second counter order for it.
func TestHandleFilledOrder_RedispatchedFillProducesOneCounterOrder(t *testing.T) {
	s, gw, st := newTestStrategy(t)
	ctx := context.Background()

	bot := &domain.Bot{
		UserID:     1,
		Symbol:     "BTCUSDT",
		GridType:   domain.GridRange,
		LowerPrice: decimal.NewFromInt(44000),
		UpperPrice: decimal.NewFromInt(46000),
		GridLevels: 10,
		OrderSize:  decimal.NewFromInt(10),
	}
	require.NoError(t, st.SaveBot(ctx, bot))

	ref, err := gw.PlaceLimit(ctx, creds(), bot.Symbol, exchange.SideBuy, decimal.NewFromInt(44000), decimal.NewFromFloat(0.001))
	require.NoError(t, err)
	filled := &domain.Order{
		BotID: bot.ID, ExchangeOrderID: ref.ExchangeOrderID, Side: domain.SideBuy,
		OrderType: "limit", Level: 0, Price: decimal.NewFromInt(44000), Amount: decimal.NewFromFloat(0.001),
		Status: domain.OrderOpen,
	}
	require.NoError(t, st.SaveOrder(ctx, filled))

	state := exchange.OrderState{Status: "filled", Price: filled.Price, Amount: filled.Amount}
	require.NoError(t, s.HandleFilledOrder(ctx, bot, filled, state, creds()))

	// Simulate a redispatch of the same fill: the monitor reloads the
	// order still showing open in the DB (as it would if the process
	// crashed after the counter commit but before this one) and calls
	// HandleFilledOrder again.
	stale := &domain.Order{
		ID: filled.ID, BotID: bot.ID, ExchangeOrderID: ref.ExchangeOrderID, Side: domain.SideBuy,
		OrderType: "limit", Level: 0, Price: filled.Price, Amount: filled.Amount,
		Status: domain.OrderOpen,
	}
	require.NoError(t, s.HandleFilledOrder(ctx, bot, stale, state, creds()))

	orders, err := st.GetOrdersByBot(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, orders, 2, "redispatching the same fill must not create a second counter order")
}

// Completing a buy/sell cycle attributes realized profit and bumps
// completed_cycles.
func TestHandleFilledOrder_SellCompletesCycleAttributesProfit(t *testing.T) {
	s, gw, st := newTestStrategy(t)
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
	}
	require.NoError(t, st.SaveBot(ctx, bot))

	buyRef, err := gw.PlaceLimit(ctx, creds(), bot.Symbol, exchange.SideBuy, decimal.NewFromInt(44000), decimal.NewFromFloat(0.001))
	require.NoError(t, err)
	buy := &domain.Order{
		BotID: bot.ID, ExchangeOrderID: buyRef.ExchangeOrderID, Side: domain.SideBuy,
		OrderType: "limit", Level: 0, Price: decimal.NewFromInt(44000), Amount: decimal.NewFromFloat(0.001),
		Status: domain.OrderFilled,
	}
	require.NoError(t, st.SaveOrder(ctx, buy))

	sellRef, err := gw.PlaceLimit(ctx, creds(), bot.Symbol, exchange.SideSell, decimal.NewFromInt(44200), decimal.NewFromFloat(0.001))
	require.NoError(t, err)
	sell := &domain.Order{
		BotID: bot.ID, ExchangeOrderID: sellRef.ExchangeOrderID, Side: domain.SideSell,
		OrderType: "limit", Level: 1, Price: decimal.NewFromInt(44200), Amount: decimal.NewFromFloat(0.001),
		Status: domain.OrderOpen, PairedOrderID: &buy.ID,
	}
	require.NoError(t, st.SaveOrder(ctx, sell))

	state := exchange.OrderState{Status: "filled", Price: sell.Price, Amount: sell.Amount}
	require.NoError(t, s.HandleFilledOrder(ctx, bot, sell, state, creds()))

	require.Equal(t, 1, bot.CompletedCycles)
	require.True(t, bot.TotalProfit.GreaterThan(decimal.Zero), "expected positive profit, got %s", bot.TotalProfit)
	require.NotNil(t, sell.Profit)
}
