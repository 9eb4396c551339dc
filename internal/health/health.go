// Package health implements the Health Checker: a periodic sweep across
// every active bot performing five idempotent checks (orphaned assets,
// order count, out-of-range orders, duplicates, balance sufficiency),
// fanned out with a bounded errgroup, one independent task per bot.
package health

import (
	"context"
	"fmt"

	"gridcore/internal/corelog"
	"gridcore/internal/domain"
	"gridcore/internal/exchange"
	"gridcore/internal/gridmath"
	"gridcore/internal/notify"
	"gridcore/internal/store"
	"gridcore/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// orderCountTolerance is the fraction of expected open orders below which
// a bot is flagged for attention without auto-repair.
const orderCountTolerance = 0.8

// balanceWarnFraction is the fraction of investment_amount below which a
// low-balance warning fires.
const balanceWarnFraction = 0.2

// CredentialSource resolves a user's decrypted exchange credentials.
type CredentialSource interface {
	Resolve(ctx context.Context, userID int64) (exchange.Credentials, error)
}

// Checker runs the periodic sweep.
type Checker struct {
	gw     exchange.Gateway
	store  store.Store
	hub    *notify.Hub
	creds  CredentialSource
	logger corelog.Logger
}

func New(gw exchange.Gateway, st store.Store, hub *notify.Hub, creds CredentialSource, logger corelog.Logger) *Checker {
	return &Checker{gw: gw, store: st, hub: hub, creds: creds, logger: logger.WithField("component", "health_checker")}
}

// Sweep runs all five checks across every active bot, bots in parallel
// (bounded), checks within a bot sequentially since several mutate the
// same persisted order set.
func (c *Checker) Sweep(ctx context.Context) error {
	bots, err := c.store.ListActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for _, bot := range bots {
		bot := bot
		g.Go(func() error {
			if err := c.checkBot(gctx, bot); err != nil {
				c.logger.Error("health check failed for bot", "bot_id", bot.ID, "error", err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Checker) checkBot(ctx context.Context, bot *domain.Bot) error {
	creds, err := c.creds.Resolve(ctx, bot.UserID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	open, err := c.store.GetOpenOrders(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}

	info, err := c.gw.MarketInfo(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("market info: %w", err)
	}

	if err := c.checkOutOfRange(ctx, bot, creds, open); err != nil {
		c.logger.Warn("out-of-range check failed", "bot_id", bot.ID, "error", err.Error())
	}
	// Reload after out-of-range cancellations so duplicate/orphan checks
	// see a consistent view.
	open, err = c.store.GetOpenOrders(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("reload open orders: %w", err)
	}

	if err := c.checkDuplicates(ctx, bot, creds, open); err != nil {
		c.logger.Warn("duplicate check failed", "bot_id", bot.ID, "error", err.Error())
	}
	open, err = c.store.GetOpenOrders(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("reload open orders: %w", err)
	}

	c.checkOrderCount(bot, open)

	if err := c.checkOrphanedAssets(ctx, bot, creds, info, open); err != nil {
		c.logger.Warn("orphan check failed", "bot_id", bot.ID, "error", err.Error())
	}

	c.checkBalanceSufficiency(ctx, bot, creds)
	return nil
}

// checkOutOfRange cancels any open order whose price lies outside
// [lower, upper] for range grids.
func (c *Checker) checkOutOfRange(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, open []*domain.Order) error {
	if bot.GridType != domain.GridRange {
		return nil
	}
	for _, o := range open {
		if o.Price.GreaterThanOrEqual(bot.LowerPrice) && o.Price.LessThanOrEqual(bot.UpperPrice) {
			continue
		}
		if err := c.gw.Cancel(ctx, creds, bot.Symbol, o.ExchangeOrderID); err != nil {
			return fmt.Errorf("cancel out-of-range order: %w", err)
		}
		o.Status = domain.OrderCancelled
		_ = c.store.SaveOrder(ctx, o)
	}
	return nil
}

// checkDuplicates keeps the first open order at each (level, side) and
// cancels the rest.
func (c *Checker) checkDuplicates(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, open []*domain.Order) error {
	type key struct {
		level int
		side  domain.OrderSide
	}
	seen := make(map[key]bool)
	for _, o := range open {
		k := key{o.Level, o.Side}
		if seen[k] {
			if err := c.gw.Cancel(ctx, creds, bot.Symbol, o.ExchangeOrderID); err != nil {
				return fmt.Errorf("cancel duplicate order: %w", err)
			}
			o.Status = domain.OrderCancelled
			_ = c.store.SaveOrder(ctx, o)
			continue
		}
		seen[k] = true
	}
	return nil
}

// checkOrderCount flags (does not auto-repair) a bot whose open-order
// count has fallen below tolerance of expected.
func (c *Checker) checkOrderCount(bot *domain.Bot, open []*domain.Order) {
	expected := bot.BuyOrdersCount + bot.SellOrdersCount
	if bot.GridType == domain.GridRange {
		expected = bot.GridLevels
	}
	if expected == 0 {
		return
	}
	if float64(len(open)) < orderCountTolerance*float64(expected) {
		c.logger.Warn("bot open-order count below tolerance", "bot_id", bot.ID,
			"open", len(open), "expected", expected)
	}
}

// checkOrphanedAssets finds base-currency balance not backed by any open
// sell order and, if it clears min_order_amount, places a new sell at the
// lowest unoccupied level above the current ticker.
func (c *Checker) checkOrphanedAssets(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, info exchange.MarketInfo, open []*domain.Order) error {
	balances, err := c.gw.Balance(ctx, creds)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	baseBalance := balances[info.Base]

	backedBySells := decimal.Zero
	occupiedSellLevels := make(map[int]bool)
	for _, o := range open {
		if o.Side == domain.SideSell {
			backedBySells = backedBySells.Add(o.Amount)
			occupiedSellLevels[o.Level] = true
		}
	}

	orphan := baseBalance.Sub(backedBySells)
	if !orphan.IsPositive() || orphan.LessThan(info.MinOrderAmount) {
		return nil
	}

	ticker, err := c.gw.Ticker(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}

	var levels []decimal.Decimal
	levelOffset := 0
	switch bot.GridType {
	case domain.GridRange:
		ladder := gridmath.RangeLevels(bot.LowerPrice, bot.UpperPrice, bot.GridLevels)
		buys, sells := gridmath.RangeBuySellSplit(ladder)
		levels = sells
		levelOffset = len(buys) + 1
	case domain.GridFlat:
		levels = gridmath.FlatSellPrices(bot.StartingPrice, bot.FlatIncrement, bot.SellOrdersCount)
	}

	for i, price := range levels {
		level := levelOffset + i
		if occupiedSellLevels[level] || price.LessThanOrEqual(ticker) {
			continue
		}
		rounded := gridmath.RoundPriceDown(price, info.PricePrecision)
		ref, err := c.gw.PlaceLimit(ctx, creds, bot.Symbol, exchange.SideSell, rounded, orphan)
		if err != nil {
			return fmt.Errorf("place orphan repair sell: %w", err)
		}
		order := &domain.Order{
			BotID: bot.ID, ExchangeOrderID: ref.ExchangeOrderID, Side: domain.SideSell,
			OrderType: "limit", Level: level, Price: rounded, Amount: orphan,
			Total: rounded.Mul(orphan), Status: domain.OrderOpen,
		}
		if err := c.store.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("save orphan repair order: %w", err)
		}

		if m := telemetry.GetGlobalMetrics().HealthRepairsTotal; m != nil {
			m.Add(ctx, 1)
		}
		if c.hub != nil {
			c.hub.Emit(ctx, notify.Event{
				UserID: bot.UserID, BotID: bot.ID, Kind: notify.KindOrphanRepair,
				Message: fmt.Sprintf("placed sell for orphaned balance %s at %s", orphan.String(), rounded.String()),
			})
		}
		return nil
	}
	return nil
}

// checkBalanceSufficiency warns when the quote-currency balance falls
// below balanceWarnFraction of investment_amount.
func (c *Checker) checkBalanceSufficiency(ctx context.Context, bot *domain.Bot, creds exchange.Credentials) {
	if bot.InvestmentAmount.IsZero() {
		return
	}
	balances, err := c.gw.Balance(ctx, creds)
	if err != nil {
		return
	}
	info, err := c.gw.MarketInfo(ctx, bot.Symbol)
	if err != nil {
		return
	}
	quoteBalance := balances[info.Quote]
	threshold := bot.InvestmentAmount.Mul(decimal.NewFromFloat(balanceWarnFraction))
	if quoteBalance.LessThan(threshold) {
		c.logger.Warn("quote balance below 20% of investment", "bot_id", bot.ID, "balance", quoteBalance.String())
		if c.hub != nil {
			c.hub.Emit(ctx, notify.Event{
				UserID: bot.UserID, BotID: bot.ID, Kind: notify.KindHealthIssue,
				Message: "quote balance has fallen below 20% of investment amount",
			})
		}
	}
}
