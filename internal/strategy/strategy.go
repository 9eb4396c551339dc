// Package strategy implements the Grid Strategy: initial ladder
// placement and counter-order creation on fill, dispatched by
// domain.GridType.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"gridcore/internal/corelog"
	"gridcore/internal/domain"
	"gridcore/internal/exchange"
	"gridcore/internal/gridmath"
	"gridcore/internal/notify"
	"gridcore/internal/store"
	"gridcore/pkg/concurrency"
	apperrors "gridcore/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// placementConcurrency bounds fan-out to the exchange during ladder
// placement.
const placementConcurrency = 10

// marketBuyBufferPct is the fee/slippage buffer applied to the sell-side
// backing market buy.
var marketBuyBufferPct = decimal.NewFromFloat(1.03)

// PlacementSummary reports the outcome of initial placement.
type PlacementSummary struct {
	BuyOrdersPlaced  int
	SellOrdersPlaced int
	Failures         []string
}

// Strategy implements initial placement and fill handling for both grid
// types over one exchange.Gateway.
type Strategy struct {
	gw     exchange.Gateway
	store  store.Store
	hub    *notify.Hub
	logger corelog.Logger
	pool   *concurrency.WorkerPool
}

func New(gw exchange.Gateway, st store.Store, hub *notify.Hub, logger corelog.Logger, pool *concurrency.WorkerPool) *Strategy {
	return &Strategy{gw: gw, store: st, hub: hub, logger: logger.WithField("component", "strategy"), pool: pool}
}

// InitialPlacement lays down the initial order ladder for bot, using referencePrice as the
// current ticker when bot.StartingPrice is zero.
func (s *Strategy) InitialPlacement(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, referencePrice decimal.Decimal) (PlacementSummary, error) {
	placementID := uuid.NewString()
	log := s.logger.WithField("bot_id", bot.ID).WithField("placement_id", placementID)

	info, err := s.gw.MarketInfo(ctx, bot.Symbol)
	if err != nil {
		return PlacementSummary{}, fmt.Errorf("market info: %w", err)
	}

	ref := bot.StartingPrice
	if ref.IsZero() {
		ref = referencePrice
	}

	var buyPrices, sellPrices []decimal.Decimal
	sellLevelOffset := 0
	switch bot.GridType {
	case domain.GridRange:
		ladder := gridmath.RangeLevels(bot.LowerPrice, bot.UpperPrice, bot.GridLevels)
		buyPrices, sellPrices = gridmath.RangeBuySellSplit(ladder)
		sellLevelOffset = len(buyPrices) + 1
	case domain.GridFlat:
		buyPrices = gridmath.FlatBuyPrices(ref, bot.FlatIncrement, bot.BuyOrdersCount)
		sellPrices = gridmath.FlatSellPrices(ref, bot.FlatIncrement, bot.SellOrdersCount)
	default:
		return PlacementSummary{}, fmt.Errorf("%w: unknown grid type %q", apperrors.ErrInvalidOrder, bot.GridType)
	}

	var summary PlacementSummary

	buyResults := s.placeLevels(ctx, bot, creds, info, domain.SideBuy, buyPrices, 0, log)
	summary.BuyOrdersPlaced = buyResults.placed
	summary.Failures = append(summary.Failures, buyResults.failures...)

	totalSellAmount := decimal.Zero
	for i, price := range sellPrices {
		rounded := gridmath.RoundPriceDown(price, info.PricePrecision)
		amount := gridmath.AmountForCost(bot.OrderSize, rounded, info.AmountPrecision, info.MinOrderAmount)
		totalSellAmount = totalSellAmount.Add(amount)
		sellPrices[i] = rounded
	}

	if len(sellPrices) > 0 && !totalSellAmount.IsZero() {
		cost := totalSellAmount.Mul(marketBuyBufferPct).Mul(ref)
		cost = cost.Truncate(gridmath.QuoteRoundingPlaces(info.Quote))
		if _, err := s.gw.PlaceMarket(ctx, creds, bot.Symbol, exchange.SideBuy, cost); err != nil {
			log.Warn("backing market buy failed, running buy-only ladder", "error", err.Error())
			sellPrices = nil
		}
	}

	if len(sellPrices) > 0 {
		sellResults := s.placeLevels(ctx, bot, creds, info, domain.SideSell, sellPrices, sellLevelOffset, log)
		summary.SellOrdersPlaced = sellResults.placed
		summary.Failures = append(summary.Failures, sellResults.failures...)
	}

	bot.TotalBuyOrders += summary.BuyOrdersPlaced
	bot.TotalSellOrders += summary.SellOrdersPlaced

	if summary.BuyOrdersPlaced+summary.SellOrdersPlaced == 0 {
		return summary, fmt.Errorf("initial placement produced zero orders")
	}
	return summary, nil
}

type levelResult struct {
	placed   int
	failures []string
}

func (s *Strategy) placeLevels(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, info exchange.MarketInfo, side domain.OrderSide, prices []decimal.Decimal, levelOffset int, log corelog.Logger) levelResult {
	var result levelResult
	var resultCh = make(chan struct {
		ok    bool
		order *domain.Order
		err   error
	}, len(prices))

	for level, rawPrice := range prices {
		level, rawPrice := level, rawPrice
		s.pool.Submit(func() {
			price := gridmath.RoundPriceDown(rawPrice, info.PricePrecision)
			amount := gridmath.AmountForCost(bot.OrderSize, price, info.AmountPrecision, info.MinOrderAmount)

			gwSide := exchange.SideBuy
			if side == domain.SideSell {
				gwSide = exchange.SideSell
			}
			ref, err := s.gw.PlaceLimit(ctx, creds, bot.Symbol, gwSide, price, amount)
			if err != nil {
				resultCh <- struct {
					ok    bool
					order *domain.Order
					err   error
				}{false, nil, err}
				return
			}

			order := &domain.Order{
				BotID:           bot.ID,
				ExchangeOrderID: ref.ExchangeOrderID,
				Side:            side,
				OrderType:       "limit",
				Level:           levelOffset + level,
				Price:           price,
				Amount:          amount,
				Total:           price.Mul(amount),
				Status:          domain.OrderOpen,
			}
			if saveErr := s.store.SaveOrder(ctx, order); saveErr != nil {
				resultCh <- struct {
					ok    bool
					order *domain.Order
					err   error
				}{false, nil, saveErr}
				return
			}
			resultCh <- struct {
				ok    bool
				order *domain.Order
				err   error
			}{true, order, nil}
		})
	}

	for range prices {
		r := <-resultCh
		if r.ok {
			result.placed++
		} else {
			log.Warn("level placement failed", "side", side, "error", r.err.Error())
			result.failures = append(result.failures, r.err.Error())
		}
	}
	return result
}

// HandleFilledOrder marks the order filled, creates the counter order,
// and attributes profit on cycle completion.
func (s *Strategy) HandleFilledOrder(ctx context.Context, bot *domain.Bot, filled *domain.Order, state exchange.OrderState, creds exchange.Credentials) error {
	now := state // capture fee/fill data from the exchange's view
	filled.Status = domain.OrderFilled
	filled.Fee = now.Fee
	filled.FeeCurrency = now.FeeCurrency

	switch bot.GridType {
	case domain.GridRange:
		return s.handleFilledRange(ctx, bot, filled, creds)
	case domain.GridFlat:
		return s.handleFilledFlat(ctx, bot, filled, creds)
	default:
		return fmt.Errorf("%w: unknown grid type %q", apperrors.ErrInvalidOrder, bot.GridType)
	}
}

// ensureCounter makes counter-order creation idempotent against a
// redispatch of the same fill: if a crash or retry causes
// HandleFilledOrder to run twice for the same filled order, the second
// run finds the counter already placed for pairedID and reuses it
// instead of placing a duplicate on the exchange.
func (s *Strategy) ensureCounter(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, side domain.OrderSide, level int, price, amount decimal.Decimal, pairedID int64) (*domain.Order, error) {
	existing, err := s.store.GetOrderByPairedID(ctx, pairedID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing counter order: %w", err)
	}
	return s.placeCounter(ctx, bot, creds, side, level, price, amount, pairedID)
}

func (s *Strategy) placeCounter(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, side domain.OrderSide, level int, price, amount decimal.Decimal, pairedID int64) (*domain.Order, error) {
	gwSide := exchange.SideBuy
	if side == domain.SideSell {
		gwSide = exchange.SideSell
	}
	ref, err := s.gw.PlaceLimit(ctx, creds, bot.Symbol, gwSide, price, amount)
	if err != nil {
		return nil, fmt.Errorf("place counter order: %w", err)
	}
	order := &domain.Order{
		BotID:           bot.ID,
		ExchangeOrderID: ref.ExchangeOrderID,
		Side:            side,
		OrderType:       "limit",
		Level:           level,
		Price:           price,
		Amount:          amount,
		Total:           price.Mul(amount),
		Status:          domain.OrderOpen,
		PairedOrderID:   &pairedID,
	}
	if err := s.store.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("save counter order: %w", err)
	}
	return order, nil
}

func (s *Strategy) handleFilledRange(ctx context.Context, bot *domain.Bot, filled *domain.Order, creds exchange.Credentials) error {
	info, err := s.gw.MarketInfo(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("market info: %w", err)
	}
	step := bot.UpperPrice.Sub(bot.LowerPrice).Div(decimal.NewFromInt(int64(bot.GridLevels)))

	if filled.Side == domain.SideBuy {
		nextLevel := filled.Level + 1
		if nextLevel > bot.GridLevels {
			return s.finish(ctx, bot, filled)
		}
		price := gridmath.RoundPriceDown(bot.LowerPrice.Add(step.Mul(decimal.NewFromInt(int64(nextLevel)))), info.PricePrecision)
		counter, err := s.ensureCounter(ctx, bot, creds, domain.SideSell, nextLevel, price, filled.Amount, filled.ID)
		if err != nil {
			return err
		}
		return s.finishPair(ctx, bot, filled, counter)
	}

	prevLevel := filled.Level - 1
	if prevLevel < 0 {
		return s.finish(ctx, bot, filled)
	}
	price := gridmath.RoundPriceDown(bot.LowerPrice.Add(step.Mul(decimal.NewFromInt(int64(prevLevel)))), info.PricePrecision)
	counter, err := s.ensureCounter(ctx, bot, creds, domain.SideBuy, prevLevel, price, filled.Amount, filled.ID)
	if err != nil {
		return err
	}
	return s.finishSellCycle(ctx, bot, filled, counter)
}

func (s *Strategy) handleFilledFlat(ctx context.Context, bot *domain.Bot, filled *domain.Order, creds exchange.Credentials) error {
	info, err := s.gw.MarketInfo(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("market info: %w", err)
	}

	if filled.Side == domain.SideBuy {
		price := gridmath.RoundPriceDown(filled.Price.Add(bot.FlatSpread), info.PricePrecision)
		amount := gridmath.AmountForCost(bot.OrderSize, price, info.AmountPrecision, info.MinOrderAmount)
		counter, err := s.ensureCounter(ctx, bot, creds, domain.SideSell, filled.Level, price, amount, filled.ID)
		if err != nil {
			return err
		}
		return s.finishPair(ctx, bot, filled, counter)
	}

	buyPrice := filled.Price.Sub(bot.FlatSpread)
	if buyPrice.LessThanOrEqual(decimal.Zero) {
		return s.finish(ctx, bot, filled)
	}
	price := gridmath.RoundPriceDown(buyPrice, info.PricePrecision)
	amount := gridmath.AmountForCost(bot.OrderSize, price, info.AmountPrecision, info.MinOrderAmount)
	counter, err := s.ensureCounter(ctx, bot, creds, domain.SideBuy, filled.Level, price, amount, filled.ID)
	if err != nil {
		return err
	}
	return s.finishSellCycle(ctx, bot, filled, counter)
}

// finish persists a filled order that has no counter order to place
// (ladder boundary reached).
func (s *Strategy) finish(ctx context.Context, bot *domain.Bot, filled *domain.Order) error {
	if err := s.store.SaveOrder(ctx, filled); err != nil {
		return fmt.Errorf("save filled order: %w", err)
	}
	return s.store.SaveBot(ctx, bot)
}

// finishPair persists a filled buy and its newly-placed counter sell.
func (s *Strategy) finishPair(ctx context.Context, bot *domain.Bot, filled, counter *domain.Order) error {
	if err := s.store.SaveOrder(ctx, filled); err != nil {
		return fmt.Errorf("save filled order: %w", err)
	}
	_ = counter
	return s.store.SaveBot(ctx, bot)
}

// finishSellCycle persists a filled sell, its counter buy, and — if the
// sell closes a buy/sell cycle — attributes realized profit.
func (s *Strategy) finishSellCycle(ctx context.Context, bot *domain.Bot, filled, counter *domain.Order) error {
	if filled.PairedOrderID != nil {
		buy, err := s.store.GetOrder(ctx, *filled.PairedOrderID)
		if err == nil && buy != nil {
			revenue := filled.Price.Mul(filled.Amount)
			cost := buy.Price.Mul(buy.Amount)
			profit := revenue.Sub(cost).Sub(filled.Fee).Sub(buy.Fee)
			filled.Profit = &profit

			bot.TotalProfit = bot.TotalProfit.Add(profit)
			bot.CompletedCycles++
			bot.TotalProfitPercent = s.profitPercent(bot)

			if s.hub != nil {
				s.hub.Emit(ctx, notify.Event{
					UserID:  bot.UserID,
					BotID:   bot.ID,
					Kind:    notify.KindOrderFilled,
					Message: fmt.Sprintf("bot %d completed a cycle with profit %s", bot.ID, profit.String()),
				})
			}
		}
	}
	_ = counter
	if err := s.store.SaveOrder(ctx, filled); err != nil {
		return fmt.Errorf("save filled order: %w", err)
	}
	return s.store.SaveBot(ctx, bot)
}

// profitPercent computes total_profit_percent:
// against investment_amount for range grids, against
// (buy_count+sell_count)*order_size for flat grids.
func (s *Strategy) profitPercent(bot *domain.Bot) decimal.Decimal {
	var base decimal.Decimal
	if bot.GridType == domain.GridRange {
		base = bot.InvestmentAmount
	} else {
		base = decimal.NewFromInt(int64(bot.BuyOrdersCount + bot.SellOrdersCount)).Mul(bot.OrderSize)
	}
	if base.IsZero() {
		return decimal.Zero
	}
	return bot.TotalProfit.Div(base).Mul(decimal.NewFromInt(100))
}
