// Package fake is an in-memory exchange.Gateway for strategy, bot
// manager, monitor, and health checker tests, with deterministic
// order-fill control for exercising grid invariants in tests.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"gridcore/internal/exchange"

	"github.com/shopspring/decimal"
)

type order struct {
	id       int64
	symbol   string
	side     exchange.Side
	price    decimal.Decimal
	amount   decimal.Decimal
	status   string
	filled   decimal.Decimal
}

// Gateway is an in-memory exchange.Gateway. Zero value is not usable;
// construct with New.
type Gateway struct {
	mu          sync.Mutex
	name        string
	idCounter   int64
	orders      map[int64]*order
	tickers     map[string]decimal.Decimal
	markets     map[string]exchange.MarketInfo
	balances    map[string]decimal.Decimal
	failNextN   int
	failErr     error
}

// New builds a fake Gateway with BTCUSDT/ETHUSDT default tickers and
// BTCUSDT market info; ETHUSDT has no market info.
func New() *Gateway {
	return &Gateway{
		name:      "fake",
		idCounter: 1000,
		orders:    make(map[int64]*order),
		balances:  make(map[string]decimal.Decimal),
		tickers: map[string]decimal.Decimal{
			"BTCUSDT": decimal.NewFromFloat(45000.0),
			"ETHUSDT": decimal.NewFromFloat(3000.0),
		},
		markets: map[string]exchange.MarketInfo{
			"BTCUSDT": {
				Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT",
				PricePrecision: 2, AmountPrecision: decimal.New(1, -6),
				MinOrderAmount: decimal.NewFromFloat(0.00001),
				MinOrderCost:   decimal.NewFromInt(5),
				Active:         true,
			},
		},
	}
}

func (g *Gateway) Name() string { return g.name }

// SetTicker overrides the last-trade price for symbol.
func (g *Gateway) SetTicker(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tickers[symbol] = price
}

// SetMarketInfo overrides market metadata for symbol.
func (g *Gateway) SetMarketInfo(info exchange.MarketInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markets[info.Symbol] = info
}

// SetBalance overrides the balance for a currency.
func (g *Gateway) SetBalance(currency string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[currency] = amount
}

// FailNext makes the next n Gateway calls return err, simulating a
// transient exchange outage for retry/backoff tests.
func (g *Gateway) FailNext(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNextN = n
	g.failErr = err
}

func (g *Gateway) maybeFail() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNextN > 0 {
		g.failNextN--
		return g.failErr
	}
	return nil
}

func (g *Gateway) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := g.maybeFail(); err != nil {
		return decimal.Decimal{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.tickers[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("fake: unknown symbol %s", symbol)
	}
	return price, nil
}

func (g *Gateway) BatchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if err := g.maybeFail(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if price, ok := g.tickers[s]; ok {
			result[s] = price
		}
	}
	return result, nil
}

func (g *Gateway) Balance(ctx context.Context, creds exchange.Credentials) (map[string]decimal.Decimal, error) {
	if err := g.maybeFail(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(g.balances))
	for k, v := range g.balances {
		if !v.IsZero() {
			out[k] = v
		}
	}
	return out, nil
}

func (g *Gateway) MarketInfo(ctx context.Context, symbol string) (exchange.MarketInfo, error) {
	if err := g.maybeFail(); err != nil {
		return exchange.MarketInfo{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.markets[symbol]
	if !ok {
		return exchange.MarketInfo{}, fmt.Errorf("fake: unknown symbol %s", symbol)
	}
	return info, nil
}

func (g *Gateway) PlaceLimit(ctx context.Context, creds exchange.Credentials, symbol string, side exchange.Side, price, amount decimal.Decimal) (exchange.OrderRef, error) {
	if err := g.maybeFail(); err != nil {
		return exchange.OrderRef{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idCounter++
	id := g.idCounter
	g.orders[id] = &order{id: id, symbol: symbol, side: side, price: price, amount: amount, status: "open"}
	return exchange.OrderRef{ExchangeOrderID: strconv.FormatInt(id, 10), AveragePrice: price}, nil
}

func (g *Gateway) PlaceMarket(ctx context.Context, creds exchange.Credentials, symbol string, side exchange.Side, quantityOrCost decimal.Decimal) (exchange.OrderRef, error) {
	if err := g.maybeFail(); err != nil {
		return exchange.OrderRef{}, err
	}
	g.mu.Lock()
	price := g.tickers[symbol]
	g.idCounter++
	id := g.idCounter
	amount := quantityOrCost
	if side == exchange.SideBuy && !price.IsZero() {
		amount = quantityOrCost.Div(price)
	}
	g.orders[id] = &order{id: id, symbol: symbol, side: side, price: price, amount: amount, status: "filled", filled: amount}
	g.mu.Unlock()
	return exchange.OrderRef{ExchangeOrderID: strconv.FormatInt(id, 10), AveragePrice: price}, nil
}

func (g *Gateway) Cancel(ctx context.Context, creds exchange.Credentials, symbol, orderID string) error {
	if err := g.maybeFail(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id, _ := strconv.ParseInt(orderID, 10, 64)
	o, ok := g.orders[id]
	if !ok {
		return nil // unknown order is idempotent success, per exchange.Gateway.Cancel contract
	}
	if o.status == "open" {
		o.status = "cancelled"
	}
	return nil
}

func (g *Gateway) OrderStatus(ctx context.Context, creds exchange.Credentials, symbol, orderID string) (exchange.OrderState, error) {
	if err := g.maybeFail(); err != nil {
		return exchange.OrderState{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id, _ := strconv.ParseInt(orderID, 10, 64)
	o, ok := g.orders[id]
	if !ok {
		return exchange.OrderState{}, fmt.Errorf("fake: order not found: %s", orderID)
	}
	return exchange.OrderState{
		Status:       o.status,
		Filled:       o.filled,
		Remaining:    o.amount.Sub(o.filled),
		Price:        o.price,
		Amount:       o.amount,
		AveragePrice: o.price,
	}, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, creds exchange.Credentials, symbol string) ([]exchange.OrderRef, error) {
	if err := g.maybeFail(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var refs []exchange.OrderRef
	for _, o := range g.orders {
		if o.status != "open" {
			continue
		}
		if symbol != "" && o.symbol != symbol {
			continue
		}
		refs = append(refs, exchange.OrderRef{ExchangeOrderID: strconv.FormatInt(o.id, 10), AveragePrice: o.price})
	}
	return refs, nil
}

// SimulateFill marks orderID filled at the given price, the way the
// SimulateFill drives Order Monitor tests by marking an order filled.
func (g *Gateway) SimulateFill(orderID string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, _ := strconv.ParseInt(orderID, 10, 64)
	o, ok := g.orders[id]
	if !ok {
		return
	}
	o.status = "filled"
	o.filled = o.amount
	o.price = price
}
