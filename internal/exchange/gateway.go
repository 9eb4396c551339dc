// Package exchange defines the Exchange Gateway capability interface:
// normalized access to one centralized spot exchange, realized as one
// interface so a fake implementation can stand in for tests.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketInfo is the per-symbol metadata the Gateway exposes. AmountPrecision accepts either a decimal-place
// count (integer >= 1) or a step size (value < 1); consumers pass it
// straight through to internal/gridmath.AmountForCost, which accepts
// both forms.
type MarketInfo struct {
	Symbol          string
	Base            string
	Quote           string
	PricePrecision  int32
	AmountPrecision decimal.Decimal
	MinOrderAmount  decimal.Decimal
	MinOrderCost    decimal.Decimal
	Active          bool
}

// OrderRef is what place_limit/place_market return on success.
type OrderRef struct {
	ExchangeOrderID string
	AveragePrice    decimal.Decimal
}

// OrderState is the normalized status of one exchange order.
type OrderState struct {
	Status       string // "open", "filled", "cancelled"
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	Price        decimal.Decimal
	Amount       decimal.Decimal
	AveragePrice decimal.Decimal
	Fee          decimal.Decimal
	FeeCurrency  string
}

// Credentials is the decrypted per-user API key pair; the Gateway is the
// only component that ever sees it.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Side mirrors domain.OrderSide without importing the domain package,
// keeping this interface dependency-free for fakes and adapters.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Gateway is the normalized, synchronous-looking Exchange Gateway
// interface. Every method is a suspension point that may block on
// network I/O; implementations apply their retry policy internally.
type Gateway interface {
	// Ticker returns the last-trade price for symbol. May be served from
	// a 60s-TTL cache.
	Ticker(ctx context.Context, symbol string) (decimal.Decimal, error)

	// BatchTickers returns last-trade prices for the given symbols in one
	// request; symbols the exchange doesn't recognize are omitted.
	BatchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)

	// Balance returns only non-zero balances for the user, keyed by
	// currency. May be served from a 30s-TTL cache keyed by user.
	Balance(ctx context.Context, creds Credentials) (map[string]decimal.Decimal, error)

	// MarketInfo returns exchange metadata for symbol.
	MarketInfo(ctx context.Context, symbol string) (MarketInfo, error)

	// PlaceLimit creates a limit order.
	PlaceLimit(ctx context.Context, creds Credentials, symbol string, side Side, price, amount decimal.Decimal) (OrderRef, error)

	// PlaceMarket creates a market order. For a buy, quantityOrCost is
	// cost in quote currency; for a sell, it is amount in base currency.
	PlaceMarket(ctx context.Context, creds Credentials, symbol string, side Side, quantityOrCost decimal.Decimal) (OrderRef, error)

	// Cancel cancels an order; "unknown order" is treated as success
	// (idempotent).
	Cancel(ctx context.Context, creds Credentials, symbol, orderID string) error

	// OrderStatus fetches the normalized status of one order.
	OrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (OrderState, error)

	// OpenOrders lists open orders, optionally scoped to one symbol (pass
	// "" for all symbols).
	OpenOrders(ctx context.Context, creds Credentials, symbol string) ([]OrderRef, error)

	// Name identifies the exchange for logging/metrics.
	Name() string
}
