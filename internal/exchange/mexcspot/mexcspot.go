// Package mexcspot is the one concrete Exchange Gateway adapter: MEXC's
// spot REST API shares Binance's request-signing and wire-format
// conventions closely enough that the adapter is a direct generalization
// of that signing scheme rather than a bespoke one.
package mexcspot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gridcore/internal/corelog"
	"gridcore/internal/exchange"
	"gridcore/internal/exchange/httpx"
	apperrors "gridcore/pkg/errors"

	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.mexc.com"

const (
	tickerTTL  = 60 * time.Second
	balanceTTL = 30 * time.Second
)

// Adapter implements exchange.Gateway against MEXC's spot REST API.
type Adapter struct {
	http    *httpx.Client
	logger  corelog.Logger
	tickers *tickerCache
	balances *balanceCache
}

// New builds an Adapter. requestsPerSecond bounds the client-side rate
// limiter; pass the exchange's published per-key cap.
func New(baseURL string, requestsPerSecond float64, logger corelog.Logger) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		http:     httpx.NewClient(baseURL, 10*time.Second, requestsPerSecond, hmacSigner{}),
		logger:   logger,
		tickers:  newTickerCache(tickerTTL),
		balances: newBalanceCache(balanceTTL),
	}
}

func (a *Adapter) Name() string { return "mexc_spot" }

func (a *Adapter) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := a.tickers.get(symbol); ok {
		return price, nil
	}

	body, err := a.http.Get(ctx, "/api/v3/ticker/price", map[string]string{"symbol": symbol}, "", "")
	if err != nil {
		return decimal.Decimal{}, classify(err)
	}

	var raw struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Decimal{}, fmt.Errorf("unmarshal ticker: %w", err)
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse ticker price: %w", err)
	}

	a.tickers.set(symbol, price)
	return price, nil
}

func (a *Adapter) BatchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(symbols))

	missing := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if price, ok := a.tickers.get(s); ok {
			result[s] = price
		} else {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	body, err := a.http.Get(ctx, "/api/v3/ticker/price", nil, "", "")
	if err != nil {
		return nil, classify(err)
	}

	var raw []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal batch tickers: %w", err)
	}

	wanted := make(map[string]bool, len(missing))
	for _, s := range missing {
		wanted[s] = true
	}
	for _, entry := range raw {
		if !wanted[entry.Symbol] {
			continue
		}
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			continue
		}
		result[entry.Symbol] = price
		a.tickers.set(entry.Symbol, price)
	}
	return result, nil
}

func (a *Adapter) Balance(ctx context.Context, creds exchange.Credentials) (map[string]decimal.Decimal, error) {
	cacheKey := creds.APIKey
	if balances, ok := a.balances.get(cacheKey); ok {
		return balances, nil
	}

	body, err := a.http.Get(ctx, "/api/v3/account", nil, creds.APIKey, creds.APISecret)
	if err != nil {
		return nil, classify(err)
	}

	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}

	balances := make(map[string]decimal.Decimal)
	for _, b := range raw.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		balances[b.Asset] = total
	}

	a.balances.set(cacheKey, balances)
	return balances, nil
}

func (a *Adapter) MarketInfo(ctx context.Context, symbol string) (exchange.MarketInfo, error) {
	body, err := a.http.Get(ctx, "/api/v3/exchangeInfo", map[string]string{"symbol": symbol}, "", "")
	if err != nil {
		return exchange.MarketInfo{}, classify(err)
	}

	var raw struct {
		Symbols []struct {
			Symbol              string `json:"symbol"`
			BaseAsset           string `json:"baseAsset"`
			QuoteAsset          string `json:"quoteAsset"`
			Status              string `json:"status"`
			BaseAssetPrecision  int32  `json:"baseAssetPrecision"`
			QuoteAssetPrecision int32  `json:"quoteAssetPrecision"`
			Filters             []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.MarketInfo{}, fmt.Errorf("unmarshal exchange info: %w", err)
	}
	if len(raw.Symbols) == 0 {
		return exchange.MarketInfo{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	s := raw.Symbols[0]

	info := exchange.MarketInfo{
		Symbol:          s.Symbol,
		Base:            s.BaseAsset,
		Quote:           s.QuoteAsset,
		PricePrecision:  s.QuoteAssetPrecision,
		AmountPrecision: decimal.New(1, -s.BaseAssetPrecision),
		MinOrderAmount:  decimal.Zero,
		MinOrderCost:    decimal.Zero,
		Active:          s.Status == "TRADING" || s.Status == "ENABLED",
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if v, err := decimal.NewFromString(f.MinQty); err == nil {
				info.MinOrderAmount = v
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			if v, err := decimal.NewFromString(f.MinNotional); err == nil {
				info.MinOrderCost = v
			}
		}
	}
	return info, nil
}

func (a *Adapter) PlaceLimit(ctx context.Context, creds exchange.Credentials, symbol string, side exchange.Side, price, amount decimal.Decimal) (exchange.OrderRef, error) {
	params := map[string]string{
		"symbol":      symbol,
		"side":        strings.ToUpper(string(side)),
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"quantity":    amount.String(),
		"price":       price.String(),
	}
	return a.placeOrder(ctx, creds, params)
}

func (a *Adapter) PlaceMarket(ctx context.Context, creds exchange.Credentials, symbol string, side exchange.Side, quantityOrCost decimal.Decimal) (exchange.OrderRef, error) {
	params := map[string]string{
		"symbol": symbol,
		"side":   strings.ToUpper(string(side)),
		"type":   "MARKET",
	}
	if side == exchange.SideBuy {
		params["quoteOrderQty"] = quantityOrCost.String()
	} else {
		params["quantity"] = quantityOrCost.String()
	}
	return a.placeOrder(ctx, creds, params)
}

// placeOrder submits an order with params carried in the signed query
// string, MEXC's (and Binance's) convention for trading endpoints even
// on POST requests.
func (a *Adapter) placeOrder(ctx context.Context, creds exchange.Credentials, params map[string]string) (exchange.OrderRef, error) {
	body, err := a.http.PostForm(ctx, "/api/v3/order", params, creds.APIKey, creds.APISecret)
	if err != nil {
		return exchange.OrderRef{}, classify(err)
	}

	var raw struct {
		OrderID int64  `json:"orderId"`
		Price   string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.OrderRef{}, fmt.Errorf("unmarshal order response: %w", err)
	}

	avgPrice, _ := decimal.NewFromString(raw.Price)
	return exchange.OrderRef{
		ExchangeOrderID: strconv.FormatInt(raw.OrderID, 10),
		AveragePrice:    avgPrice,
	}, nil
}

func (a *Adapter) Cancel(ctx context.Context, creds exchange.Credentials, symbol, orderID string) error {
	_, err := a.http.Delete(ctx, "/api/v3/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}, creds.APIKey, creds.APISecret)
	if err != nil {
		wrapped := classify(err)
		if apiErr, ok := err.(*httpx.APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		if errors.Is(wrapped, apperrors.ErrOrderNotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

func (a *Adapter) OrderStatus(ctx context.Context, creds exchange.Credentials, symbol, orderID string) (exchange.OrderState, error) {
	body, err := a.http.Get(ctx, "/api/v3/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}, creds.APIKey, creds.APISecret)
	if err != nil {
		return exchange.OrderState{}, classify(err)
	}

	var raw struct {
		Status      string `json:"status"`
		Price       string `json:"price"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return exchange.OrderState{}, fmt.Errorf("unmarshal order status: %w", err)
	}

	price, _ := decimal.NewFromString(raw.Price)
	amount, _ := decimal.NewFromString(raw.OrigQty)
	filled, _ := decimal.NewFromString(raw.ExecutedQty)

	status := "open"
	switch raw.Status {
	case "FILLED":
		status = "filled"
	case "CANCELED", "EXPIRED", "REJECTED":
		status = "cancelled"
	}

	return exchange.OrderState{
		Status:       status,
		Filled:       filled,
		Remaining:    amount.Sub(filled),
		Price:        price,
		Amount:       amount,
		AveragePrice: price,
	}, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, creds exchange.Credentials, symbol string) ([]exchange.OrderRef, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	body, err := a.http.Get(ctx, "/api/v3/openOrders", params, creds.APIKey, creds.APISecret)
	if err != nil {
		return nil, classify(err)
	}

	var raw []struct {
		OrderID int64  `json:"orderId"`
		Price   string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal open orders: %w", err)
	}

	refs := make([]exchange.OrderRef, 0, len(raw))
	for _, o := range raw {
		price, _ := decimal.NewFromString(o.Price)
		refs = append(refs, exchange.OrderRef{
			ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
			AveragePrice:    price,
		})
	}
	return refs, nil
}
