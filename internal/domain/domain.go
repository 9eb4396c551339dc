// Package domain holds the persisted entities of the grid trading core:
// User, Bot, Order and Log, plus the small value types shared across
// components (grid type, order side/status, bot status).
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GridType selects which ladder shape a Bot uses.
type GridType string

const (
	GridRange GridType = "range"
	GridFlat  GridType = "flat"
)

// BotStatus is the lifecycle state of a Bot.
type BotStatus string

const (
	BotDraft   BotStatus = "draft"
	BotActive  BotStatus = "active"
	BotPaused  BotStatus = "paused"
	BotStopped BotStatus = "stopped"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus is the terminal-or-not status of a persisted Order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderError     OrderStatus = "error"
)

// LogLevel classifies a Log row.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// User holds the identity and encrypted exchange credentials for one chat
// identity. Credentials are opaque to every component except the Gateway,
// which decrypts them per call.
type User struct {
	ID         int64
	ChatID     int64 // external chat-identity-provider id
	APIKey     string
	APISecret  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastActive time.Time

	NotificationsEnabled bool
	NotifyOrderFilled    bool
	NotifyProfit         bool
	NotifyErrors         bool
	ProfitNotifyPercent  decimal.Decimal
}

// HasCredentials reports whether both halves of the API key pair are set,
// never only one half.
func (u User) HasCredentials() bool {
	return u.APIKey != "" && u.APISecret != ""
}

// Bot is the configuration plus mutable lifecycle state of one grid bot.
// Configuration fields are set at Create and never mutated afterward.
type Bot struct {
	ID     int64
	UserID int64

	Symbol   string
	GridType GridType

	// Range grid configuration.
	LowerPrice decimal.Decimal
	UpperPrice decimal.Decimal
	GridLevels int

	// Flat grid configuration.
	StartingPrice   decimal.Decimal
	FlatSpread      decimal.Decimal
	FlatIncrement   decimal.Decimal
	BuyOrdersCount  int
	SellOrdersCount int

	OrderSize        decimal.Decimal
	InvestmentAmount decimal.Decimal

	Status BotStatus

	CreatedAt      time.Time
	StartedAt      *time.Time
	StoppedAt      *time.Time
	LastActivityAt *time.Time

	TotalProfit        decimal.Decimal
	TotalProfitPercent decimal.Decimal
	CompletedCycles    int
	TotalBuyOrders     int
	TotalSellOrders    int

	// LastNotifiedMilestone is the highest 5%-multiple profit milestone
	// already signaled, so the monitor doesn't re-notify the same step.
	LastNotifiedMilestone int
}

// IsActive reports whether the bot is currently being monitored.
func (b Bot) IsActive() bool { return b.Status == BotActive }

// Order is one limit or market order the system has placed for a Bot.
type Order struct {
	ID              int64
	BotID           int64
	ExchangeOrderID string

	Side      OrderSide
	OrderType string // "limit" or "market"
	Level     int
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Total     decimal.Decimal

	Status OrderStatus

	Fee         decimal.Decimal
	FeeCurrency string

	PairedOrderID *int64
	Profit        *decimal.Decimal

	CreatedAt   time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

func (o Order) IsOpen() bool   { return o.Status == OrderOpen }
func (o Order) IsFilled() bool { return o.Status == OrderFilled }

// Log is one audit-trail row, supplementing the structured logger with a
// queryable per-user/per-bot history (grounded in
// original_source/src/models/bot_log.py).
type Log struct {
	ID        int64
	UserID    int64
	BotID     *int64
	Level     LogLevel
	Message   string
	CreatedAt time.Time
}
