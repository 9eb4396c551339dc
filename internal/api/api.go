// Package api implements the Chat-interface surface: the
// operations any UI (chat bot, HTTP client, CLI) drives the core
// through. It is plain Go — internal/infrastructure/httpapi is the only
// thing that puts a network in front of it.
package api

import (
	"context"
	"fmt"
	"time"

	"gridcore/internal/botmanager"
	"gridcore/internal/config"
	"gridcore/internal/corelog"
	"gridcore/internal/credentials"
	"gridcore/internal/domain"
	"gridcore/internal/exchange"
	"gridcore/internal/store"

	"github.com/shopspring/decimal"
)

// Service exposes the Chat-interface surface.
type Service struct {
	manager *botmanager.Manager
	store   store.Store
	gw      exchange.Gateway
	sealer  *config.Sealer
	creds   *credentials.Resolver
	grid    config.GridConfig
	logger  corelog.Logger
}

func New(manager *botmanager.Manager, st store.Store, gw exchange.Gateway, sealer *config.Sealer, creds *credentials.Resolver, grid config.GridConfig, logger corelog.Logger) *Service {
	return &Service{manager: manager, store: st, gw: gw, sealer: sealer, creds: creds, grid: grid, logger: logger.WithField("component", "api")}
}

// RegisterUser upserts a chat identity's exchange API key pair, sealing
// it before persisting.
func (s *Service) RegisterUser(ctx context.Context, chatID int64, apiKey, apiSecret string) (*domain.User, error) {
	sealedKey, sealedSecret, err := credentials.Seal(s.sealer, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}

	user, err := s.store.GetUserByChatID(ctx, chatID)
	if err != nil {
		user = &domain.User{ChatID: chatID, CreatedAt: time.Now(), NotificationsEnabled: true}
	}
	user.APIKey = sealedKey
	user.APISecret = sealedSecret
	user.UpdatedAt = time.Now()
	if err := s.store.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// CreateRangeBot validates and creates a range-grid bot.
func (s *Service) CreateRangeBot(ctx context.Context, userID int64, symbol string, lower, upper decimal.Decimal, levels int, investment decimal.Decimal) (*domain.Bot, error) {
	if upper.LessThanOrEqual(lower) {
		return nil, fmt.Errorf("upper price must exceed lower price")
	}
	span := upper.Sub(lower).Div(lower)
	if span.LessThan(decimal.NewFromFloat(0.02)) {
		return nil, fmt.Errorf("range span must be at least 2%% of lower price")
	}
	if levels%2 != 0 {
		return nil, fmt.Errorf("grid_levels must be even")
	}
	if levels < s.grid.MinGridLevels || levels > s.grid.MaxGridLevels {
		return nil, fmt.Errorf("grid_levels must be between %d and %d", s.grid.MinGridLevels, s.grid.MaxGridLevels)
	}
	minInvestment, err := decimal.NewFromString(s.grid.MinInvestmentUSDT)
	if err == nil && investment.LessThan(minInvestment) {
		return nil, fmt.Errorf("investment_amount must be at least %s", s.grid.MinInvestmentUSDT)
	}

	bot := &domain.Bot{
		UserID:           userID,
		Symbol:           symbol,
		GridType:         domain.GridRange,
		LowerPrice:       lower,
		UpperPrice:       upper,
		GridLevels:       levels,
		InvestmentAmount: investment,
		CreatedAt:        time.Now(),
	}
	if err := s.manager.Create(ctx, bot); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

// CreateFlatBot validates and creates a flat-grid bot.
func (s *Service) CreateFlatBot(ctx context.Context, userID int64, symbol string, starting, spread, increment decimal.Decimal, buyCount, sellCount int, orderSize decimal.Decimal) (*domain.Bot, error) {
	if starting.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("starting_price must be positive")
	}
	if spread.LessThanOrEqual(decimal.Zero) || increment.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("spread and increment must be positive")
	}
	if buyCount <= 0 || sellCount <= 0 {
		return nil, fmt.Errorf("buy_count and sell_count must be positive")
	}
	minInvestment, err := decimal.NewFromString(s.grid.MinInvestmentUSDT)
	total := orderSize.Mul(decimal.NewFromInt(int64(buyCount + sellCount)))
	if err == nil && total.LessThan(minInvestment) {
		return nil, fmt.Errorf("total committed amount must be at least %s", s.grid.MinInvestmentUSDT)
	}

	bot := &domain.Bot{
		UserID:          userID,
		Symbol:          symbol,
		GridType:        domain.GridFlat,
		StartingPrice:   starting,
		FlatSpread:      spread,
		FlatIncrement:   increment,
		BuyOrdersCount:  buyCount,
		SellOrdersCount: sellCount,
		OrderSize:       orderSize,
		CreatedAt:       time.Now(),
	}
	if err := s.manager.Create(ctx, bot); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

func (s *Service) Pause(ctx context.Context, botID int64) error { return s.manager.Pause(ctx, botID) }

func (s *Service) Resume(ctx context.Context, botID int64) error { return s.manager.Resume(ctx, botID) }

func (s *Service) Stop(ctx context.Context, botID int64, sellAll bool) error {
	return s.manager.Stop(ctx, botID, sellAll)
}

func (s *Service) Delete(ctx context.Context, botID int64) error { return s.manager.Delete(ctx, botID) }

// ListBots returns every bot owned by user.
func (s *Service) ListBots(ctx context.Context, userID int64) ([]*domain.Bot, error) {
	bots, err := s.store.ListBotsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return bots, nil
}

// BotDetail bundles a bot's configuration, live statistics, and open
// orders for the bot_details surface operation.
type BotDetail struct {
	Bot        *domain.Bot
	OpenOrders []*domain.Order
}

// BotDetails returns configuration, statistics, and current open orders
// for one bot.
func (s *Service) BotDetails(ctx context.Context, botID int64) (*BotDetail, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("get bot: %w", err)
	}
	open, err := s.store.GetOpenOrders(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	return &BotDetail{Bot: bot, OpenOrders: open}, nil
}

// Balance passes the user's exchange balance through unchanged.
func (s *Service) Balance(ctx context.Context, userID int64) (map[string]decimal.Decimal, error) {
	creds, err := s.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	return s.gw.Balance(ctx, creds)
}
