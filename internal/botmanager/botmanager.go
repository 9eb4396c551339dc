// Package botmanager implements the Bot Manager lifecycle state machine:
// create/start/pause/resume/stop/delete plus restore-after-restart,
// owning one cancellable goroutine per managed bot.
package botmanager

import (
	"context"
	"fmt"
	"sync"

	"gridcore/internal/corelog"
	"gridcore/internal/domain"
	"gridcore/internal/exchange"
	"gridcore/internal/monitor"
	"gridcore/internal/notify"
	"gridcore/internal/store"
	"gridcore/internal/strategy"
	"gridcore/pkg/concurrency"

	"golang.org/x/sync/errgroup"
)

// CredentialSource resolves a user's decrypted exchange credentials,
// decoupling the Manager from internal/config's secret-sealing scheme.
type CredentialSource interface {
	Resolve(ctx context.Context, userID int64) (exchange.Credentials, error)
}

// Manager owns the lifecycle of every bot: creation, pause/resume/stop,
// deletion, and restart reconciliation. One Order Monitor supervisor runs
// per active bot.
type Manager struct {
	gw       exchange.Gateway
	store    store.Store
	strategy *strategy.Strategy
	hub      *notify.Hub
	creds    CredentialSource
	logger   corelog.Logger
	pool     *concurrency.WorkerPool

	mu          sync.Mutex
	supervisors map[int64]*monitor.Supervisor
}

func New(gw exchange.Gateway, st store.Store, strat *strategy.Strategy, hub *notify.Hub, creds CredentialSource, logger corelog.Logger, pool *concurrency.WorkerPool) *Manager {
	return &Manager{
		gw:          gw,
		store:       st,
		strategy:    strat,
		hub:         hub,
		creds:       creds,
		logger:      logger.WithField("component", "bot_manager"),
		pool:        pool,
		supervisors: make(map[int64]*monitor.Supervisor),
	}
}

// Create persists bot (status=active) and runs initial placement. If
// placement yields zero orders the bot transitions to stopped and is
// returned as failed.
func (m *Manager) Create(ctx context.Context, bot *domain.Bot) error {
	bot.Status = domain.BotActive
	if err := m.store.SaveBot(ctx, bot); err != nil {
		return fmt.Errorf("save bot: %w", err)
	}

	creds, err := m.creds.Resolve(ctx, bot.UserID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	referencePrice, err := m.gw.Ticker(ctx, bot.Symbol)
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}

	summary, err := m.strategy.InitialPlacement(ctx, bot, creds, referencePrice)
	if err != nil {
		bot.Status = domain.BotStopped
		_ = m.store.SaveBot(ctx, bot)
		return fmt.Errorf("initial placement: %w", err)
	}

	m.startSupervisor(bot.ID)
	m.logger.Info("bot created", "bot_id", bot.ID,
		"buy_orders", summary.BuyOrdersPlaced, "sell_orders", summary.SellOrdersPlaced)
	return nil
}

// Pause freezes new counter-order creation for bot; the Order Monitor
// keeps polling but HandleFilledOrder is not invoked until resumed.
func (m *Manager) Pause(ctx context.Context, botID int64) error {
	bot, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	if bot.Status != domain.BotActive {
		return fmt.Errorf("bot %d is not active", botID)
	}
	bot.Status = domain.BotPaused
	return m.store.SaveBot(ctx, bot)
}

// Resume transitions a paused bot back to active; its supervisor is
// already running and begins acting on fills again.
func (m *Manager) Resume(ctx context.Context, botID int64) error {
	bot, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	if bot.Status != domain.BotPaused {
		return fmt.Errorf("bot %d is not paused", botID)
	}
	bot.Status = domain.BotActive
	return m.store.SaveBot(ctx, bot)
}

// Stop cancels every open order for bot (bounded concurrency), reconciles
// against the exchange's live open-orders view for orphans, optionally
// liquidates the residual base-currency balance, and transitions to
// stopped.
func (m *Manager) Stop(ctx context.Context, botID int64, sellAll bool) error {
	bot, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	creds, err := m.creds.Resolve(ctx, bot.UserID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	open, err := m.store.GetOpenOrders(ctx, botID)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}
	m.cancelAll(ctx, bot, creds, open)

	if live, err := m.gw.OpenOrders(ctx, creds, bot.Symbol); err == nil {
		known := make(map[string]bool, len(open))
		for _, o := range open {
			known[o.ExchangeOrderID] = true
		}
		var orphans []*domain.Order
		for _, ref := range live {
			if !known[ref.ExchangeOrderID] {
				orphans = append(orphans, &domain.Order{ExchangeOrderID: ref.ExchangeOrderID})
			}
		}
		m.cancelAll(ctx, bot, creds, orphans)
	}

	if sellAll {
		balances, err := m.gw.Balance(ctx, creds)
		if err == nil {
			info, infoErr := m.gw.MarketInfo(ctx, bot.Symbol)
			if infoErr == nil {
				if amount, ok := balances[info.Base]; ok && amount.GreaterThan(info.MinOrderAmount) {
					_, _ = m.gw.PlaceMarket(ctx, creds, bot.Symbol, exchange.SideSell, amount)
				}
			}
		}
	}

	m.stopSupervisor(botID)
	bot.Status = domain.BotStopped
	if err := m.store.SaveBot(ctx, bot); err != nil {
		return err
	}
	if m.hub != nil {
		m.hub.Emit(ctx, notify.Event{UserID: bot.UserID, BotID: bot.ID, Kind: notify.KindBotStopped, Message: "bot stopped"})
	}
	return nil
}

func (m *Manager) cancelAll(ctx context.Context, bot *domain.Bot, creds exchange.Credentials, orders []*domain.Order) {
	var wg sync.WaitGroup
	for _, o := range orders {
		o := o
		wg.Add(1)
		_ = m.pool.Submit(func() {
			defer wg.Done()
			if err := m.gw.Cancel(ctx, creds, bot.Symbol, o.ExchangeOrderID); err != nil {
				m.logger.Warn("cancel failed", "bot_id", bot.ID, "order_id", o.ExchangeOrderID, "error", err.Error())
				return
			}
			if o.ID != 0 {
				o.Status = domain.OrderCancelled
				_ = m.store.SaveOrder(ctx, o)
			}
		})
	}
	wg.Wait()
}

// Delete stops bot (if not already stopped) then cascade-deletes its
// orders and logs.
func (m *Manager) Delete(ctx context.Context, botID int64) error {
	bot, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("get bot: %w", err)
	}
	if bot.Status != domain.BotStopped {
		if err := m.Stop(ctx, botID, false); err != nil {
			return fmt.Errorf("stop before delete: %w", err)
		}
	}
	if err := m.store.DeleteOrdersForBot(ctx, botID); err != nil {
		return fmt.Errorf("delete orders: %w", err)
	}
	if err := m.store.DeleteLogsForBot(ctx, botID); err != nil {
		return fmt.Errorf("delete logs: %w", err)
	}
	return m.store.DeleteBot(ctx, botID)
}

// RestoreAfterRestart reconciles state after a process restart: for every
// active bot, reconcile persisted open orders against live exchange
// status, then resume monitoring. Bots are reconciled concurrently via
// errgroup since each is an independent unit of work.
func (m *Manager) RestoreAfterRestart(ctx context.Context) error {
	bots, err := m.store.ListActiveBots(ctx)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for _, bot := range bots {
		bot := bot
		g.Go(func() error {
			if err := m.reconcileBot(gctx, bot); err != nil {
				m.logger.Error("restore failed for bot", "bot_id", bot.ID, "error", err.Error())
				return nil // one bot's failure doesn't block the others
			}
			m.startSupervisor(bot.ID)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) reconcileBot(ctx context.Context, bot *domain.Bot) error {
	creds, err := m.creds.Resolve(ctx, bot.UserID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	open, err := m.store.GetOpenOrders(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}

	for _, o := range open {
		state, err := m.gw.OrderStatus(ctx, creds, bot.Symbol, o.ExchangeOrderID)
		if err != nil {
			m.logger.Warn("order status check failed during restore", "bot_id", bot.ID, "order_id", o.ExchangeOrderID)
			continue
		}
		if state.Status == "filled" {
			if err := m.strategy.HandleFilledOrder(ctx, bot, o, state, creds); err != nil {
				m.logger.Error("handle filled order failed during restore", "bot_id", bot.ID, "error", err.Error())
			}
		}
	}
	return nil
}

func (m *Manager) startSupervisor(botID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.supervisors[botID]; exists {
		return // re-registering an already-supervised bot is a no-op
	}
	sup := monitor.NewSupervisor(botID, m.gw, m.store, m.strategy, m.hub, m.creds, m.logger)
	m.supervisors[botID] = sup
	sup.Start()
}

func (m *Manager) stopSupervisor(botID int64) {
	m.mu.Lock()
	sup, exists := m.supervisors[botID]
	delete(m.supervisors, botID)
	m.mu.Unlock()
	if exists {
		sup.Stop()
	}
}
