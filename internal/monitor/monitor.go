// Package monitor implements the Order Monitor: one
// long-lived supervisor goroutine per active bot, polling open orders
// and dispatching fills through internal/strategy, using a per-task
// goroutine and context.CancelFunc for supervision.
package monitor

import (
	"context"
	"errors"
	"time"

	"gridcore/internal/corelog"
	"gridcore/internal/domain"
	"gridcore/internal/exchange"
	"gridcore/internal/notify"
	"gridcore/internal/store"
	"gridcore/internal/strategy"
	apperrors "gridcore/pkg/errors"
	"gridcore/pkg/retry"
	"gridcore/pkg/telemetry"
)

// errBotInactive signals a normal loop exit (bot is no longer active),
// distinct from a retryable or terminal Gateway error.
var errBotInactive = errors.New("monitor: bot is no longer active")

// checkInterval is the Order Monitor's base poll interval.
const checkInterval = 10 * time.Second

// profitMilestoneStep is the granularity of profit-percent notifications.
const profitMilestoneStep = 5

// CredentialSource resolves a user's decrypted exchange credentials.
type CredentialSource interface {
	Resolve(ctx context.Context, userID int64) (exchange.Credentials, error)
}

// Supervisor owns the monitor loop for exactly one bot.
type Supervisor struct {
	botID    int64
	gw       exchange.Gateway
	store    store.Store
	strategy *strategy.Strategy
	hub      *notify.Hub
	creds    CredentialSource
	logger   corelog.Logger
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(botID int64, gw exchange.Gateway, st store.Store, strat *strategy.Strategy, hub *notify.Hub, creds CredentialSource, logger corelog.Logger) *Supervisor {
	return &Supervisor{
		botID:    botID,
		gw:       gw,
		store:    st,
		strategy: strat,
		hub:      hub,
		creds:    creds,
		logger:   logger.WithField("component", "order_monitor").WithField("bot_id", botID),
		interval: checkInterval,
	}
}

// Start launches the supervisor's goroutine. Safe to call once.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop signals cancellation at the next suspension point and waits for
// the loop to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	backoff := retry.MonitorBackoff
	interval := s.interval
	var failDelay time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := s.poll(ctx); err != nil {
			if errors.Is(err, errBotInactive) {
				return
			}
			if apperrors.IsTerminal(err) {
				s.logger.Error("terminal error, stopping supervisor", "error", err.Error())
				return
			}
			failDelay = retry.NextBackoff(backoff, failDelay)
			interval = failDelay
			s.logger.Warn("poll failed, backing off", "error", err.Error(), "next_interval", interval)
			continue
		}
		failDelay = 0
		interval = s.interval
	}
}

func (s *Supervisor) poll(ctx context.Context) error {
	bot, err := s.store.GetBot(ctx, s.botID)
	if err != nil {
		return err
	}
	if bot.Status == domain.BotStopped {
		return errBotInactive
	}
	paused := bot.Status == domain.BotPaused

	open, err := s.store.GetOpenOrders(ctx, s.botID)
	if err != nil {
		return err
	}

	creds, err := s.creds.Resolve(ctx, bot.UserID)
	if err != nil {
		return err
	}

	if telemetry.GetGlobalMetrics().OrdersActive != nil {
		telemetry.GetGlobalMetrics().SetActiveOrders(bot.Symbol, int64(len(open)))
	}

	for _, o := range open {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		state, err := s.gw.OrderStatus(ctx, creds, bot.Symbol, o.ExchangeOrderID)
		if err != nil {
			if apperrors.IsTerminal(err) {
				bot.Status = domain.BotStopped
				_ = s.store.SaveBot(ctx, bot)
				if s.hub != nil {
					s.hub.Emit(ctx, notify.Event{UserID: bot.UserID, BotID: bot.ID, Kind: notify.KindCredentialError, Message: "exchange credentials rejected, bot stopped"})
				}
				return apperrors.ErrInvalidCredentials
			}
			return err
		}
		if state.Status != "filled" {
			continue
		}
		if paused {
			continue // fills accumulate; counter-order creation waits for resume
		}

		if err := s.strategy.HandleFilledOrder(ctx, bot, o, state, creds); err != nil {
			s.logger.Error("handle filled order failed", "order_id", o.ExchangeOrderID, "error", err.Error())
			continue
		}
		if s.hub != nil {
			s.hub.Emit(ctx, notify.Event{UserID: bot.UserID, BotID: bot.ID, Kind: notify.KindOrderFilled, Message: "order filled"})
		}
		s.maybeNotifyMilestone(ctx, bot)
	}
	return nil
}

func (s *Supervisor) maybeNotifyMilestone(ctx context.Context, bot *domain.Bot) {
	milestone := int(bot.TotalProfitPercent.IntPart()) / profitMilestoneStep * profitMilestoneStep
	if milestone <= 0 || milestone <= bot.LastNotifiedMilestone {
		return
	}
	bot.LastNotifiedMilestone = milestone
	_ = s.store.SaveBot(ctx, bot)
	if s.hub != nil {
		s.hub.Emit(ctx, notify.Event{
			UserID: bot.UserID, BotID: bot.ID, Kind: notify.KindProfitMilestone,
			Message: "bot crossed a profit milestone",
		})
	}
}
