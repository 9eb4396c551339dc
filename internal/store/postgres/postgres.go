// Package postgres is the multi-instance store.Store backend: the same
// four-table schema as internal/store/sqlite, backed by
// github.com/jackc/pgx/v5 so several gridbotd instances can share one
// database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridcore/internal/domain"
	"gridcore/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	chat_id BIGINT NOT NULL UNIQUE,
	api_key TEXT NOT NULL DEFAULT '',
	api_secret TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	last_active BIGINT NOT NULL,
	notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	notify_order_filled BOOLEAN NOT NULL DEFAULT TRUE,
	notify_profit BOOLEAN NOT NULL DEFAULT TRUE,
	notify_errors BOOLEAN NOT NULL DEFAULT TRUE,
	profit_notify_percent TEXT NOT NULL DEFAULT '5'
);

CREATE TABLE IF NOT EXISTS bots (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	symbol TEXT NOT NULL,
	grid_type TEXT NOT NULL,
	lower_price TEXT NOT NULL DEFAULT '0',
	upper_price TEXT NOT NULL DEFAULT '0',
	grid_levels INTEGER NOT NULL DEFAULT 0,
	starting_price TEXT NOT NULL DEFAULT '0',
	flat_spread TEXT NOT NULL DEFAULT '0',
	flat_increment TEXT NOT NULL DEFAULT '0',
	buy_orders_count INTEGER NOT NULL DEFAULT 0,
	sell_orders_count INTEGER NOT NULL DEFAULT 0,
	order_size TEXT NOT NULL DEFAULT '0',
	investment_amount TEXT NOT NULL DEFAULT '0',
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	started_at BIGINT,
	stopped_at BIGINT,
	last_activity_at BIGINT,
	total_profit TEXT NOT NULL DEFAULT '0',
	total_profit_percent TEXT NOT NULL DEFAULT '0',
	completed_cycles INTEGER NOT NULL DEFAULT 0,
	total_buy_orders INTEGER NOT NULL DEFAULT 0,
	total_sell_orders INTEGER NOT NULL DEFAULT 0,
	last_notified_milestone INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);
CREATE INDEX IF NOT EXISTS idx_bots_user ON bots(user_id);

CREATE TABLE IF NOT EXISTS orders (
	id BIGSERIAL PRIMARY KEY,
	bot_id BIGINT NOT NULL,
	exchange_order_id TEXT NOT NULL DEFAULT '',
	side TEXT NOT NULL,
	order_type TEXT NOT NULL DEFAULT 'limit',
	level INTEGER NOT NULL DEFAULT 0,
	price TEXT NOT NULL DEFAULT '0',
	amount TEXT NOT NULL DEFAULT '0',
	total TEXT NOT NULL DEFAULT '0',
	status TEXT NOT NULL,
	fee TEXT NOT NULL DEFAULT '0',
	fee_currency TEXT NOT NULL DEFAULT '',
	paired_order_id BIGINT,
	profit TEXT,
	created_at BIGINT NOT NULL,
	filled_at BIGINT,
	cancelled_at BIGINT,
	updated_at BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_exchange_id ON orders(exchange_order_id) WHERE exchange_order_id != '';
CREATE INDEX IF NOT EXISTS idx_orders_bot_status ON orders(bot_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_paired ON orders(paired_order_id) WHERE paired_order_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS logs (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	bot_id BIGINT,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_bot ON logs(bot_id);
`

// Store is the pgx-backed store.Store implementation.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, applies the schema, and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) SaveUser(ctx context.Context, u *domain.User) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	if u.ID == 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO users (chat_id, api_key, api_secret, created_at, updated_at, last_active,
				notifications_enabled, notify_order_filled, notify_profit, notify_errors, profit_notify_percent)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (chat_id) DO UPDATE SET
				api_key=excluded.api_key, api_secret=excluded.api_secret, updated_at=excluded.updated_at,
				last_active=excluded.last_active, notifications_enabled=excluded.notifications_enabled,
				notify_order_filled=excluded.notify_order_filled, notify_profit=excluded.notify_profit,
				notify_errors=excluded.notify_errors, profit_notify_percent=excluded.profit_notify_percent
			RETURNING id`,
			u.ChatID, u.APIKey, u.APISecret, u.CreatedAt.Unix(), u.UpdatedAt.Unix(), u.LastActive.Unix(),
			u.NotificationsEnabled, u.NotifyOrderFilled, u.NotifyProfit, u.NotifyErrors,
			u.ProfitNotifyPercent.String()).Scan(&u.ID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE users SET api_key=$2, api_secret=$3, updated_at=$4, last_active=$5,
				notifications_enabled=$6, notify_order_filled=$7, notify_profit=$8, notify_errors=$9,
				profit_notify_percent=$10 WHERE id=$1`,
			u.ID, u.APIKey, u.APISecret, u.UpdatedAt.Unix(), u.LastActive.Unix(),
			u.NotificationsEnabled, u.NotifyOrderFilled, u.NotifyProfit, u.NotifyErrors,
			u.ProfitNotifyPercent.String())
	}
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return tx.Commit(ctx)
}

const userSelect = `SELECT id, chat_id, api_key, api_secret, created_at, updated_at, last_active,
	notifications_enabled, notify_order_filled, notify_profit, notify_errors, profit_notify_percent FROM users`

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, userSelect+" WHERE id = $1", id))
}

func (s *Store) GetUserByChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, userSelect+" WHERE chat_id = $1", chatID))
}

func (s *Store) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var created, updated, lastActive int64
	var profitPct string
	err := row.Scan(&u.ID, &u.ChatID, &u.APIKey, &u.APISecret, &created, &updated, &lastActive,
		&u.NotificationsEnabled, &u.NotifyOrderFilled, &u.NotifyProfit, &u.NotifyErrors, &profitPct)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0)
	u.UpdatedAt = time.Unix(updated, 0)
	u.LastActive = time.Unix(lastActive, 0)
	u.ProfitNotifyPercent, _ = decimal.NewFromString(profitPct)
	return &u, nil
}

func (s *Store) SaveBot(ctx context.Context, b *domain.Bot) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	if b.ID == 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO bots (user_id, symbol, grid_type, lower_price, upper_price, grid_levels,
				starting_price, flat_spread, flat_increment, buy_orders_count, sell_orders_count,
				order_size, investment_amount, status, created_at, started_at, stopped_at, last_activity_at,
				total_profit, total_profit_percent, completed_cycles, total_buy_orders, total_sell_orders,
				last_notified_milestone)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
			RETURNING id`,
			b.UserID, b.Symbol, string(b.GridType), b.LowerPrice.String(), b.UpperPrice.String(), b.GridLevels,
			b.StartingPrice.String(), b.FlatSpread.String(), b.FlatIncrement.String(), b.BuyOrdersCount, b.SellOrdersCount,
			b.OrderSize.String(), b.InvestmentAmount.String(), string(b.Status), b.CreatedAt.Unix(),
			nullableUnix(b.StartedAt), nullableUnix(b.StoppedAt), nullableUnix(b.LastActivityAt),
			b.TotalProfit.String(), b.TotalProfitPercent.String(), b.CompletedCycles, b.TotalBuyOrders,
			b.TotalSellOrders, b.LastNotifiedMilestone).Scan(&b.ID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE bots SET symbol=$2, grid_type=$3, lower_price=$4, upper_price=$5, grid_levels=$6,
				starting_price=$7, flat_spread=$8, flat_increment=$9, buy_orders_count=$10,
				sell_orders_count=$11, order_size=$12, investment_amount=$13, status=$14,
				started_at=$15, stopped_at=$16, last_activity_at=$17, total_profit=$18,
				total_profit_percent=$19, completed_cycles=$20, total_buy_orders=$21,
				total_sell_orders=$22, last_notified_milestone=$23
			WHERE id=$1`,
			b.ID, b.Symbol, string(b.GridType), b.LowerPrice.String(), b.UpperPrice.String(), b.GridLevels,
			b.StartingPrice.String(), b.FlatSpread.String(), b.FlatIncrement.String(), b.BuyOrdersCount, b.SellOrdersCount,
			b.OrderSize.String(), b.InvestmentAmount.String(), string(b.Status),
			nullableUnix(b.StartedAt), nullableUnix(b.StoppedAt), nullableUnix(b.LastActivityAt),
			b.TotalProfit.String(), b.TotalProfitPercent.String(), b.CompletedCycles, b.TotalBuyOrders,
			b.TotalSellOrders, b.LastNotifiedMilestone)
	}
	if err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	return tx.Commit(ctx)
}

const botSelect = `SELECT id, user_id, symbol, grid_type, lower_price, upper_price, grid_levels,
	starting_price, flat_spread, flat_increment, buy_orders_count, sell_orders_count, order_size,
	investment_amount, status, created_at, started_at, stopped_at, last_activity_at, total_profit,
	total_profit_percent, completed_cycles, total_buy_orders, total_sell_orders, last_notified_milestone
	FROM bots`

func (s *Store) GetBot(ctx context.Context, id int64) (*domain.Bot, error) {
	b, err := scanBot(s.pool.QueryRow(ctx, botSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return b, err
}

func (s *Store) ListActiveBots(ctx context.Context) ([]*domain.Bot, error) {
	return queryBots(ctx, s.pool, botSelect+" WHERE status = $1", string(domain.BotActive))
}

func (s *Store) ListBotsByUser(ctx context.Context, userID int64) ([]*domain.Bot, error) {
	return queryBots(ctx, s.pool, botSelect+" WHERE user_id = $1 ORDER BY id", userID)
}

func (s *Store) DeleteBot(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM bots WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	return nil
}

func queryBots(ctx context.Context, pool *pgxpool.Pool, query string, args ...interface{}) ([]*domain.Bot, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []*domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func scanBot(row pgx.Row) (*domain.Bot, error) {
	var b domain.Bot
	var gridType, status, lower, upper, starting, spread, increment, orderSize, investment string
	var totalProfit, totalProfitPct string
	var created int64
	var started, stopped, lastActivity *int64

	err := row.Scan(&b.ID, &b.UserID, &b.Symbol, &gridType, &lower, &upper, &b.GridLevels,
		&starting, &spread, &increment, &b.BuyOrdersCount, &b.SellOrdersCount, &orderSize,
		&investment, &status, &created, &started, &stopped, &lastActivity, &totalProfit,
		&totalProfitPct, &b.CompletedCycles, &b.TotalBuyOrders, &b.TotalSellOrders, &b.LastNotifiedMilestone)
	if err != nil {
		return nil, fmt.Errorf("scan bot: %w", err)
	}

	b.GridType = domain.GridType(gridType)
	b.Status = domain.BotStatus(status)
	b.LowerPrice, _ = decimal.NewFromString(lower)
	b.UpperPrice, _ = decimal.NewFromString(upper)
	b.StartingPrice, _ = decimal.NewFromString(starting)
	b.FlatSpread, _ = decimal.NewFromString(spread)
	b.FlatIncrement, _ = decimal.NewFromString(increment)
	b.OrderSize, _ = decimal.NewFromString(orderSize)
	b.InvestmentAmount, _ = decimal.NewFromString(investment)
	b.TotalProfit, _ = decimal.NewFromString(totalProfit)
	b.TotalProfitPercent, _ = decimal.NewFromString(totalProfitPct)
	b.CreatedAt = time.Unix(created, 0)
	b.StartedAt = nullableTime(started)
	b.StoppedAt = nullableTime(stopped)
	b.LastActivityAt = nullableTime(lastActivity)
	return &b, nil
}

func (s *Store) SaveOrder(ctx context.Context, o *domain.Order) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.UpdatedAt = time.Now()

	var profit *string
	if o.Profit != nil {
		v := o.Profit.String()
		profit = &v
	}

	if o.ID == 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO orders (bot_id, exchange_order_id, side, order_type, level, price, amount, total,
				status, fee, fee_currency, paired_order_id, profit, created_at, filled_at, cancelled_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			RETURNING id`,
			o.BotID, o.ExchangeOrderID, string(o.Side), o.OrderType, o.Level, o.Price.String(),
			o.Amount.String(), o.Total.String(), string(o.Status), o.Fee.String(), o.FeeCurrency,
			o.PairedOrderID, profit, o.CreatedAt.Unix(), nullableUnix(o.FilledAt), nullableUnix(o.CancelledAt),
			o.UpdatedAt.Unix()).Scan(&o.ID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE orders SET exchange_order_id=$2, status=$3, fee=$4, fee_currency=$5,
				paired_order_id=$6, profit=$7, filled_at=$8, cancelled_at=$9, updated_at=$10
			WHERE id=$1`,
			o.ID, o.ExchangeOrderID, string(o.Status), o.Fee.String(), o.FeeCurrency,
			o.PairedOrderID, profit, nullableUnix(o.FilledAt), nullableUnix(o.CancelledAt), o.UpdatedAt.Unix())
	}
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return tx.Commit(ctx)
}

const orderSelect = `SELECT id, bot_id, exchange_order_id, side, order_type, level, price, amount, total,
	status, fee, fee_currency, paired_order_id, profit, created_at, filled_at, cancelled_at, updated_at
	FROM orders`

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, orderSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return o, err
}

// GetOrderByPairedID returns the counter order already placed against
// pairedOrderID, or store.ErrNotFound if none has been placed yet. Used
// to make counter-order creation idempotent against a redispatch of the
// same fill.
func (s *Store) GetOrderByPairedID(ctx context.Context, pairedOrderID int64) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, orderSelect+" WHERE paired_order_id = $1", pairedOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return o, err
}

func (s *Store) GetOpenOrders(ctx context.Context, botID int64) ([]*domain.Order, error) {
	return queryOrders(ctx, s.pool, orderSelect+" WHERE bot_id = $1 AND status = $2", botID, string(domain.OrderOpen))
}

func (s *Store) GetOrdersByBot(ctx context.Context, botID int64) ([]*domain.Order, error) {
	return queryOrders(ctx, s.pool, orderSelect+" WHERE bot_id = $1 ORDER BY id", botID)
}

func (s *Store) DeleteOrdersForBot(ctx context.Context, botID int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM orders WHERE bot_id = $1", botID)
	if err != nil {
		return fmt.Errorf("delete orders: %w", err)
	}
	return nil
}

func queryOrders(ctx context.Context, pool *pgxpool.Pool, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var side, status, price, amount, total, fee string
	var created, updated int64
	var paired *int64
	var profit *string
	var filled, cancelled *int64

	err := row.Scan(&o.ID, &o.BotID, &o.ExchangeOrderID, &side, &o.OrderType, &o.Level, &price, &amount,
		&total, &status, &fee, &o.FeeCurrency, &paired, &profit, &created, &filled, &cancelled, &updated)
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.Price, _ = decimal.NewFromString(price)
	o.Amount, _ = decimal.NewFromString(amount)
	o.Total, _ = decimal.NewFromString(total)
	o.Fee, _ = decimal.NewFromString(fee)
	o.CreatedAt = time.Unix(created, 0)
	o.UpdatedAt = time.Unix(updated, 0)
	o.FilledAt = nullableTime(filled)
	o.CancelledAt = nullableTime(cancelled)
	o.PairedOrderID = paired
	if profit != nil {
		p, _ := decimal.NewFromString(*profit)
		o.Profit = &p
	}
	return &o, nil
}

func (s *Store) AppendLog(ctx context.Context, l *domain.Log) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO logs (user_id, bot_id, level, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`, l.UserID, l.BotID, string(l.Level), l.Message, l.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *Store) DeleteLogsForBot(ctx context.Context, botID int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM logs WHERE bot_id = $1", botID)
	if err != nil {
		return fmt.Errorf("delete logs: %w", err)
	}
	return nil
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableTime(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(*n, 0)
	return &t
}

var _ store.Store = (*Store)(nil)
