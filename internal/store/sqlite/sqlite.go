// Package sqlite is the default store.Store implementation: WAL-mode
// bootstrap and a serializable-transaction write pattern over four
// relational tables (users, bots, orders, logs).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gridcore/internal/domain"
	"gridcore/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL UNIQUE,
	api_key TEXT NOT NULL DEFAULT '',
	api_secret TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	notifications_enabled INTEGER NOT NULL DEFAULT 1,
	notify_order_filled INTEGER NOT NULL DEFAULT 1,
	notify_profit INTEGER NOT NULL DEFAULT 1,
	notify_errors INTEGER NOT NULL DEFAULT 1,
	profit_notify_percent TEXT NOT NULL DEFAULT '5'
);

CREATE TABLE IF NOT EXISTS bots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
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
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	stopped_at INTEGER,
	last_activity_at INTEGER,
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_id INTEGER NOT NULL,
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
	paired_order_id INTEGER,
	profit TEXT,
	created_at INTEGER NOT NULL,
	filled_at INTEGER,
	cancelled_at INTEGER,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_exchange_id ON orders(exchange_order_id) WHERE exchange_order_id != '';
CREATE INDEX IF NOT EXISTS idx_orders_bot_status ON orders(bot_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_paired ON orders(paired_order_id) WHERE paired_order_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	bot_id INTEGER,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_bot ON logs(bot_id);
`

// Store is the sqlite-backed store.Store implementation.
type Store struct {
	db *sql.DB
}

// Open builds a Store, running the embedded schema migration and
// enabling WAL mode.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveUser(ctx context.Context, u *domain.User) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, chat_id, api_key, api_secret, created_at, updated_at, last_active,
			notifications_enabled, notify_order_filled, notify_profit, notify_errors, profit_notify_percent)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			api_key=excluded.api_key, api_secret=excluded.api_secret, updated_at=excluded.updated_at,
			last_active=excluded.last_active, notifications_enabled=excluded.notifications_enabled,
			notify_order_filled=excluded.notify_order_filled, notify_profit=excluded.notify_profit,
			notify_errors=excluded.notify_errors, profit_notify_percent=excluded.profit_notify_percent`,
		u.ID, u.ChatID, u.APIKey, u.APISecret, u.CreatedAt.Unix(), u.UpdatedAt.Unix(), u.LastActive.Unix(),
		boolToInt(u.NotificationsEnabled), boolToInt(u.NotifyOrderFilled), boolToInt(u.NotifyProfit),
		boolToInt(u.NotifyErrors), u.ProfitNotifyPercent.String())
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if u.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read last insert id: %w", err)
		}
		u.ID = id
	}
	return tx.Commit()
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userSelect+" WHERE id = ?", id))
}

func (s *Store) GetUserByChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, userSelect+" WHERE chat_id = ?", chatID))
}

const userSelect = `SELECT id, chat_id, api_key, api_secret, created_at, updated_at, last_active,
	notifications_enabled, notify_order_filled, notify_profit, notify_errors, profit_notify_percent FROM users`

func (s *Store) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var created, updated, lastActive int64
	var notif, notifFill, notifProfit, notifErr int
	var profitPct string
	err := row.Scan(&u.ID, &u.ChatID, &u.APIKey, &u.APISecret, &created, &updated, &lastActive,
		&notif, &notifFill, &notifProfit, &notifErr, &profitPct)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0)
	u.UpdatedAt = time.Unix(updated, 0)
	u.LastActive = time.Unix(lastActive, 0)
	u.NotificationsEnabled = notif != 0
	u.NotifyOrderFilled = notifFill != 0
	u.NotifyProfit = notifProfit != 0
	u.NotifyErrors = notifErr != 0
	u.ProfitNotifyPercent, _ = decimal.NewFromString(profitPct)
	return &u, nil
}

func (s *Store) SaveBot(ctx context.Context, b *domain.Bot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO bots (id, user_id, symbol, grid_type, lower_price, upper_price, grid_levels,
			starting_price, flat_spread, flat_increment, buy_orders_count, sell_orders_count,
			order_size, investment_amount, status, created_at, started_at, stopped_at, last_activity_at,
			total_profit, total_profit_percent, completed_cycles, total_buy_orders, total_sell_orders,
			last_notified_milestone)
		VALUES (NULLIF(?,0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol=excluded.symbol, grid_type=excluded.grid_type, lower_price=excluded.lower_price,
			upper_price=excluded.upper_price, grid_levels=excluded.grid_levels,
			starting_price=excluded.starting_price, flat_spread=excluded.flat_spread,
			flat_increment=excluded.flat_increment, buy_orders_count=excluded.buy_orders_count,
			sell_orders_count=excluded.sell_orders_count, order_size=excluded.order_size,
			investment_amount=excluded.investment_amount, status=excluded.status,
			started_at=excluded.started_at, stopped_at=excluded.stopped_at,
			last_activity_at=excluded.last_activity_at, total_profit=excluded.total_profit,
			total_profit_percent=excluded.total_profit_percent, completed_cycles=excluded.completed_cycles,
			total_buy_orders=excluded.total_buy_orders, total_sell_orders=excluded.total_sell_orders,
			last_notified_milestone=excluded.last_notified_milestone`,
		b.ID, b.UserID, b.Symbol, string(b.GridType), b.LowerPrice.String(), b.UpperPrice.String(), b.GridLevels,
		b.StartingPrice.String(), b.FlatSpread.String(), b.FlatIncrement.String(), b.BuyOrdersCount, b.SellOrdersCount,
		b.OrderSize.String(), b.InvestmentAmount.String(), string(b.Status), b.CreatedAt.Unix(),
		nullableUnix(b.StartedAt), nullableUnix(b.StoppedAt), nullableUnix(b.LastActivityAt),
		b.TotalProfit.String(), b.TotalProfitPercent.String(), b.CompletedCycles, b.TotalBuyOrders,
		b.TotalSellOrders, b.LastNotifiedMilestone)
	if err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	if b.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read last insert id: %w", err)
		}
		b.ID = id
	}
	return tx.Commit()
}

const botSelect = `SELECT id, user_id, symbol, grid_type, lower_price, upper_price, grid_levels,
	starting_price, flat_spread, flat_increment, buy_orders_count, sell_orders_count, order_size,
	investment_amount, status, created_at, started_at, stopped_at, last_activity_at, total_profit,
	total_profit_percent, completed_cycles, total_buy_orders, total_sell_orders, last_notified_milestone
	FROM bots`

func (s *Store) GetBot(ctx context.Context, id int64) (*domain.Bot, error) {
	return scanBot(s.db.QueryRowContext(ctx, botSelect+" WHERE id = ?", id))
}

func (s *Store) ListActiveBots(ctx context.Context) ([]*domain.Bot, error) {
	return queryBots(ctx, s.db, botSelect+" WHERE status = ?", string(domain.BotActive))
}

func (s *Store) ListBotsByUser(ctx context.Context, userID int64) ([]*domain.Bot, error) {
	return queryBots(ctx, s.db, botSelect+" WHERE user_id = ? ORDER BY id", userID)
}

func (s *Store) DeleteBot(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM bots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	return nil
}

func queryBots(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*domain.Bot, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []*domain.Bot
	for rows.Next() {
		b, err := scanBotRow(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(row rowScanner) (*domain.Bot, error) {
	b, err := scanBotRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return b, err
}

func scanBotRow(row rowScanner) (*domain.Bot, error) {
	var b domain.Bot
	var gridType, status, lower, upper, starting, spread, increment, orderSize, investment string
	var totalProfit, totalProfitPct string
	var created int64
	var started, stopped, lastActivity sql.NullInt64

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
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.UpdatedAt = time.Now()

	var profit sql.NullString
	if o.Profit != nil {
		profit = sql.NullString{String: o.Profit.String(), Valid: true}
	}
	var paired sql.NullInt64
	if o.PairedOrderID != nil {
		paired = sql.NullInt64{Int64: *o.PairedOrderID, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, bot_id, exchange_order_id, side, order_type, level, price, amount, total,
			status, fee, fee_currency, paired_order_id, profit, created_at, filled_at, cancelled_at, updated_at)
		VALUES (NULLIF(?,0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exchange_order_id=excluded.exchange_order_id, status=excluded.status, fee=excluded.fee,
			fee_currency=excluded.fee_currency, paired_order_id=excluded.paired_order_id,
			profit=excluded.profit, filled_at=excluded.filled_at, cancelled_at=excluded.cancelled_at,
			updated_at=excluded.updated_at`,
		o.ID, o.BotID, o.ExchangeOrderID, string(o.Side), o.OrderType, o.Level, o.Price.String(),
		o.Amount.String(), o.Total.String(), string(o.Status), o.Fee.String(), o.FeeCurrency,
		paired, profit, o.CreatedAt.Unix(), nullableUnix(o.FilledAt), nullableUnix(o.CancelledAt), o.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	if o.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read last insert id: %w", err)
		}
		o.ID = id
	}
	return tx.Commit()
}

const orderSelect = `SELECT id, bot_id, exchange_order_id, side, order_type, level, price, amount, total,
	status, fee, fee_currency, paired_order_id, profit, created_at, filled_at, cancelled_at, updated_at
	FROM orders`

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := scanOrderRow(s.db.QueryRowContext(ctx, orderSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return o, err
}

// GetOrderByPairedID returns the counter order already placed against
// pairedOrderID, or store.ErrNotFound if none has been placed yet. Used
// to make counter-order creation idempotent against a redispatch of the
// same fill.
func (s *Store) GetOrderByPairedID(ctx context.Context, pairedOrderID int64) (*domain.Order, error) {
	o, err := scanOrderRow(s.db.QueryRowContext(ctx, orderSelect+" WHERE paired_order_id = ?", pairedOrderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return o, err
}

func (s *Store) GetOpenOrders(ctx context.Context, botID int64) ([]*domain.Order, error) {
	return queryOrders(ctx, s.db, orderSelect+" WHERE bot_id = ? AND status = ?", botID, string(domain.OrderOpen))
}

func (s *Store) GetOrdersByBot(ctx context.Context, botID int64) ([]*domain.Order, error) {
	return queryOrders(ctx, s.db, orderSelect+" WHERE bot_id = ? ORDER BY id", botID)
}

func (s *Store) DeleteOrdersForBot(ctx context.Context, botID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE bot_id = ?", botID)
	if err != nil {
		return fmt.Errorf("delete orders: %w", err)
	}
	return nil
}

func queryOrders(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrderRow(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var side, status, price, amount, total, fee string
	var created, updated int64
	var paired sql.NullInt64
	var profit sql.NullString
	var filled, cancelled sql.NullInt64

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
	if paired.Valid {
		o.PairedOrderID = &paired.Int64
	}
	if profit.Valid {
		p, _ := decimal.NewFromString(profit.String)
		o.Profit = &p
	}
	return &o, nil
}

func (s *Store) AppendLog(ctx context.Context, l *domain.Log) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	var botID sql.NullInt64
	if l.BotID != nil {
		botID = sql.NullInt64{Int64: *l.BotID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO logs (user_id, bot_id, level, message, created_at)
		VALUES (?, ?, ?, ?, ?)`, l.UserID, botID, string(l.Level), l.Message, l.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *Store) DeleteLogsForBot(ctx context.Context, botID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE bot_id = ?", botID)
	if err != nil {
		return fmt.Errorf("delete logs: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0)
	return &t
}

var _ store.Store = (*Store)(nil)
