// Package store defines the persistence surface: a narrow interface over
// four relational tables (users, bots, orders, logs) so
// internal/strategy, internal/botmanager, internal/monitor, and
// internal/health depend on behavior, not a concrete database driver.
package store

import (
	"context"

	"gridcore/internal/domain"
)

// Store is the persistence capability interface. Each method call
// commits in its own transaction; callers that must make several writes
// appear atomic (e.g. counter-order creation on fill) are responsible for
// making the sequence idempotent against a retry or crash mid-sequence.
type Store interface {
	SaveUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*domain.User, error)

	SaveBot(ctx context.Context, b *domain.Bot) error
	GetBot(ctx context.Context, id int64) (*domain.Bot, error)
	ListActiveBots(ctx context.Context) ([]*domain.Bot, error)
	ListBotsByUser(ctx context.Context, userID int64) ([]*domain.Bot, error)
	DeleteBot(ctx context.Context, id int64) error

	SaveOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	GetOrderByPairedID(ctx context.Context, pairedOrderID int64) (*domain.Order, error)
	GetOpenOrders(ctx context.Context, botID int64) ([]*domain.Order, error)
	GetOrdersByBot(ctx context.Context, botID int64) ([]*domain.Order, error)
	DeleteOrdersForBot(ctx context.Context, botID int64) error

	AppendLog(ctx context.Context, l *domain.Log) error
	DeleteLogsForBot(ctx context.Context, botID int64) error

	Close() error
}

// ErrNotFound is returned by Get* methods when the row does not exist.
var ErrNotFound = notFoundErr{}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "store: not found" }
