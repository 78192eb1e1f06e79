// Package store defines the persistence contracts the exchange core runs
// against. Every mutating call happens inside a Tx; row accessors named
// Lock* take an exclusive lock that is held until the Tx ends.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
)

var (
	// ErrNotFound is returned when a referenced user, order or asset row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on lock timeouts, deadlocks and serialization
	// failures. The whole operation can be retried from scratch.
	ErrConflict = errors.New("transient conflict")
	// ErrDuplicate is returned when a unique key (username) is already taken.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotOpen is returned when a filled or cancelled order would change status.
	ErrNotOpen = errors.New("order not open")
	// ErrOutOfRange is returned when a value does not fit the storage precision.
	ErrOutOfRange = errors.New("value out of range")
)

// TxFunc is the body of a transaction. Returning an error rolls back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the single source of truth for balances, holdings, orders and trades.
type Store interface {
	// WithTx runs fn in one atomic transaction. It commits when fn returns
	// nil and rolls back otherwise.
	WithTx(ctx context.Context, fn TxFunc) error

	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	Queries
}

// Queries is the read-only surface. It never takes row locks.
type Queries interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	// OpenOrders returns open orders for symbol on side, best price first
	// (buy descending, sell ascending), then earliest first.
	OpenOrders(ctx context.Context, symbol string, side models.Side) ([]models.Order, error)
	GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error)
	// GetUserAssets returns holdings ordered by symbol.
	GetUserAssets(ctx context.Context, userID int64) ([]models.Asset, error)
	GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error)
}

// Tx is one transaction over both stores.
type Tx interface {
	LedgerTx
	OrderBookTx
}

// LedgerTx covers cash balances and asset holdings.
type LedgerTx interface {
	LockUser(ctx context.Context, userID int64) (*models.User, error)
	SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error
	// LockAsset returns ErrNotFound when the user has no holding of symbol.
	LockAsset(ctx context.Context, userID int64, symbol string) (*models.Asset, error)
	// LockOrCreateAsset creates a zero holding when absent.
	LockOrCreateAsset(ctx context.Context, userID int64, symbol string) (*models.Asset, error)
	SaveAsset(ctx context.Context, asset *models.Asset) error
}

// OrderBookTx covers orders and trades.
type OrderBookTx interface {
	// InsertOrder assigns ID and CreatedAt.
	InsertOrder(ctx context.Context, order *models.Order) error
	LockOrder(ctx context.Context, orderID int64) (*models.Order, error)
	// LockBestCounter locks and returns the best open order on the opposite
	// side of taker that crosses its price, by price then time priority.
	// It returns nil, nil when no order crosses.
	LockBestCounter(ctx context.Context, taker *models.Order) (*models.Order, error)
	// SetOrderStatus moves an open order to status. Terminal orders are
	// immutable: it returns ErrNotOpen for them and ErrNotFound for a missing
	// order.
	SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
	// InsertTrade assigns ID and ExecutedAt.
	InsertTrade(ctx context.Context, trade *models.Trade) error
}
