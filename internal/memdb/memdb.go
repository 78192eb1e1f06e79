// Package memdb is an in-process store.Store. Transactions are serialized
// by a single store-wide mutex and run against a staged copy of the state,
// which replaces the live state on commit and is dropped on rollback. Every
// Lock* accessor is therefore trivially exclusive.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

type assetKey struct {
	userID int64
	symbol string
}

type state struct {
	users     map[int64]models.User
	usernames map[string]int64
	assets    map[assetKey]models.Asset
	orders    map[int64]models.Order
	trades    []models.Trade

	lastUserID  int64
	lastOrderID int64
	lastTradeID int64
}

func newState() *state {
	return &state{
		users:     make(map[int64]models.User),
		usernames: make(map[string]int64),
		assets:    make(map[assetKey]models.Asset),
		orders:    make(map[int64]models.Order),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:       make(map[int64]models.User, len(s.users)),
		usernames:   make(map[string]int64, len(s.usernames)),
		assets:      make(map[assetKey]models.Asset, len(s.assets)),
		orders:      make(map[int64]models.Order, len(s.orders)),
		trades:      make([]models.Trade, len(s.trades)),
		lastUserID:  s.lastUserID,
		lastOrderID: s.lastOrderID,
		lastTradeID: s.lastTradeID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.usernames {
		c.usernames[k] = v
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	copy(c.trades, s.trades)
	return c
}

// DB is an in-memory store
type DB struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ store.Store = (*DB)(nil)

// New returns an empty store
func New() *DB {
	return &DB{st: newState(), now: time.Now}
}

// WithTx runs fn against a staged copy of the state and publishes it only
// if fn succeeds
func (db *DB) WithTx(ctx context.Context, fn store.TxFunc) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := db.st.clone()
	if err := fn(ctx, &memTx{st: staged, now: db.now}); err != nil {
		return err
	}
	db.st = staged
	return nil
}

func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.st.usernames[username]; ok {
		return nil, fmt.Errorf("failed to create user %q: %w", username, store.ErrDuplicate)
	}
	db.st.lastUserID++
	user := models.User{
		ID:           db.st.lastUserID,
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      decimal.Zero,
		CreatedAt:    db.now(),
	}
	db.st.users[user.ID] = user
	db.st.usernames[username] = user.ID
	return &user, nil
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id, ok := db.st.usernames[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	user := db.st.users[id]
	return &user, nil
}

func (db *DB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, ok := db.st.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return &user, nil
}

func (db *DB) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	order, ok := db.st.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	return &order, nil
}

func (db *DB) OpenOrders(ctx context.Context, symbol string, side models.Side) ([]models.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	orders := []models.Order{}
	for _, o := range db.st.orders {
		if o.Symbol == symbol && o.Side == side && o.Status == models.StatusOpen {
			orders = append(orders, o)
		}
	}
	sortBook(orders, side)
	return orders, nil
}

func (db *DB) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	orders := []models.Order{}
	for _, o := range db.st.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (db *DB) GetUserAssets(ctx context.Context, userID int64) ([]models.Asset, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	assets := []models.Asset{}
	for k, a := range db.st.assets {
		if k.userID == userID {
			assets = append(assets, a)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets, nil
}

func (db *DB) GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	trades := []models.Trade{}
	for _, t := range db.st.trades {
		if db.st.orders[t.BuyOrderID].UserID == userID || db.st.orders[t.SellOrderID].UserID == userID {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

// sortBook orders one side of a book by price priority, then time priority
func sortBook(orders []models.Order, side models.Side) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.Price.Equal(b.Price) {
			if side == models.Buy {
				return a.Price.GreaterThan(b.Price)
			}
			return a.Price.LessThan(b.Price)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
