package memdb

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) LockUser(ctx context.Context, userID int64) (*models.User, error) {
	user, ok := t.st.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return &user, nil
}

func (t *memTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	user, ok := t.st.users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	if balance.IsNegative() {
		return fmt.Errorf("user %d: negative balance %s", userID, balance)
	}
	user.Balance = balance
	t.st.users[userID] = user
	return nil
}

func (t *memTx) LockAsset(ctx context.Context, userID int64, symbol string) (*models.Asset, error) {
	asset, ok := t.st.assets[assetKey{userID, symbol}]
	if !ok {
		return nil, fmt.Errorf("asset %s of user %d: %w", symbol, userID, store.ErrNotFound)
	}
	return &asset, nil
}

func (t *memTx) LockOrCreateAsset(ctx context.Context, userID int64, symbol string) (*models.Asset, error) {
	if _, ok := t.st.users[userID]; !ok {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	key := assetKey{userID, symbol}
	asset, ok := t.st.assets[key]
	if !ok {
		asset = models.Asset{UserID: userID, Symbol: symbol, Amount: decimal.Zero, LockedAmount: decimal.Zero}
		t.st.assets[key] = asset
	}
	return &asset, nil
}

func (t *memTx) SaveAsset(ctx context.Context, asset *models.Asset) error {
	key := assetKey{asset.UserID, asset.Symbol}
	if _, ok := t.st.assets[key]; !ok {
		return fmt.Errorf("asset %s of user %d: %w", asset.Symbol, asset.UserID, store.ErrNotFound)
	}
	if asset.Amount.IsNegative() || asset.LockedAmount.IsNegative() {
		return fmt.Errorf("asset %s of user %d: negative holding", asset.Symbol, asset.UserID)
	}
	t.st.assets[key] = *asset
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if _, ok := t.st.users[order.UserID]; !ok {
		return fmt.Errorf("user %d: %w", order.UserID, store.ErrNotFound)
	}
	t.st.lastOrderID++
	order.ID = t.st.lastOrderID
	order.CreatedAt = t.now()
	t.st.orders[order.ID] = *order
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, ok := t.st.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	return &order, nil
}

func (t *memTx) LockBestCounter(ctx context.Context, taker *models.Order) (*models.Order, error) {
	side := taker.Side.Opposite()
	var candidates []models.Order
	for _, o := range t.st.orders {
		if o.Symbol != taker.Symbol || o.Side != side || o.Status != models.StatusOpen {
			continue
		}
		if taker.Side == models.Buy && o.Price.GreaterThan(taker.Price) {
			continue
		}
		if taker.Side == models.Sell && o.Price.LessThan(taker.Price) {
			continue
		}
		candidates = append(candidates, o)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortBook(candidates, side)
	best := candidates[0]
	return &best, nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	order, ok := t.st.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("order %d is %s: %w", orderID, order.Status, store.ErrNotOpen)
	}
	order.Status = status
	t.st.orders[orderID] = order
	return nil
}

func (t *memTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	t.st.lastTradeID++
	trade.ID = t.st.lastTradeID
	trade.ExecutedAt = t.now()
	t.st.trades = append(t.st.trades, *trade)
	return nil
}
