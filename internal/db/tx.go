package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/money"
	"github.com/xtrntr/spotex/internal/store"

	"github.com/jackc/pgx/v5"
)

const (
	userColumns  = "id, username, password_hash, balance::text, created_at"
	assetColumns = "user_id, symbol, amount::text, locked_amount::text"
	orderColumns = "id, user_id, symbol, side, price::text, amount::text, status, created_at"
	tradeColumns = "id, buy_order_id, sell_order_id, symbol, price::text, amount::text, commission::text, executed_at"
)

// pgTx implements store.Tx on top of a pgx transaction. Every Lock* method
// is a SELECT ... FOR UPDATE.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock user %d: %w", userID, classify(err))
	}
	return user, nil
}

func (t *pgTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, "UPDATE users SET balance = $1 WHERE id = $2", money.String(balance), userID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) LockAsset(ctx context.Context, userID int64, symbol string) (*models.Asset, error) {
	asset, err := scanAsset(t.tx.QueryRow(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE user_id = $1 AND symbol = $2 FOR UPDATE",
		userID, symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to lock asset %s of user %d: %w", symbol, userID, classify(err))
	}
	return asset, nil
}

func (t *pgTx) LockOrCreateAsset(ctx context.Context, userID int64, symbol string) (*models.Asset, error) {
	// Two transactions racing to create the same holding both end up locking
	// the single row the insert leaves behind.
	_, err := t.tx.Exec(ctx,
		"INSERT INTO assets (user_id, symbol) VALUES ($1, $2) ON CONFLICT (user_id, symbol) DO NOTHING",
		userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset %s of user %d: %w", symbol, userID, classify(err))
	}
	return t.LockAsset(ctx, userID, symbol)
}

func (t *pgTx) SaveAsset(ctx context.Context, asset *models.Asset) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE assets SET amount = $1, locked_amount = $2 WHERE user_id = $3 AND symbol = $4",
		money.String(asset.Amount), money.String(asset.LockedAmount), asset.UserID, asset.Symbol)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %s of user %d: %w", asset.Symbol, asset.UserID, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	created, err := scanOrder(t.tx.QueryRow(ctx,
		"INSERT INTO orders (user_id, symbol, side, price, amount, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+orderColumns,
		order.UserID, order.Symbol, string(order.Side), money.String(order.Price), money.String(order.Amount), string(order.Status)))
	if err != nil {
		return fmt.Errorf("failed to create order: %w", classify(err))
	}
	*order = *created
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", orderID, classify(err))
	}
	return order, nil
}

func (t *pgTx) LockBestCounter(ctx context.Context, taker *models.Order) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders " +
		"WHERE symbol = $1 AND side = $2 AND status = 'open' "
	if taker.Side == models.Buy {
		query += "AND price <= $3 ORDER BY price ASC, created_at ASC, id ASC "
	} else {
		query += "AND price >= $3 ORDER BY price DESC, created_at ASC, id ASC "
	}
	query += "LIMIT 1 FOR UPDATE"

	order, err := scanOrder(t.tx.QueryRow(ctx, query,
		taker.Symbol, string(taker.Side.Opposite()), money.String(taker.Price)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock counter order: %w", classify(err))
	}
	return order, nil
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2 AND status = 'open'", string(status), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", classify(err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = t.tx.QueryRow(ctx, "SELECT status FROM orders WHERE id = $1", orderID).Scan(&current)
	if err != nil {
		return fmt.Errorf("order %d: %w", orderID, classify(err))
	}
	return fmt.Errorf("order %d is %s: %w", orderID, current, store.ErrNotOpen)
}

func (t *pgTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	created, err := scanTrade(t.tx.QueryRow(ctx,
		"INSERT INTO trades (buy_order_id, sell_order_id, symbol, price, amount, commission) VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+tradeColumns,
		trade.BuyOrderID, trade.SellOrderID, trade.Symbol,
		money.String(trade.Price), money.String(trade.Amount), money.String(trade.Commission)))
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", classify(err))
	}
	*trade = *created
	return nil
}

// NUMERIC columns are selected as text and parsed, so no precision is lost
// to float conversion.
func parseDecimals(dst []*decimal.Decimal, src []string) error {
	for i, s := range src {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("failed to parse numeric %q: %w", s, err)
		}
		*dst[i] = d
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var balance string
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &balance, &user.CreatedAt); err != nil {
		return nil, err
	}
	if err := parseDecimals([]*decimal.Decimal{&user.Balance}, []string{balance}); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var asset models.Asset
	var amount, locked string
	if err := row.Scan(&asset.UserID, &asset.Symbol, &amount, &locked); err != nil {
		return nil, err
	}
	if err := parseDecimals([]*decimal.Decimal{&asset.Amount, &asset.LockedAmount}, []string{amount, locked}); err != nil {
		return nil, err
	}
	return &asset, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var side, status, price, amount string
	if err := row.Scan(&order.ID, &order.UserID, &order.Symbol, &side, &price, &amount, &status, &order.CreatedAt); err != nil {
		return nil, err
	}
	order.Side = models.Side(side)
	order.Status = models.OrderStatus(status)
	if err := parseDecimals([]*decimal.Decimal{&order.Price, &order.Amount}, []string{price, amount}); err != nil {
		return nil, err
	}
	return &order, nil
}

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var trade models.Trade
	var price, amount, commission string
	if err := row.Scan(&trade.ID, &trade.BuyOrderID, &trade.SellOrderID, &trade.Symbol,
		&price, &amount, &commission, &trade.ExecutedAt); err != nil {
		return nil, err
	}
	if err := parseDecimals([]*decimal.Decimal{&trade.Price, &trade.Amount, &trade.Commission},
		[]string{price, amount, commission}); err != nil {
		return nil, err
	}
	return &trade, nil
}
