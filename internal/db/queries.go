package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/spotex/internal/models"

	"github.com/jackc/pgx/v5"
)

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, classify(err))
	}
	return user, nil
}

// GetOrder retrieves an order by id
func (db *DB) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, classify(err))
	}
	return order, nil
}

// OpenOrders retrieves one side of a symbol's book, best price first
func (db *DB) OpenOrders(ctx context.Context, symbol string, side models.Side) ([]models.Order, error) {
	direction := "ASC"
	if side == models.Buy {
		direction = "DESC"
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders "+
			"WHERE symbol = $1 AND side = $2 AND status = 'open' "+
			"ORDER BY price "+direction+", created_at ASC, id ASC",
		symbol, string(side))
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", classify(err))
	}
	return collectOrders(rows)
}

// GetUserOrders retrieves all orders for a user
func (db *DB) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", classify(err))
	}
	return collectOrders(rows)
}

// GetUserAssets retrieves a user's holdings ordered by symbol
func (db *DB) GetUserAssets(ctx context.Context, userID int64) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE user_id = $1 ORDER BY symbol ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user assets: %w", classify(err))
	}
	defer rows.Close()

	assets := []models.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, *asset)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return assets, nil
}

// GetUserTrades retrieves every trade on either side of which the user had an order
func (db *DB) GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades t "+
			"WHERE EXISTS (SELECT 1 FROM orders o WHERE o.user_id = $1 AND o.id IN (t.buy_order_id, t.sell_order_id)) "+
			"ORDER BY t.id ASC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", classify(err))
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return trades, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return orders, nil
}
