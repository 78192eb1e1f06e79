// Package exchange is the order lifecycle, matching and settlement core.
// Every placement and cancellation runs in one store transaction; the store
// is the only authoritative order book.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/money"
	"github.com/xtrntr/spotex/internal/store"
	"go.uber.org/zap"
)

// Notifier receives one Fill per filled order once the settling
// transaction has committed. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, fill models.Fill) error
}

// Service places, matches, settles and cancels orders
type Service struct {
	store    store.Store
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a new exchange service
func NewService(st store.Store, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, notifier: notifier, logger: logger}
}

// PlaceOrderRequest is a limit order from an already authenticated user
type PlaceOrderRequest struct {
	UserID int64
	Symbol string
	Side   models.Side
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// PlaceOrderResult is the stored order and, when it crossed immediately,
// the resulting trade
type PlaceOrderResult struct {
	Order models.Order
	Trade *models.Trade
}

func (r PlaceOrderRequest) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: side must be 'buy' or 'sell'", ErrInvalidOrder)
	}
	if !r.Price.IsPositive() || !money.Valid(r.Price) {
		return fmt.Errorf("%w: price must be positive with at most %d decimals", ErrInvalidOrder, money.Scale)
	}
	if !r.Amount.IsPositive() || !money.Valid(r.Amount) {
		return fmt.Errorf("%w: amount must be positive with at most %d decimals", ErrInvalidOrder, money.Scale)
	}
	if !money.InRange(r.Price) || !money.InRange(r.Amount) || !money.InRange(money.Mul(r.Price, r.Amount)) {
		return fmt.Errorf("%w: price, amount and cost must stay below %s", ErrInvalidOrder, money.Limit)
	}
	return nil
}

// PlaceOrder reserves funds for the order, stores it open and matches it
// against the book, all in one transaction. A buy debits price×amount from
// the cash balance; a sell moves amount from the free to the locked part of
// the holding.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result PlaceOrderResult
	var fills []models.Fill

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return err
		}

		order := models.Order{
			UserID: user.ID,
			Symbol: req.Symbol,
			Side:   req.Side,
			Price:  req.Price,
			Amount: req.Amount,
			Status: models.StatusOpen,
		}

		if order.Side == models.Buy {
			if err := reserveCash(ctx, tx, user, order.Cost()); err != nil {
				return err
			}
		} else {
			if err := lockAsset(ctx, tx, user.ID, order.Symbol, order.Amount); err != nil {
				return err
			}
		}

		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}

		m, err := findMatch(ctx, tx, &order)
		if err != nil {
			return err
		}
		if m != nil {
			trade, f, err := settle(ctx, tx, m)
			if err != nil {
				return fmt.Errorf("failed to settle order %d against %d: %w", m.taker.ID, m.maker.ID, err)
			}
			result.Trade = trade
			fills = f
		}

		result.Order = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order placed",
		zap.Int64("order_id", result.Order.ID),
		zap.Int64("user_id", result.Order.UserID),
		zap.String("symbol", result.Order.Symbol),
		zap.String("side", string(result.Order.Side)),
		zap.String("price", money.String(result.Order.Price)),
		zap.String("amount", money.String(result.Order.Amount)),
		zap.String("status", string(result.Order.Status)),
	)
	if result.Trade != nil {
		s.logger.Info("orders matched",
			zap.Int64("trade_id", result.Trade.ID),
			zap.Int64("buy_order_id", result.Trade.BuyOrderID),
			zap.Int64("sell_order_id", result.Trade.SellOrderID),
			zap.String("price", money.String(result.Trade.Price)),
			zap.String("amount", money.String(result.Trade.Amount)),
			zap.String("commission", money.String(result.Trade.Commission)),
		)
	}

	s.notify(ctx, fills)
	return &result, nil
}

// CancelOrder cancels an open order owned by userID and releases exactly
// what was reserved at placement
func (s *Service) CancelOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var cancelled models.Order

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: order %d", ErrForbidden, orderID)
		}
		if order.Status != models.StatusOpen {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidState, orderID, order.Status)
		}

		if err := tx.SetOrderStatus(ctx, order.ID, models.StatusCancelled); err != nil {
			return err
		}
		order.Status = models.StatusCancelled

		if order.Side == models.Buy {
			user, err := tx.LockUser(ctx, order.UserID)
			if err != nil {
				return err
			}
			if err := tx.SetBalance(ctx, user.ID, user.Balance.Add(order.Cost())); err != nil {
				return err
			}
		} else {
			asset, err := tx.LockAsset(ctx, order.UserID, order.Symbol)
			if err != nil {
				return err
			}
			if asset.LockedAmount.LessThan(order.Amount) {
				return fmt.Errorf("%w: user %d has %s %s locked, order %d reserved %s",
					errLedgerInconsistent, order.UserID, asset.LockedAmount, order.Symbol, order.ID, order.Amount)
			}
			asset.LockedAmount = asset.LockedAmount.Sub(order.Amount)
			asset.Amount = asset.Amount.Add(order.Amount)
			if err := tx.SaveAsset(ctx, asset); err != nil {
				return err
			}
		}

		cancelled = *order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled",
		zap.Int64("order_id", cancelled.ID),
		zap.Int64("user_id", cancelled.UserID),
		zap.String("side", string(cancelled.Side)),
	)
	return &cancelled, nil
}

// Deposit credits cash to a user's balance
func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	if !amount.IsPositive() || !money.Valid(amount) || !money.InRange(amount) {
		return nil, fmt.Errorf("%w: deposit must be positive, below %s, with at most %d decimals", ErrInvalidOrder, money.Limit, money.Scale)
	}

	var updated models.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		user.Balance = user.Balance.Add(amount)
		if err := tx.SetBalance(ctx, user.ID, user.Balance); err != nil {
			return err
		}
		updated = *user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DepositAsset credits a free holding of symbol to a user
func (s *Service) DepositAsset(ctx context.Context, userID int64, symbol string, amount decimal.Decimal) (*models.Asset, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !amount.IsPositive() || !money.Valid(amount) || !money.InRange(amount) {
		return nil, fmt.Errorf("%w: deposit must be positive, below %s, with at most %d decimals", ErrInvalidOrder, money.Limit, money.Scale)
	}

	var updated models.Asset
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		asset, err := tx.LockOrCreateAsset(ctx, userID, symbol)
		if err != nil {
			return err
		}
		asset.Amount = asset.Amount.Add(amount)
		if err := tx.SaveAsset(ctx, asset); err != nil {
			return err
		}
		updated = *asset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// OrderBook returns the open orders of a symbol, best price first per side
func (s *Service) OrderBook(ctx context.Context, symbol string) (*models.OrderBook, error) {
	buy, err := s.store.OpenOrders(ctx, symbol, models.Buy)
	if err != nil {
		return nil, err
	}
	sell, err := s.store.OpenOrders(ctx, symbol, models.Sell)
	if err != nil {
		return nil, err
	}
	return &models.OrderBook{Buy: buy, Sell: sell}, nil
}

// UserOrders returns every order placed by a user
func (s *Service) UserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetUserOrders(ctx, userID)
}

// UserTrades returns every trade a user took part in
func (s *Service) UserTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	return s.store.GetUserTrades(ctx, userID)
}

// Portfolio returns a user's balance and holdings
func (s *Service) Portfolio(ctx context.Context, userID int64) (*models.Portfolio, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	assets, err := s.store.GetUserAssets(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Portfolio{UserID: user.ID, Balance: user.Balance, Assets: assets}, nil
}

func reserveCash(ctx context.Context, tx store.LedgerTx, user *models.User, cost decimal.Decimal) error {
	if user.Balance.LessThan(cost) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, money.String(user.Balance), money.String(cost))
	}
	return tx.SetBalance(ctx, user.ID, user.Balance.Sub(cost))
}

func lockAsset(ctx context.Context, tx store.LedgerTx, userID int64, symbol string, amount decimal.Decimal) error {
	asset, err := tx.LockAsset(ctx, userID, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no %s holding", ErrInsufficientAsset, symbol)
	}
	if err != nil {
		return err
	}
	if asset.Amount.LessThan(amount) {
		return fmt.Errorf("%w: have %s %s, need %s", ErrInsufficientAsset, money.String(asset.Amount), symbol, money.String(amount))
	}
	asset.Amount = asset.Amount.Sub(amount)
	asset.LockedAmount = asset.LockedAmount.Add(amount)
	return tx.SaveAsset(ctx, asset)
}

// notify hands fills to the notifier after commit. Failures are logged and
// never reach the caller.
func (s *Service) notify(ctx context.Context, fills []models.Fill) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, fill := range fills {
		if err := s.notifier.Notify(ctx, fill); err != nil {
			s.logger.Warn("failed to deliver fill notification",
				zap.Int64("user_id", fill.UserID),
				zap.Int64("order_id", fill.OrderID),
				zap.Error(err),
			)
		}
	}
}
