package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/money"
	"github.com/xtrntr/spotex/internal/store"
)

// match is a decided cross between an incoming order and a resting one,
// with its settlement amounts already computed.
type match struct {
	taker *models.Order
	maker *models.Order

	price      decimal.Decimal // maker's price
	amount     decimal.Decimal
	gross      decimal.Decimal
	commission decimal.Decimal
	net        decimal.Decimal // paid to the seller
}

func (m *match) buyOrder() *models.Order {
	if m.taker.Side == models.Buy {
		return m.taker
	}
	return m.maker
}

func (m *match) sellOrder() *models.Order {
	if m.taker.Side == models.Sell {
		return m.taker
	}
	return m.maker
}

// findMatch locks the best resting order on the other side of taker and
// returns the match if the two orders cross. A nil match means taker stays
// open.
func findMatch(ctx context.Context, tx store.OrderBookTx, taker *models.Order) (*match, error) {
	maker, err := tx.LockBestCounter(ctx, taker)
	if err != nil {
		return nil, fmt.Errorf("failed to find counter order: %w", err)
	}
	if maker == nil || !crosses(taker, maker) {
		return nil, nil
	}
	return quote(taker, maker), nil
}

// crosses reports whether taker and maker can trade. Only orders of exactly
// equal amount cross; there are no partial fills.
func crosses(taker, maker *models.Order) bool {
	if taker.Symbol != maker.Symbol || taker.Side.Opposite() != maker.Side {
		return false
	}
	if taker.Status != models.StatusOpen || maker.Status != models.StatusOpen {
		return false
	}
	if taker.Side == models.Buy && maker.Price.GreaterThan(taker.Price) {
		return false
	}
	if taker.Side == models.Sell && maker.Price.LessThan(taker.Price) {
		return false
	}
	return taker.Amount.Equal(maker.Amount)
}

// quote prices a cross at the maker's price and charges the commission
// against the seller's proceeds.
func quote(taker, maker *models.Order) *match {
	gross := money.Mul(maker.Price, taker.Amount)
	commission := money.Commission(gross)
	return &match{
		taker:      taker,
		maker:      maker,
		price:      maker.Price,
		amount:     taker.Amount,
		gross:      gross,
		commission: commission,
		net:        gross.Sub(commission),
	}
}
