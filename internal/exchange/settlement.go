package exchange

import (
	"context"
	"fmt"

	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

// settle applies a match inside tx: the buyer receives the asset, the
// seller's locked asset is released and paid out net of commission, both
// orders are filled and one trade is recorded. The fills it returns must
// only be delivered after tx commits.
//
// The buyer was debited at their own limit price when the order was placed.
// When the maker's price is better, the difference is not refunded.
func settle(ctx context.Context, tx store.Tx, m *match) (*models.Trade, []models.Fill, error) {
	buy, sell := m.buyOrder(), m.sellOrder()
	symbol := m.taker.Symbol

	seller, err := tx.LockUser(ctx, sell.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock seller: %w", err)
	}

	// The seller's holding is saved before the buyer's is read so a user
	// trading against their own order sees one consistent row.
	sellerAsset, err := tx.LockAsset(ctx, sell.UserID, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock seller asset: %w", err)
	}
	if sellerAsset.LockedAmount.LessThan(m.amount) {
		return nil, nil, fmt.Errorf("%w: user %d has %s %s locked, sell order %d needs %s",
			errLedgerInconsistent, sell.UserID, sellerAsset.LockedAmount, symbol, sell.ID, m.amount)
	}
	sellerAsset.LockedAmount = sellerAsset.LockedAmount.Sub(m.amount)
	if err := tx.SaveAsset(ctx, sellerAsset); err != nil {
		return nil, nil, err
	}

	buyerAsset, err := tx.LockOrCreateAsset(ctx, buy.UserID, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock buyer asset: %w", err)
	}
	buyerAsset.Amount = buyerAsset.Amount.Add(m.amount)
	if err := tx.SaveAsset(ctx, buyerAsset); err != nil {
		return nil, nil, err
	}

	if err := tx.SetBalance(ctx, seller.ID, seller.Balance.Add(m.net)); err != nil {
		return nil, nil, err
	}

	for _, o := range []*models.Order{m.taker, m.maker} {
		if err := tx.SetOrderStatus(ctx, o.ID, models.StatusFilled); err != nil {
			return nil, nil, err
		}
		o.Status = models.StatusFilled
	}

	trade := &models.Trade{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Symbol:      symbol,
		Price:       m.price,
		Amount:      m.amount,
		Commission:  m.commission,
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return nil, nil, err
	}

	fills := []models.Fill{
		{UserID: buy.UserID, OrderID: buy.ID, Symbol: symbol, Side: models.Buy, Status: models.StatusFilled},
		{UserID: sell.UserID, OrderID: sell.ID, Symbol: symbol, Side: models.Sell, Status: models.StatusFilled},
	}
	return trade, fills, nil
}
