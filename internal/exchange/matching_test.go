package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/money"
)

func limitOrder(id int64, side models.Side, price, amount string) *models.Order {
	return &models.Order{
		ID:     id,
		UserID: id,
		Symbol: sym,
		Side:   side,
		Price:  money.MustParse(price),
		Amount: money.MustParse(amount),
		Status: models.StatusOpen,
	}
}

func TestCrosses(t *testing.T) {
	filled := limitOrder(2, models.Sell, "5", "1")
	filled.Status = models.StatusFilled
	otherSymbol := limitOrder(2, models.Sell, "5", "1")
	otherSymbol.Symbol = "XYZ"

	tests := []struct {
		name  string
		taker *models.Order
		maker *models.Order
		want  bool
	}{
		{"BuyAtAsk", limitOrder(1, models.Buy, "5", "1"), limitOrder(2, models.Sell, "5", "1"), true},
		{"BuyAboveAsk", limitOrder(1, models.Buy, "6", "1"), limitOrder(2, models.Sell, "5", "1"), true},
		{"BuyBelowAsk", limitOrder(1, models.Buy, "4", "1"), limitOrder(2, models.Sell, "5", "1"), false},
		{"SellAtBid", limitOrder(1, models.Sell, "5", "1"), limitOrder(2, models.Buy, "5", "1"), true},
		{"SellBelowBid", limitOrder(1, models.Sell, "4", "1"), limitOrder(2, models.Buy, "5", "1"), true},
		{"SellAboveBid", limitOrder(1, models.Sell, "6", "1"), limitOrder(2, models.Buy, "5", "1"), false},
		{"SmallerAmount", limitOrder(1, models.Buy, "5", "5"), limitOrder(2, models.Sell, "5", "3"), false},
		{"LargerAmount", limitOrder(1, models.Buy, "5", "5"), limitOrder(2, models.Sell, "5", "7"), false},
		{"SameSide", limitOrder(1, models.Buy, "5", "1"), limitOrder(2, models.Buy, "5", "1"), false},
		{"MakerNotOpen", limitOrder(1, models.Buy, "5", "1"), filled, false},
		{"DifferentSymbol", limitOrder(1, models.Buy, "5", "1"), otherSymbol, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, crosses(tt.taker, tt.maker))
		})
	}
}

func TestQuote(t *testing.T) {
	t.Run("BuyTakerGetsMakerPrice", func(t *testing.T) {
		taker := limitOrder(1, models.Buy, "6", "10")
		maker := limitOrder(2, models.Sell, "5", "10")
		m := quote(taker, maker)

		assertDecimal(t, "5", m.price)
		assertDecimal(t, "10", m.amount)
		assertDecimal(t, "50", m.gross)
		assertDecimal(t, "0.75", m.commission)
		assertDecimal(t, "49.25", m.net)
		assert.Same(t, taker, m.buyOrder())
		assert.Same(t, maker, m.sellOrder())
	})

	t.Run("SellTakerGetsMakerPrice", func(t *testing.T) {
		taker := limitOrder(1, models.Sell, "4", "0.33333333")
		maker := limitOrder(2, models.Buy, "7.77777777", "0.33333333")
		m := quote(taker, maker)

		// 7.77777777 * 0.33333333 = 2.5925925640740741, truncated
		assertDecimal(t, "2.59259256", m.gross)
		// 2.59259256 * 0.015 = 0.0388888884, truncated
		assertDecimal(t, "0.03888888", m.commission)
		assertDecimal(t, "2.55370368", m.net)
		assert.Same(t, maker, m.buyOrder())
		assert.Same(t, taker, m.sellOrder())
	})
}
