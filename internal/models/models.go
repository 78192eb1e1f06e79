package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/money"
)

// Side is the direction of an order
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is buy or sell
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side an order of this side matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// User represents a registered user and their cash balance
type User struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MarshalJSON renders amounts at full scale so every store encodes alike
func (u User) MarshalJSON() ([]byte, error) {
	type user User
	return json.Marshal(struct {
		user
		Balance string `json:"balance"`
	}{user(u), money.String(u.Balance)})
}

// Asset is a user's holding of one symbol. Amount is spendable, LockedAmount
// is reserved by the user's open sell orders.
type Asset struct {
	UserID       int64           `json:"-"`
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	type asset Asset
	return json.Marshal(struct {
		asset
		Amount       string `json:"amount"`
		LockedAmount string `json:"locked_amount"`
	}{asset(a), money.String(a.Amount), money.String(a.LockedAmount)})
}

// Total is the free plus locked quantity
func (a Asset) Total() decimal.Decimal {
	return a.Amount.Add(a.LockedAmount)
}

// Order represents a limit order
type Order struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"` // Used for time priority
}

func (o Order) MarshalJSON() ([]byte, error) {
	type order Order
	return json.Marshal(struct {
		order
		Price  string `json:"price"`
		Amount string `json:"amount"`
	}{order(o), money.String(o.Price), money.String(o.Amount)})
}

// Cost is the cash a buy order reserves at placement
func (o Order) Cost() decimal.Decimal {
	return money.Mul(o.Price, o.Amount)
}

// Trade represents an executed match between a buy and a sell order
type Trade struct {
	ID          int64           `json:"id"`
	BuyOrderID  int64           `json:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Commission  decimal.Decimal `json:"commission"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

func (t Trade) MarshalJSON() ([]byte, error) {
	type trade Trade
	return json.Marshal(struct {
		trade
		Price      string `json:"price"`
		Amount     string `json:"amount"`
		Commission string `json:"commission"`
	}{trade(t), money.String(t.Price), money.String(t.Amount), money.String(t.Commission)})
}

// Fill is the payload handed to the notification collaborator for each
// filled order
type Fill struct {
	UserID  int64       `json:"-"`
	OrderID int64       `json:"order_id"`
	Symbol  string      `json:"symbol"`
	Side    Side        `json:"side"`
	Status  OrderStatus `json:"status"`
}

// OrderBook is the open orders of one symbol, best price first on each side
type OrderBook struct {
	Buy  []Order `json:"buy"`
	Sell []Order `json:"sell"`
}

// Portfolio is a user's cash balance and holdings ordered by symbol
type Portfolio struct {
	UserID  int64           `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Assets  []Asset         `json:"assets"`
}

func (p Portfolio) MarshalJSON() ([]byte, error) {
	type portfolio Portfolio
	return json.Marshal(struct {
		portfolio
		Balance string `json:"balance"`
	}{portfolio(p), money.String(p.Balance)})
}
