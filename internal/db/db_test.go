package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/money"
	"github.com/xtrntr/spotex/internal/store"
)

// testDB is nil unless SPOTEX_TEST_DATABASE_URL points at a scratch database
var testDB *DB

func TestMain(m *testing.M) {
	url := os.Getenv("SPOTEX_TEST_DATABASE_URL")
	if url != "" {
		ctx := context.Background()
		db, err := NewDB(ctx, url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
			os.Exit(1)
		}
		if err := db.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
			os.Exit(1)
		}
		testDB = db
	}

	code := m.Run()
	if testDB != nil {
		testDB.Close(context.Background())
	}
	os.Exit(code)
}

// freshDB truncates every table, or skips when no database is configured
func freshDB(t *testing.T) *DB {
	t.Helper()
	if testDB == nil {
		t.Skip("SPOTEX_TEST_DATABASE_URL not set")
	}
	_, err := testDB.Pool.Exec(context.Background(),
		"TRUNCATE TABLE trades, orders, assets, users RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	testDB.LockTimeout = 0
	return testDB
}

func mustUser(t *testing.T, db *DB, username string, balance string) *models.User {
	t.Helper()
	ctx := context.Background()
	user, err := db.CreateUser(ctx, username, "hash")
	require.NoError(t, err)
	if balance != "" {
		require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.SetBalance(ctx, user.ID, money.MustParse(balance))
		}))
		user.Balance = money.MustParse(balance)
	}
	return user
}

func mustOrder(t *testing.T, db *DB, userID int64, symbol string, side models.Side, price, amount string) *models.Order {
	t.Helper()
	o := &models.Order{
		UserID: userID,
		Symbol: symbol,
		Side:   side,
		Price:  money.MustParse(price),
		Amount: money.MustParse(amount),
		Status: models.StatusOpen,
	}
	require.NoError(t, db.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertOrder(ctx, o)
	}))
	return o
}

func TestDB_CreateUser(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()

	user, err := db.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.True(t, user.Balance.IsZero())

	_, err = db.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = db.GetUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = db.GetUser(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDB_WithTx(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	user := mustUser(t, db, "alice", "100")

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.SetBalance(ctx, user.ID, decimal.NewFromInt(5)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := db.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, money.MustParse("100").Equal(got.Balance), got.Balance.String())
	})

	t.Run("NegativeBalanceRejected", func(t *testing.T) {
		err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.SetBalance(ctx, user.ID, decimal.NewFromInt(-1))
		})
		assert.Error(t, err)
	})

	t.Run("EightDecimalsRoundTrip", func(t *testing.T) {
		require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.SetBalance(ctx, user.ID, money.MustParse("12345678.12345678"))
		}))
		got, err := db.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "12345678.12345678", money.String(got.Balance))
	})
}

func TestDB_Assets(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	user := mustUser(t, db, "alice", "")

	err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockAsset(ctx, user.ID, "BTC")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, symbol := range []string{"ETH", "BTC"} {
			asset, err := tx.LockOrCreateAsset(ctx, user.ID, symbol)
			if err != nil {
				return err
			}
			if !asset.Amount.IsZero() || !asset.LockedAmount.IsZero() {
				return fmt.Errorf("new holding %s not empty", symbol)
			}
			asset.Amount = money.MustParse("1.5")
			asset.LockedAmount = money.MustParse("0.5")
			if err := tx.SaveAsset(ctx, asset); err != nil {
				return err
			}
		}
		return nil
	}))

	assets, err := db.GetUserAssets(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "BTC", assets[0].Symbol)
	assert.Equal(t, "ETH", assets[1].Symbol)
	assert.True(t, money.MustParse("2").Equal(assets[0].Total()))

	err = db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveAsset(ctx, &models.Asset{UserID: user.ID, Symbol: "BTC", Amount: decimal.NewFromInt(-1)})
	})
	assert.Error(t, err)
}

func TestDB_InsertOrderRejectsBadRows(t *testing.T) {
	db := freshDB(t)
	user := mustUser(t, db, "alice", "")

	tests := []struct {
		name  string
		order models.Order
	}{
		{"InvalidSide", models.Order{UserID: user.ID, Symbol: "BTC", Side: "hold", Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Status: models.StatusOpen}},
		{"ZeroAmount", models.Order{UserID: user.ID, Symbol: "BTC", Side: models.Buy, Price: decimal.NewFromInt(1), Amount: decimal.Zero, Status: models.StatusOpen}},
		{"UnknownUser", models.Order{UserID: 999, Symbol: "BTC", Side: models.Buy, Price: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Status: models.StatusOpen}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			err := db.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return tx.InsertOrder(ctx, &o)
			})
			assert.Error(t, err)
		})
	}
}

func TestDB_LockBestCounter(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	user := mustUser(t, db, "alice", "")

	mustOrder(t, db, user.ID, "BTC", models.Sell, "100", "1")
	bestSell := mustOrder(t, db, user.ID, "BTC", models.Sell, "99", "1")
	mustOrder(t, db, user.ID, "BTC", models.Sell, "99", "1")
	cancelled := mustOrder(t, db, user.ID, "BTC", models.Sell, "98", "1")
	mustOrder(t, db, user.ID, "ETH", models.Sell, "1", "1")

	mustOrder(t, db, user.ID, "BTC", models.Buy, "90", "1")
	bestBuy := mustOrder(t, db, user.ID, "BTC", models.Buy, "95", "1")
	mustOrder(t, db, user.ID, "BTC", models.Buy, "95", "1")

	require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetOrderStatus(ctx, cancelled.ID, models.StatusCancelled)
	}))

	tests := []struct {
		name   string
		taker  models.Order
		expect int64
	}{
		{"BuyTakesLowestAskThenOldest", models.Order{Symbol: "BTC", Side: models.Buy, Price: money.MustParse("101")}, bestSell.ID},
		{"SellTakesHighestBidThenOldest", models.Order{Symbol: "BTC", Side: models.Sell, Price: money.MustParse("90")}, bestBuy.ID},
		{"BuyBelowBook", models.Order{Symbol: "BTC", Side: models.Buy, Price: money.MustParse("98.99999999")}, 0},
		{"SellAboveBook", models.Order{Symbol: "BTC", Side: models.Sell, Price: money.MustParse("95.00000001")}, 0},
		{"OtherSymbol", models.Order{Symbol: "DOGE", Side: models.Buy, Price: money.MustParse("1000")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *models.Order
			require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
				var err error
				got, err = tx.LockBestCounter(ctx, &tt.taker)
				return err
			}))
			if tt.expect == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.expect, got.ID)
		})
	}

	book, err := db.OpenOrders(ctx, "BTC", models.Sell)
	require.NoError(t, err)
	require.Len(t, book, 3)
	assert.Equal(t, bestSell.ID, book[0].ID)
	assert.Equal(t, "100.00000000", money.String(book[2].Price))

	bids, err := db.OpenOrders(ctx, "BTC", models.Buy)
	require.NoError(t, err)
	require.Len(t, bids, 3)
	assert.Equal(t, bestBuy.ID, bids[0].ID)
}

func TestDB_SetOrderStatus(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	user := mustUser(t, db, "alice", "")
	filled := mustOrder(t, db, user.ID, "BTC", models.Buy, "5", "10")
	open := mustOrder(t, db, user.ID, "BTC", models.Buy, "4", "10")

	setStatus := func(id int64, status models.OrderStatus) error {
		return db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.SetOrderStatus(ctx, id, status)
		})
	}
	require.NoError(t, setStatus(filled.ID, models.StatusFilled))

	tests := []struct {
		name    string
		id      int64
		status  models.OrderStatus
		wantErr error
		want    models.OrderStatus
	}{
		{"FilledToCancelled", filled.ID, models.StatusCancelled, store.ErrNotOpen, models.StatusFilled},
		{"OpenToCancelled", open.ID, models.StatusCancelled, nil, models.StatusCancelled},
		{"CancelledToFilled", open.ID, models.StatusFilled, store.ErrNotOpen, models.StatusCancelled},
		{"Missing", 999, models.StatusCancelled, store.ErrNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := setStatus(tt.id, tt.status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.want == "" {
				return
			}
			got, err := db.GetOrder(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect error
	}{
		{"NoRows", pgx.ErrNoRows, store.ErrNotFound},
		{"Serialization", &pgconn.PgError{Code: "40001"}, store.ErrConflict},
		{"Deadlock", &pgconn.PgError{Code: "40P01"}, store.ErrConflict},
		{"LockTimeout", &pgconn.PgError{Code: "55P03"}, store.ErrConflict},
		{"UniqueViolation", &pgconn.PgError{Code: "23505"}, store.ErrDuplicate},
		{"NumericOverflow", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "22003"}), store.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.expect)
		})
	}

	other := errors.New("connection reset")
	assert.Equal(t, other, classify(other))
}

func TestDB_LockTimeoutIsConflict(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	user := mustUser(t, db, "alice", "")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.LockUser(ctx, user.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	impatient := &DB{Pool: db.Pool, LockTimeout: 100 * time.Millisecond}
	err := impatient.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockUser(ctx, user.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	close(release)
	require.NoError(t, <-done)
}

func TestDB_UserTrades(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	alice := mustUser(t, db, "alice", "")
	bob := mustUser(t, db, "bob", "")
	carol := mustUser(t, db, "carol", "")

	buy := mustOrder(t, db, alice.ID, "BTC", models.Buy, "10", "1")
	sell := mustOrder(t, db, bob.ID, "BTC", models.Sell, "10", "1")

	trade := &models.Trade{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Symbol:      "BTC",
		Price:       money.MustParse("10"),
		Amount:      money.MustParse("1"),
		Commission:  money.MustParse("0.15"),
	}
	require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTrade(ctx, trade)
	}))
	assert.NotZero(t, trade.ID)
	assert.False(t, trade.ExecutedAt.IsZero())

	for _, u := range []*models.User{alice, bob} {
		trades, err := db.GetUserTrades(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.True(t, money.MustParse("0.15").Equal(trades[0].Commission))
	}
	trades, err := db.GetUserTrades(ctx, carol.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

// Several buyers race for one resting sell. The row lock on the maker lets
// exactly one of them fill it.
func TestDB_ConcurrentTakersFillMakerOnce(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	svc := exchange.NewService(db, nil, nil)

	seller := mustUser(t, db, "seller", "")
	_, err := svc.DepositAsset(ctx, seller.ID, "BTC", money.MustParse("1"))
	require.NoError(t, err)
	maker, err := svc.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		UserID: seller.ID, Symbol: "BTC", Side: models.Sell,
		Price: money.MustParse("100"), Amount: money.MustParse("1"),
	})
	require.NoError(t, err)

	const buyers = 8
	ids := make([]int64, buyers)
	for i := range ids {
		ids[i] = mustUser(t, db, fmt.Sprintf("buyer%d", i), "100").ID
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		trades int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res, err := svc.PlaceOrder(ctx, exchange.PlaceOrderRequest{
				UserID: id, Symbol: "BTC", Side: models.Buy,
				Price: money.MustParse("100"), Amount: money.MustParse("1"),
			})
			if err != nil {
				assert.ErrorIs(t, err, exchange.ErrTransientConflict)
				return
			}
			if res.Trade != nil {
				mu.Lock()
				trades++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, trades)

	got, err := db.GetOrder(ctx, maker.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)

	sellerNow, err := db.GetUser(ctx, seller.ID)
	require.NoError(t, err)
	assert.True(t, money.MustParse("98.5").Equal(sellerNow.Balance), sellerNow.Balance.String())

	assets, err := db.GetUserAssets(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Total().IsZero())
}

// Cancel and a crossing placement race on the same order; exactly one wins
// and the ledger stays consistent either way.
func TestDB_CancelRacingMatch(t *testing.T) {
	db := freshDB(t)
	ctx := context.Background()
	svc := exchange.NewService(db, nil, nil)

	seller := mustUser(t, db, "seller", "")
	buyer := mustUser(t, db, "buyer", "100")
	_, err := svc.DepositAsset(ctx, seller.ID, "BTC", money.MustParse("1"))
	require.NoError(t, err)
	maker, err := svc.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		UserID: seller.ID, Symbol: "BTC", Side: models.Sell,
		Price: money.MustParse("100"), Amount: money.MustParse("1"),
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		cancelErr error
		placeRes  *exchange.PlaceOrderResult
		placeErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = svc.CancelOrder(ctx, maker.Order.ID, seller.ID)
	}()
	go func() {
		defer wg.Done()
		placeRes, placeErr = svc.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			UserID: buyer.ID, Symbol: "BTC", Side: models.Buy,
			Price: money.MustParse("100"), Amount: money.MustParse("1"),
		})
	}()
	wg.Wait()
	require.NoError(t, placeErr)

	got, err := db.GetOrder(ctx, maker.Order.ID)
	require.NoError(t, err)
	assets, err := db.GetUserAssets(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, assets, 1)

	if cancelErr == nil {
		assert.Equal(t, models.StatusCancelled, got.Status)
		assert.Nil(t, placeRes.Trade)
		assert.True(t, money.MustParse("1").Equal(assets[0].Amount))
		assert.True(t, assets[0].LockedAmount.IsZero())
	} else {
		assert.ErrorIs(t, cancelErr, exchange.ErrInvalidState)
		assert.Equal(t, models.StatusFilled, got.Status)
		require.NotNil(t, placeRes.Trade)
		assert.True(t, assets[0].Total().IsZero())
	}
}
