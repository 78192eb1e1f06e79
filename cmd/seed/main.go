package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/config"
	"github.com/xtrntr/spotex/internal/db"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/money"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/store"

	"go.uber.org/zap"
)

type demoUser struct {
	username string
	cash     string
	holdings map[string]string
}

var demoUsers = []demoUser{
	{username: "trader1", cash: "100000"},
	{username: "trader2", cash: "1000", holdings: map[string]string{"BTC": "2", "ETH": "30"}},
}

// Demo orders left resting on the book after funding
var demoOrders = []struct {
	username string
	symbol   string
	side     models.Side
	price    string
	amount   string
}{
	{"trader2", "BTC", models.Sell, "31000", "0.5"},
	{"trader2", "BTC", models.Sell, "32000", "0.5"},
	{"trader2", "ETH", models.Sell, "1800", "10"},
	{"trader1", "BTC", models.Buy, "29000", "0.25"},
	{"trader1", "ETH", models.Buy, "1700", "5"},
}

// Seed the database with funded demo users and a few resting orders
func main() {
	envPath := flag.String("env", "", "path to a .env file")
	password := flag.String("password", "password", "password for every demo user")
	flag.Parse()

	cfg := config.Load(*envPath)
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)
	database.LockTimeout = cfg.LockTimeout

	if err := database.Migrate(ctx); err != nil {
		lg.Fatal("failed to migrate", zap.Error(err))
	}

	// First check if we already have seeded
	if _, err := database.GetUserByUsername(ctx, demoUsers[0].username); err == nil {
		fmt.Printf("User %s already exists. No need to seed.\n", demoUsers[0].username)
		os.Exit(0)
	} else if !errors.Is(err, store.ErrNotFound) {
		lg.Fatal("failed to look up demo user", zap.Error(err))
	}

	authService := auth.NewAuthService(database, cfg.JWTSecret, cfg.TokenTTL)
	ex := exchange.NewService(database, notify.Nop{}, lg)

	ids := make(map[string]int64, len(demoUsers))
	for _, u := range demoUsers {
		user, err := authService.Register(ctx, u.username, *password)
		if err != nil {
			lg.Fatal("failed to create user", zap.String("username", u.username), zap.Error(err))
		}
		ids[u.username] = user.ID

		if _, err := ex.Deposit(ctx, user.ID, money.MustParse(u.cash)); err != nil {
			lg.Fatal("failed to deposit cash", zap.String("username", u.username), zap.Error(err))
		}
		for symbol, amount := range u.holdings {
			if _, err := ex.DepositAsset(ctx, user.ID, symbol, money.MustParse(amount)); err != nil {
				lg.Fatal("failed to deposit asset",
					zap.String("username", u.username),
					zap.String("symbol", symbol),
					zap.Error(err))
			}
		}
	}

	for _, o := range demoOrders {
		_, err := ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			UserID: ids[o.username],
			Symbol: o.symbol,
			Side:   o.side,
			Price:  money.MustParse(o.price),
			Amount: money.MustParse(o.amount),
		})
		if err != nil {
			lg.Fatal("failed to place demo order", zap.String("username", o.username), zap.Error(err))
		}
	}

	fmt.Printf("Successfully seeded %d users and %d orders!\n", len(demoUsers), len(demoOrders))
}
