package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/spotex/internal/api"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/config"
	"github.com/xtrntr/spotex/internal/db"
	"github.com/xtrntr/spotex/internal/exchange"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/memdb"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Main entry point: sets up storage, the exchange service, and the HTTP server
func main() {
	envPath := flag.String("env", "", "path to a .env file")
	flag.Parse()

	cfg := config.Load(*envPath)

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := notify.NewHub(lg.Named("ws"))
	defer hub.Close()

	notifiers := notify.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaFillsTopic, lg.Named("kafka"))
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
		lg.Info("publishing fills to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaFillsTopic))
	}

	ex := exchange.NewService(st, notifiers, lg.Named("exchange"))
	authService := auth.NewAuthService(st, cfg.JWTSecret, cfg.TokenTTL)
	handler := api.NewHandler(ex, authService, hub, lg.Named("api"))

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	handler.Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, lg *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == config.MemoryDatabase {
		lg.Warn("using in-memory store, state is lost on exit")
		return memdb.New(), func() {}, nil
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	database.LockTimeout = cfg.LockTimeout
	if err := database.Migrate(ctx); err != nil {
		database.Close(ctx)
		return nil, nil, err
	}
	lg.Info("connected to postgres", zap.Duration("lock_timeout", cfg.LockTimeout))
	return database, func() { database.Close(context.Background()) }, nil
}
