package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arhyth/paygate"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	envfl := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := godotenv.Load(*envfl); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal().Err(err).Msg("error loading env file")
	}
	cfg, err := paygate.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store paygate.AccountStore
	if cfg.Database.ConnectionString != "" {
		pgstore, err := paygate.NewPostgresStore(ctx, cfg.Database.ConnectionString, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("error starting database")
		}
		defer pgstore.Close()
		store = pgstore
	} else {
		logger.Warn().Msg("no database configured, accounts are kept in memory")
		store = paygate.NewMemoryStore()
	}

	var locker paygate.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err = rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("error connecting to redis")
		}
		locker = paygate.NewRedisLocker(rdb, cfg.Redis.LockExpiry, &logger)
	} else {
		locker = paygate.NewKeyedLocker()
	}

	node, err := snowflake.NewNode(cfg.Node)
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating snowflake node")
	}
	catalog, err := paygate.NewCatalog(cfg.Catalog)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading operation catalog")
	}

	rateSrc := paygate.NewBreakerRateSource(
		paygate.NewCoinGeckoSource(&http.Client{Timeout: cfg.Rates.Timeout}, cfg.Rates.URL, cfg.Rates.Coin, cfg.Rates.Fiat),
		paygate.NewBreakerSettings("rates", cfg.Breaker, &logger),
	)
	rates := paygate.NewRateProvider(rateSrc, cfg.Rates.Timeout, &logger)

	feed := paygate.NewBreakerLedgerFeed(
		paygate.NewBlockonomicsFeed(&http.Client{Timeout: cfg.Ledger.Timeout}, cfg.Ledger.URL, cfg.Ledger.APIKey),
		paygate.NewBreakerSettings("ledger", cfg.Breaker, &logger),
	)
	ledger := paygate.NewWalletLedger(store, feed, cfg.Ledger.Confirmations, cfg.Ledger.Timeout, &logger)

	operator := paygate.NewBreakerOperator(
		paygate.NewHTTPOperator(&http.Client{}, cfg.Downstream.URL, cfg.Downstream.APIKey, cfg.Downstream.Timeout),
		paygate.NewBreakerSettings("downstream", cfg.Breaker, &logger),
	)
	messenger := paygate.NewBreakerMessenger(
		paygate.NewTelegramMessenger(&http.Client{Timeout: cfg.Telegram.Timeout}, cfg.Telegram.APIURL, cfg.Telegram.Token),
		paygate.NewBreakerSettings("messenger", cfg.Breaker, &logger),
	)

	authorizer := paygate.NewChargeAuthorizer(store, catalog, rates, ledger, locker, node, &logger)
	svc := paygate.Chain(
		paygate.NewService(store, ledger, authorizer, rates, locker, &logger),
		paygate.NewValidationMiddleware(),
		paygate.NewLoggingMiddleware(&logger),
		paygate.NewLimitMiddleware(paygate.NewServiceLimits(cfg)),
	)
	disp := paygate.NewDispatcher(svc, catalog, operator, cfg.Units(), &logger)
	hndlr := paygate.NewHTTPHandler(cfg, svc, disp, messenger, &logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           hndlr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err = g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}
