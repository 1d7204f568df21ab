package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/consumer"
	"github.com/fjod/go_cart/storefront/internal/currency"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/selection"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/internal/totals"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Env, cfg.LogJSON)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remote, closeRemote, err := accountBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRemote()

	local, closeLocal, err := sessionBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocal()

	orders, closeOrders, err := orderRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeOrders()

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	rates := currency.NewRateCache(
		currency.NewHTTPProvider(cfg.RateProviderURL, cfg.RateTimeout),
		cfg.BaseCurrency,
		currency.WithTimeout(cfg.RateTimeout),
		currency.WithLogger(log.Named("rates")),
	)

	if cfg.MidtransServerKey == "" {
		log.Warn("MIDTRANS_SERVER_KEY is empty, payment calls will be rejected by Midtrans")
	}
	midtrans := payment.NewMidtrans(cfg.MidtransServerKey, cfg.MidtransEnv)

	calc := totals.NewCalculator(cfg.TaxRate)
	carts := service.NewCartService(local, remote, calc, selection.NewEngine(),
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithLogger(log.Named("carts")))
	merges := service.NewMergeService(carts)
	orderSvc := service.NewOrderService(orders, calc, rates, midtrans,
		service.WithOrderStoreTimeout(cfg.StoreTimeout),
		service.WithOrderLogger(log.Named("orders")))

	if len(cfg.KafkaBrokers) > 0 {
		c := consumer.NewConsumer(merges, log.Named("identity-consumer"), cfg.KafkaBrokers...)
		defer c.Close()
		go c.Run(ctx)
		log.Info("identity event consumer started", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	router := h.NewRouter(h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, h.Handlers{
		Cart:     h.NewCartHandler(carts, merges, cat, rates, cfg.RequestTimeout),
		Orders:   h.NewOrderHandler(carts, orderSvc, midtrans, cfg.RequestTimeout, log.Named("checkout")),
		Products: h.NewProductHandler(cat, cfg.RequestTimeout),
		Currency: h.NewCurrencyHandler(rates, cfg.RequestTimeout),
	}, h.NewAuthenticator(cfg.JWTSecret), log.Named("http"))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("cart service starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Env, cfg.LogJSON)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()
	log.Info("catalog migrations applied", zap.String("path", cfg.CatalogDBPath))

	if cfg.Postgres.Host == "" {
		log.Info("POSTGRES_HOST not set, skipping order migrations")
		return nil
	}
	_, closeOrders, err := orderRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	closeOrders()
	log.Info("order migrations applied")
	return nil
}

func openCatalog(cfg *config.Config) (*catalog.Repository, error) {
	cat, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := cat.RunMigrations(); err != nil {
		cat.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return cat, nil
}

func accountBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.CartBackend, func(), error) {
	if cfg.MongoURI == "" {
		log.Warn("MONGO_URI not set, account carts are kept in memory")
		return repository.NewMemoryAccountBackend(), func() {}, nil
	}

	db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, nil, err
	}
	backend := repository.NewMongoCartBackend(db)
	if err := backend.CreateIndexes(ctx); err != nil {
		log.Warn("failed to create cart indexes", zap.Error(err))
	}
	log.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))

	return backend, func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Warn("error disconnecting MongoDB", zap.Error(err))
		}
	}, nil
}

func sessionBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.CartBackend, func(), error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, session carts are kept in memory")
		return repository.NewMemorySessionBackend(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	return repository.NewRedisCartBackend(client), func() {
		if err := client.Close(); err != nil {
			log.Warn("error closing Redis client", zap.Error(err))
		}
	}, nil
}

func orderRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.OrderRepository, func(), error) {
	if cfg.Postgres.Host == "" {
		log.Warn("POSTGRES_HOST not set, orders are kept in memory")
		return repository.NewMemoryOrderRepository(), func() {}, nil
	}

	repo, err := repository.NewPostgresOrderRepository(ctx, &cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.RunMigrations(); err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("migrate orders: %w", err)
	}
	log.Info("connected to PostgreSQL", zap.String("host", cfg.Postgres.Host))

	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Warn("error closing PostgreSQL", zap.Error(err))
		}
	}, nil
}
