package cli

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vitwit/chainpay"
	"github.com/vitwit/chainpay/config"
	"github.com/vitwit/chainpay/invoice"
	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/pricing"
	"github.com/vitwit/chainpay/registry"
	"github.com/vitwit/chainpay/settlement"
	"github.com/vitwit/chainpay/types"
)

// app is a fully wired ChainPay plus the resources it owns.
type app struct {
	cfg      *config.Config
	cp       *chainpay.ChainPay
	logger   logger.Logger
	gatherer prometheus.Gatherer
	store    invoice.Store
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	switch {
	case a.cp != nil:
		errs = append(errs, a.cp.Close())
	case a.store != nil:
		errs = append(errs, a.store.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if s, ok := a.logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	return errors.Join(errs...)
}

func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, types.WrapError(types.ErrConfigError, "build logger", err)
	}
	a := &app{cfg: cfg, logger: log}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	reg, err := registry.LoadFile(cfg.NetworksFile)
	if err != nil {
		return err
	}

	opts := []chainpay.Option{
		chainpay.WithLogger(a.logger),
		chainpay.WithPriceFeed(pricing.NewCoinGeckoFeed(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey).SetTimeout(cfg.PriceTimeout)),
	}

	if cfg.MetricsEnabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := metrics.NewPrometheusRecorder(promReg)
		if err != nil {
			return err
		}
		a.gatherer = promReg
		opts = append(opts, chainpay.WithMetrics(rec))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis unreachable at startup", map[string]any{"addr": cfg.RedisAddr, "error": err.Error()})
		}
		opts = append(opts, chainpay.WithPriceCache(pricing.NewRedisCache(rdb, "")))
	}

	storeOpts, err := a.openStore(cfg)
	if err != nil {
		return err
	}
	opts = append(opts, storeOpts...)

	a.cp, err = chainpay.New(chainpay.Config{
		Networks:           reg.List(),
		ToleranceRate:      &cfg.ToleranceRate,
		InvoiceTTL:         cfg.InvoiceTTL,
		VerifyTimeout:      cfg.VerifyTimeout,
		ScanTimeout:        cfg.ScanTimeout,
		ScanDepth:          cfg.ScanDepth,
		RPCMaxAttempts:     cfg.RPCMaxAttempts,
		RPCAttemptTimeout:  cfg.RPCAttemptTimeout,
		PriceTTL:           cfg.PriceTTL,
		PriceTimeout:       cfg.PriceTimeout,
		SubscriptionPeriod: cfg.SubscriptionPeriod,
	}, opts...)
	return err
}

// openStore selects the invoice store. ChainPay closes the store; the
// subscription store shares the postgres connection.
func (a *app) openStore(cfg *config.Config) ([]chainpay.Option, error) {
	switch cfg.StoreDriver {
	case config.StoreBadger:
		store, err := invoice.OpenBadgerStore(cfg.BadgerDir)
		if err != nil {
			return nil, types.WrapError(types.ErrConfigError, "open badger store", err)
		}
		a.store = store
		return []chainpay.Option{chainpay.WithStore(store)}, nil

	case config.StorePostgres:
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			TranslateError: true,
		})
		if err != nil {
			return nil, types.WrapError(types.ErrConfigError, "connect to postgres", err)
		}
		store, err := invoice.NewGormStore(db)
		if err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			return nil, types.WrapError(types.ErrConfigError, "migrate invoices", err)
		}
		a.store = store
		subs, err := settlement.NewGormSubscriptionStore(db, settlement.WithPeriod(cfg.SubscriptionPeriod))
		if err != nil {
			return nil, types.WrapError(types.ErrConfigError, "migrate subscriptions", err)
		}
		return []chainpay.Option{chainpay.WithStore(store), chainpay.WithActivator(subs)}, nil

	default:
		a.logger.Warn("using in-memory invoice store; invoices are lost on restart", nil)
		return nil, nil
	}
}
