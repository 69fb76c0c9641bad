// File: cmd/app/main.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-payment-gate/internal/config"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/domain/ports/repository"
	"crypto-payment-gate/internal/infra/adapters/chain"
	"crypto-payment-gate/internal/infra/adapters/notify"
	"crypto-payment-gate/internal/infra/adapters/oracle"
	"crypto-payment-gate/internal/infra/api"
	"crypto-payment-gate/internal/infra/db/memory"
	pg "crypto-payment-gate/internal/infra/db/postgres"
	"crypto-payment-gate/internal/infra/logging"
	"crypto-payment-gate/internal/infra/metrics"
	"crypto-payment-gate/internal/infra/ratelimit"
	red "crypto-payment-gate/internal/infra/redis"
	"crypto-payment-gate/internal/infra/sched"
	"crypto-payment-gate/internal/infra/worker"
	"crypto-payment-gate/internal/usecase"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, generated token secret)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
	}

	// ---- Storage ----
	var (
		payments repository.PaymentStateRepository
		subs     repository.SubscriptionRepository
		txm      repository.TransactionManager
		storage  = "memory"
	)
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, &cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		go pg.ReportPoolStats(ctx, pool, 15*time.Second)

		payments = pg.NewPaymentStateRepo(pool)
		subs = pg.NewSubscriptionRepo(pool)
		if redisClient != nil {
			subs = pg.NewSubscriptionRepoCacheDecorator(subs, redisClient, cfg.Redis.TTL)
		}
		txm = pg.NewTxManager(pool)
		storage = "postgres"
	} else {
		logger.Warn().Msg("database.url not set; payment and subscription state is kept in memory")
		payments = memory.NewPaymentStateRepo()
		subs = memory.NewSubscriptionRepo()
		txm = memory.NewTxManager()
	}
	metrics.SetBuildInfo(version, storage)

	// ---- Rate limiter ----
	var limiter adapter.RateLimiter
	if cfg.RateLimit.Enabled {
		if redisClient != nil {
			limiter = red.NewRateLimiter(redisClient, cfg.RateLimit.FreeRequests, cfg.RateLimit.PaidRequests, cfg.RateLimit.Window)
		} else {
			mem := ratelimit.NewMemory(cfg.RateLimit.FreeRequests, cfg.RateLimit.PaidRequests, cfg.RateLimit.Window)
			go mem.Run(ctx, 0)
			limiter = mem
		}
	}

	// ---- Price oracle: CoinGecko -> in-process LRU -> Redis ----
	var prices adapter.PriceOracle = oracle.NewCached(
		oracle.NewCoinGecko(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.Timeout), cfg.Oracle.CacheTTL)
	if redisClient != nil {
		prices = red.NewPriceCache(redisClient, prices, cfg.Oracle.CacheTTL, logger)
	}

	// ---- Chain adapters ----
	var adapters []adapter.ChainAdapter
	if c := cfg.Chains.Solana; c.Enabled {
		a, err := chain.NewSolanaAdapter(c.RPCURL, c.Recipient, c.Label, prices, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("solana adapter")
		}
		adapters = append(adapters, a)
	}
	if c := cfg.Chains.Lightning; c.Enabled {
		a, err := chain.NewLightningAdapter(c.LNDURL, c.Macaroon, c.InvoiceExpiry, prices, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("lightning adapter")
		}
		adapters = append(adapters, a)
	}
	if c := cfg.Chains.Base; c.Enabled {
		a, err := chain.NewEVMAdapter(ctx, c.RPCURL, chain.EVMOptions{
			Chain:        model.ChainBase,
			ChainID:      c.ChainID,
			Recipient:    c.Recipient,
			USDCContract: c.USDCContract,
		}, prices, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("base adapter")
		}
		adapters = append(adapters, a)
	}

	// ---- Workers and notifications ----
	pool := worker.NewPool(cfg.Workers.Count, 30*time.Second, logger)
	pool.Start(ctx)

	notifier := usecase.NewNotifier(logger, notify.NewLogNotifier(logger))
	if tg := cfg.Notify.Telegram; tg.Token != "" {
		t, err := notify.NewTelegramNotifier(tg.Token, tg.ChatID)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
		notifier.Add(t)
	}

	// ---- Use cases ----
	responder := usecase.NewResponder(adapters, payments, cfg.Payment.TTL, cfg.Merchant.Label, logger)
	gate, err := usecase.NewPaymentGate(cfg.EndpointPricing(), responder, adapters, payments, limiter, notifier, pool,
		chain.PollPayment, usecase.GateOptions{
			VerifyTimeout: cfg.Payment.VerifyTimeout,
			PollInterval:  cfg.Payment.PollInterval,
			PollTimeout:   cfg.Payment.PollTimeout,
		}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gate")
	}
	subManager := usecase.NewSubscriptionManager(cfg.Tiers(), adapters, payments, subs, txm, cfg.Payment.TTL, logger)

	// ---- Schedulers ----
	var locker red.Locker
	if redisClient != nil {
		locker = red.NewLocker(redisClient)
	}
	expirer := sched.NewPaymentExpirer(gate, locker, cfg.Scheduler.ExpirySweepInterval, 0, logger)
	go func() { _ = expirer.Run(ctx) }()
	stats := sched.NewStatsWorker(time.Minute, subManager, logger)
	go func() { _ = stats.Run(ctx) }()

	// ---- HTTP ----
	secret := cfg.Auth.HMACSecret
	if secret == "" {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("auth.hmac_secret is required outside dev mode")
		}
		secret = randomSecret()
		logger.Warn().Msg("auth.hmac_secret not set; generated a throwaway secret, access tokens will not survive a restart")
	}
	srv := api.NewServer(gate, subManager, api.NewTokenIssuer(secret, cfg.Auth.AccessTokenTTL), api.Options{
		Port:           cfg.Server.Port,
		PublicURL:      cfg.Server.PublicURL,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		AwaitPayments:  cfg.Payment.PollTimeout > 0,
		Endpoints:      cfg.EndpointPricing(),
	}, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	pool.Stop()
	cancel()
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("generate secret: %v", err)
	}
	return hex.EncodeToString(b)
}
