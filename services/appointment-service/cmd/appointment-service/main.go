package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/pestledger/libs/auth"
	"github.com/md-rashed-zaman/pestledger/libs/config"
	"github.com/md-rashed-zaman/pestledger/libs/db"
	"github.com/md-rashed-zaman/pestledger/libs/grpcx"
	"github.com/md-rashed-zaman/pestledger/libs/httpx"
	"github.com/md-rashed-zaman/pestledger/libs/kafkax"
	otelx "github.com/md-rashed-zaman/pestledger/libs/otel"
	"github.com/md-rashed-zaman/pestledger/libs/redisx"
	"github.com/md-rashed-zaman/pestledger/libs/runtime"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/availability"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/booking"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/catalog"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/handlers"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/ledger"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/metrics"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/notary"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/outbox"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/storage"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/workflow"
)

func main() {
	if _, err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		if cat, err = catalog.Load(cfg.CatalogPath); err != nil {
			logger.Error("catalog load failed", "path", cfg.CatalogPath, "err", err)
			panic(err)
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		panic(err)
	}
	grid, err := availability.NewGrid(cfg.SlotStart, cfg.SlotEnd, cfg.SlotStep, loc)
	if err != nil {
		panic(err)
	}

	var checks []runtime.ReadyCheck

	var store storage.Store = storage.NewMemory()
	var pool *db.Pool
	if cfg.StoreDriver == "postgres" {
		pool, err = db.Open(ctx, cfg.DatabaseURL, db.Options{})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, pool, storage.Migrations, "migrations", logger); err != nil {
				logger.Error("migrations failed", "err", err)
				panic(err)
			}
		}
		store = storage.NewPostgres(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	var rdb *redis.Client
	var cache availability.Cache = availability.NewMemoryCache(cfg.CacheTTL)
	if cfg.RedisURL != "" {
		rdb, err = redisx.Open(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "err", err)
			panic(err)
		}
		defer func() { _ = rdb.Close() }()
		cache = availability.NewRedisCache(rdb, cfg.CacheTTL, "pestledger:availability")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}

	var l ledger.Ledger = ledger.NewMemory()
	if cfg.LedgerDriver == "ethereum" {
		eth, closeEth, err := ledger.DialEthereum(ctx, ledger.EthereumConfig{
			RPCURL:           cfg.LedgerRPCURL,
			PrivateKey:       cfg.LedgerPrivateKey,
			MinConfirmations: uint64(cfg.LedgerMinConfirm),
			NotaryAddress:    cfg.LedgerNotary,
		})
		if err != nil {
			logger.Error("ledger connection failed", "err", err)
			panic(err)
		}
		defer closeEth()
		logger.Info("ethereum ledger ready", "signer", eth.Address().Hex())
		l = eth
	}

	if len(cfg.KafkaBrokers) > 0 {
		if pool == nil {
			logger.Warn("KAFKA_BROKERS ignored: the outbox needs STORE_DRIVER=postgres")
		} else {
			writer := kafkax.NewWriter(cfg.KafkaBrokers)
			defer func() { _ = writer.Close() }()
			publisher := outbox.NewPublisher(pool, writer, logger, outbox.PublisherConfig{
				PollEvery: 2 * time.Second,
				BatchSize: 50,
			})
			go publisher.Run(ctx)
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
		}
	}

	roles := workflow.NewRoles(cfg.PrivilegedRoles...)
	index := availability.NewIndex(store, grid, cache, m, logger)
	coord := booking.NewCoordinator(store, cat, grid, index, roles, m, logger)
	wf := workflow.New(store, index, roles, m, logger)
	conn := notary.New(store, l, notary.Config{
		MaxAttempts:     cfg.NotarizeMaxAttempts,
		InitialBackoff:  cfg.NotarizeInitialBackoff,
		MaxBackoff:      cfg.NotarizeMaxBackoff,
		ConfirmAttempts: cfg.NotarizeConfirmAttempts,
		LeaseTTL:        cfg.NotarizeLeaseTTL,
		AllowedStatuses: cfg.NotarizeAllowed,
	}, m, logger)

	router := runtime.NewBaseRouter(checks...)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	authn := auth.Middleware(auth.Options{
		Secret:       cfg.JWTSecret,
		TrustHeaders: cfg.JWTSecret == "",
		Logger:       logger,
	})
	handlers.New(cat, index, coord, wf, conn, logger).Register(router, authn)

	rateLimit := httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Middleware()
	if rdb != nil {
		rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "pestledger:ratelimit").Middleware(logger, true)
	}

	httpHandler := httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: cfg.CORSOrigins, MaxAge: 10 * time.Minute}),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointment")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcx.NewServer(logger)
	go func() {
		if err := grpcServer.Serve(ctx, ":"+cfg.GRPCPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	grpcServer.MarkServing(cfg.Service)

	go func() {
		logger.Info("http server starting",
			"addr", srv.Addr,
			"store", cfg.StoreDriver,
			"ledger", cfg.LedgerDriver,
			"capacity", grid.Capacity(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdown(srv, logger)
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
