package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cardapiopro/cardapio-api/internal/domain/auth"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
	"github.com/cardapiopro/cardapio-api/internal/domain/order"
	"github.com/cardapiopro/cardapio-api/internal/domain/pricing"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
	"github.com/cardapiopro/cardapio-api/internal/handler"
	"github.com/cardapiopro/cardapio-api/internal/kafka"
	"github.com/cardapiopro/cardapio-api/internal/storage/postgres"
	"github.com/cardapiopro/cardapio-api/internal/storage/redisx"
	"github.com/cardapiopro/cardapio-api/pkg/health"
	"github.com/cardapiopro/cardapio-api/pkg/httpmiddleware"
)

const serviceName = "cardapio-api"

// Telemetry provides the OpenTelemetry providers. *app.Telemetry from the
// go-faster SDK satisfies it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, health.Check{Name: "postgres", Timeout: 5 * time.Second, Func: pool.Ping})
	healthSvc.Add(health.Liveness, health.Check{Name: "goroutines", Func: health.Goroutines(10000)})

	// Redis is optional; without it POST /orders is not deduplicated.
	var idem handler.Idempotency
	if cfg.Redis.Addr != "" {
		rdb, err := redisx.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		idem = redisx.NewOrderIdempotency(rdb)
		healthSvc.Add(health.Readiness, health.Check{Name: "redis", Timeout: 2 * time.Second, Func: redisx.Ping(rdb)})
		lg.Info("Order idempotency enabled", zap.String("redis", cfg.Redis.Addr))
	}

	var publisher order.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, serviceName, lg.Named("kafka"))
		defer func() {
			if err := p.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		}()
		publisher = p
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Repositories.
	txm := postgres.NewTxManager(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	couponValidator := coupon.NewValidator(couponRepo)
	settingsSvc := settings.NewService(settingsRepo)
	loyaltySvc := loyalty.NewService(customerRepo, txm)
	orderSvc, err := order.NewService(order.Deps{
		Orders:         orderRepo,
		Tx:             txm,
		Pricer:         pricing.NewEngine(catalogRepo),
		Coupons:        couponValidator,
		CouponUsage:    couponRepo,
		Settings:       settingsSvc,
		Loyalty:        loyaltySvc,
		Customers:      loyaltySvc,
		Publisher:      publisher,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	h := handler.New(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, handler.Deps{
		Catalog:     catalogRepo,
		Orders:      orderSvc,
		Validator:   couponValidator,
		Coupons:     coupon.NewService(couponRepo),
		Loyalty:     loyaltySvc,
		Settings:    settingsSvc,
		Keys:        auth.NewKeyVerifier(apikeyRepo, []byte(cfg.APIKeyPepper)),
		Tokens:      auth.NewTokens([]byte(cfg.JWT.Secret), cfg.JWT.TTL),
		Idempotency: idem,
	})

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Instrumentation and request logs run inside chi so that the matched
	// route pattern is known when they finish.
	router := chi.NewRouter()
	router.Use(
		httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(),
	)
	router.Get("/livez", healthSvc.Live)
	router.Get("/readyz", healthSvc.ReadyHandler)
	router.Mount("/api/v1", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type", "Authorization", handler.HeaderAPIKey,
					handler.HeaderIdempotencyKey, httpmiddleware.HeaderRequestID,
				},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, handler.HeaderIdempotentReplay, "Location"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.HeaderOrIP(handler.HeaderAPIKey),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
		),
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
