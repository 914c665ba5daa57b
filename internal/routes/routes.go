package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lexconsult/lexconsult_wallet/internal/auth"
	"github.com/lexconsult/lexconsult_wallet/internal/billing"
	"github.com/lexconsult/lexconsult_wallet/internal/config"
	"github.com/lexconsult/lexconsult_wallet/internal/gateway"
	"github.com/lexconsult/lexconsult_wallet/internal/ledger"
	"github.com/lexconsult/lexconsult_wallet/internal/metrics"
	"github.com/lexconsult/lexconsult_wallet/internal/middleware"
	"github.com/lexconsult/lexconsult_wallet/internal/notification"
	"github.com/lexconsult/lexconsult_wallet/internal/recharge"
	"github.com/lexconsult/lexconsult_wallet/internal/validation"
	"github.com/lexconsult/lexconsult_wallet/internal/wallet"
	"github.com/lexconsult/lexconsult_wallet/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Store overrides the store chosen from DB. Used by tests.
	Store ledger.Store
}

// Handlers groups the HTTP handlers of every module.
type Handlers struct {
	Wallet     *wallet.Handler
	Billing    *billing.Handler
	Withdrawal *withdrawal.Handler
	Recharge   *recharge.Handler
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	store, err := buildStore(d)
	if err != nil {
		return err
	}
	h := buildHandlers(d, store)

	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d, store)
	app.Get("/metrics", d.Metrics.Handler())

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.Authenticate(auth.NewVerifier(d.Cfg.JWTSecret)))
	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	withdrawalLimit := middleware.RateLimit(d.Cache, "withdrawals", d.Cfg.WithdrawalRateLimit, d.Logger)

	RegisterWalletRoutes(protected, h.Wallet, idem)
	RegisterBillingRoutes(protected, h.Billing, idem)
	RegisterWithdrawalRoutes(protected, h.Withdrawal, idem, withdrawalLimit)
	RegisterPaymentRoutes(protected, h.Recharge, idem)
	return nil
}

func buildStore(d Deps) (ledger.Store, error) {
	if d.Store != nil {
		return d.Store, nil
	}
	if d.DB == nil {
		d.Logger.Warn("no database configured, using the in-memory ledger store")
		return ledger.NewInMemory(), nil
	}
	pg := ledger.NewPostgresStore(d.DB)
	ctx, cancel := context.WithTimeout(context.Background(), d.Cfg.StoreTimeout)
	defer cancel()
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return pg, nil
}

func buildHandlers(d Deps, store ledger.Store) Handlers {
	var notifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.Cache != nil {
		notifier = notification.NewRedisNotifier(d.Cache, notification.DefaultChannel)
	}

	ledgerSvc := wallet.NewService(store, wallet.Options{
		MaxAttempts:     d.Cfg.LedgerMaxAttempts,
		StoreTimeout:    d.Cfg.StoreTimeout,
		HistoryMaxLimit: d.Cfg.HistoryMaxLimit,
		Logger:          d.Logger,
		Metrics:         d.Metrics,
	})
	billingSvc := billing.NewService(ledgerSvc, notifier, d.Logger, d.Metrics, d.Cfg.Currency)

	var payouts withdrawal.PayoutGateway = withdrawal.StaticGateway{}
	if d.Cfg.PayoutGatewayURL != "" {
		payouts = withdrawal.NewHTTPGateway(gateway.NewClient(d.Cfg.PayoutGatewayURL, d.Cfg.PayoutGatewayKey, d.Cfg.PayoutGatewaySecret, d.Cfg.GatewayTimeout))
	} else {
		d.Logger.Warn("no payout gateway configured, payouts are acknowledged locally")
	}
	withdrawalSvc := withdrawal.NewService(store, ledgerSvc, payouts, withdrawal.Options{
		Currency:       d.Cfg.Currency,
		GatewayTimeout: d.Cfg.GatewayTimeout,
		StoreTimeout:   d.Cfg.StoreTimeout,
		Notifier:       notifier,
		Logger:         d.Logger,
		Metrics:        d.Metrics,
	})

	var orders recharge.OrderGateway = recharge.StaticOrderGateway{}
	if d.Cfg.OrderGatewayURL != "" {
		orders = recharge.NewHTTPOrderGateway(gateway.NewClient(d.Cfg.OrderGatewayURL, d.Cfg.PayoutGatewayKey, d.Cfg.PayoutGatewaySecret, d.Cfg.GatewayTimeout))
	}
	rechargeSvc := recharge.NewService(ledgerSvc, orders, recharge.Options{
		SigningSecret:   d.Cfg.PaymentSigningSecret,
		DefaultCurrency: d.Cfg.Currency,
		GatewayTimeout:  d.Cfg.GatewayTimeout,
		Notifier:        notifier,
		Logger:          d.Logger,
		Metrics:         d.Metrics,
	})

	validate := validation.New()
	return Handlers{
		Wallet:     wallet.NewHandler(ledgerSvc, validate),
		Billing:    billing.NewHandler(billingSvc, validate),
		Withdrawal: withdrawal.NewHandler(withdrawalSvc, validate),
		Recharge:   recharge.NewHandler(rechargeSvc, validate),
	}
}
