package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/solven/escrow/internal/auth"
	"github.com/solven/escrow/internal/commission"
	"github.com/solven/escrow/internal/config"
	"github.com/solven/escrow/internal/escrow"
	"github.com/solven/escrow/internal/gateway"
	"github.com/solven/escrow/internal/ledger"
	"github.com/solven/escrow/internal/metrics"
	"github.com/solven/escrow/internal/middleware"
	"github.com/solven/escrow/internal/notification"
	"github.com/solven/escrow/internal/orders"
	"github.com/solven/escrow/internal/payments"
	"github.com/solven/escrow/internal/retry"
	"github.com/solven/escrow/internal/txn"
	"github.com/solven/escrow/internal/users"
	"github.com/solven/escrow/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

type stores struct {
	tx       txn.Manager
	ledger   ledger.Store
	wallets  wallet.Repository
	orders   orders.Store
	escrows  escrow.Store
	intents  payments.Store
	users    users.Repository
	otpCodes users.CodeStore
}

// newStores picks PostgreSQL and Redis when they are configured and the
// in-memory implementations otherwise.
func newStores(d Deps) stores {
	var s stores
	if d.DB != nil {
		s.tx = txn.NewPostgres(d.DB)
		s.ledger = ledger.NewPostgresStore(d.DB)
		s.wallets = wallet.NewPostgresRepository(d.DB)
		s.orders = orders.NewPostgresStore(d.DB)
		s.escrows = escrow.NewPostgresStore(d.DB)
		s.intents = payments.NewPostgresStore(d.DB)
		s.users = users.NewPostgresRepository(d.DB)
	} else {
		s.tx = txn.NewMemory()
		s.ledger = ledger.NewInMemory()
		s.wallets = wallet.NewMemoryRepository()
		s.orders = orders.NewMemoryStore()
		s.escrows = escrow.NewMemoryStore()
		s.intents = payments.NewMemoryStore()
		s.users = users.NewMemoryRepository()
	}
	if d.Cache != nil {
		s.otpCodes = users.NewRedisCodeStore(d.Cache)
	} else {
		s.otpCodes = users.NewMemoryCodeStore()
	}
	return s
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(metrics.Middleware())
	if d.Cfg.IsDev() {
		// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", metrics.Handler())

	// Services
	s := newStores(d)
	calc, err := commission.New(d.Cfg.CommissionRate)
	if err != nil {
		return err
	}
	notifier := notification.NewLoggerNotifier(d.Logger)

	walletSvc := wallet.NewService(s.wallets, s.ledger, s.tx, notifier, d.Logger, wallet.Options{
		Currency:      d.Cfg.Currency,
		WithdrawalFee: d.Cfg.WithdrawalFee,
	})
	userSvc := users.NewService(s.users, s.otpCodes, walletSvc, notifier, d.Logger, users.Options{CodeTTL: d.Cfg.OTPTTL})
	walletSvc.UsePayoutDirectory(userSvc)

	orderSvc := orders.NewCoordinator(s.orders, calc, notifier, d.Logger)
	escrowSvc := escrow.NewService(s.escrows, orderSvc, walletSvc, calc, s.tx, notifier, d.Logger)

	sandboxes := map[string]*gateway.Sandbox{
		"paystack": gateway.NewSandbox(gateway.SandboxOptions{Name: "paystack", Secret: d.Cfg.PaystackSecretKey, Dialect: gateway.DialectPaystack}),
		"monnify":  gateway.NewSandbox(gateway.SandboxOptions{Name: "monnify", Secret: d.Cfg.MonnifySecretKey, Dialect: gateway.DialectMonnify}),
	}
	guard := gateway.GuardOptions{
		Timeout: d.Cfg.GatewayTimeout,
		Retry:   retry.Policy{Attempts: d.Cfg.GatewayRetries, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
	registry := gateway.NewRegistry(
		gateway.NewGuard(sandboxes["paystack"], guard),
		gateway.NewGuard(sandboxes["monnify"], guard),
	)
	checkout := payments.NewCheckout(s.intents, orderSvc, escrowSvc, registry, d.Logger)

	issuer, err := auth.NewIssuer(auth.IssuerOptions{
		AccessSecret:  d.Cfg.JWTSecret,
		RefreshSecret: d.Cfg.RefreshSecret,
		AccessTTL:     d.Cfg.AccessTokenTTL,
		RefreshTTL:    d.Cfg.RefreshTokenTTL,
	})
	if err != nil {
		return err
	}
	authSvc := auth.NewService(userSvc, issuer)

	authHandler := auth.NewHandler(userSvc, authSvc)
	userHandler := users.NewHandler(userSvc)
	walletHandler := wallet.NewHandler(walletSvc)
	orderHandler := orders.NewHandler(orderSvc)
	escrowHandler := escrow.NewHandler(escrowSvc)
	paymentHandler := payments.NewHandler(checkout)

	// API routes
	api := app.Group("/api/v1")
	api.Use(middleware.Audit(d.Logger))
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDOf(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	codeLimiter := middleware.RateLimit(d.Cache, middleware.RateLimitConfig{
		Name:   "otp",
		Max:    5,
		Window: 15 * time.Minute,
		Key:    middleware.PhoneKey,
	})
	RegisterAuthRoutes(api, authHandler, codeLimiter)
	RegisterWebhookRoutes(api, paymentHandler)
	if d.Cfg.IsDev() {
		RegisterSandboxRoutes(api, sandboxes, checkout)
	}

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger, webhookPath))
	}
	moneyLimiter := middleware.RateLimit(d.Cache, middleware.RateLimitConfig{
		Name:   "money",
		Max:    10,
		Window: time.Minute,
	})
	RegisterSessionRoutes(protected, authHandler)
	RegisterUserRoutes(protected, userHandler)
	RegisterWalletRoutes(protected, walletHandler, moneyLimiter)
	RegisterOrderRoutes(protected, orderHandler, escrowHandler)
	RegisterEscrowRoutes(protected, escrowHandler)
	RegisterPaymentRoutes(protected, paymentHandler)

	d.Logger.Info("routes ready", "env", d.Cfg.AppEnv, "postgres", d.DB != nil, "redis", d.Cache != nil,
		"gateways", registry.Names())
	return nil
}
