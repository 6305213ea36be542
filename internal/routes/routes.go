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

	"github.com/kopa-credit/kopa/internal/config"
	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/loans"
	"github.com/kopa-credit/kopa/internal/matcher"
	"github.com/kopa-credit/kopa/internal/middleware"
	"github.com/kopa-credit/kopa/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes, and returns the
// ledger backend so the caller can wire the overdue sweep against the same
// storage.
func Setup(app *fiber.App, d Deps) (ledger.Ledger, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		// Payment intake deduplication: each physical money movement maps to
		// exactly one ledger call. The ledger itself does not deduplicate.
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	matcherSvc := matcher.NewService(ledgerBackend, notifier, d.Logger)
	loanSvc := loans.NewService(ledgerBackend, loans.Limits{
		MaxTermMonths:  d.Cfg.MaxTermMonths,
		MinInstallment: d.Cfg.MinInstallment,
	}, d.Logger)

	matcherHandler := matcher.NewHandler(matcherSvc)
	loanHandler := loans.NewHandler(loanSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	depositLimiter := middleware.DepositRateLimit(d.Cache, d.Cfg.DepositRateLimit)
	RegisterLoanRoutes(api, loanHandler)
	RegisterWalletRoutes(api, matcherHandler, depositLimiter)

	return ledgerBackend, nil
}
