package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// auditParams are the route parameters worth carrying into the audit trail:
// enough to reconstruct which wallet, loan or entry a money movement touched.
var auditParams = map[string]string{
	"walletId":      "wallet_id",
	"loanId":        "loan_id",
	"ownerId":       "owner_id",
	"transactionId": "transaction_id",
}

// Audit emits structured logs for each request/response lifecycle event.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		duration := time.Since(start)
		requestID, _ := c.Locals(requestIDHeader).(string)

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		}
		if requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		for param, field := range auditParams {
			if v := c.Params(param); v != "" {
				attrs = append(attrs, slog.String(field, v))
			}
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("request completed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
