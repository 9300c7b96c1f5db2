package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LoggerMiddleware logs one line per request. The request id ties API logs
// to audit_log entries written further down the stack.
func LoggerMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		reqID, _ := c.Locals(CtxRequestID).(string)
		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if financial, _ := c.Locals(CtxFinancialOp).(bool); financial {
			fields = append(fields, zap.Bool("financial_op", true))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			log.Warn("request failed", fields...)
			return err
		}

		log.Info("request", fields...)
		return nil
	}
}
