package middleware

import (
	"fmt"
	"time"

	"skin-api/internal/ctx"
	"skin-api/internal/metrics"
	"skin-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	log = shared.OrNop(log)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate(shared.RequestIDAlphabet, shared.RequestIDLength)
			reqID = "req_" + reqID
			externalID := c.Request().Header.Get("X-Request-Id")
			logger := log.With(
				"request_id", reqID,
			)
			if externalID != "" {
				logger = logger.With("externalid", externalID)
			}

			start := time.Now()
			cc := &ctx.Context{
				Context: c,
				Log:     logger,
				Reqid:   reqID,
				LogValues: &ctx.ContextLogValues{
					RequestID:  reqID,
					ExternalID: externalID,
					ClientIP:   c.RealIP(),
					StartTime:  start,
					Path:       c.Path(),
				},
			}
			cc.Response().Header().Set(echo.HeaderXRequestID, reqID)

			err := next(cc)
			if err != nil {
				cc.LogValues.AddError(err)
				c.Error(err)
			}

			status := cc.Response().Status
			cc.LogValues.StatusCode = status
			cc.LogValues.RequestDuration = time.Since(start)
			logger.Logw(cc.LogValues.Level(), "end_of_request", "request", cc.LogValues)
			metrics.ResponseCodes.WithLabelValues(c.Path(), fmt.Sprintf("%d", status)).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	log = shared.OrNop(log)
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error(), "stack", string(stack))
			return c.JSON(500, shared.ErrorBody{
				Status:  "error",
				Message: shared.ErrInternalServerError.Err.Error(),
			})
		},
	})
}
