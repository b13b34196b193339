// Package httpapi exposes the renewal trigger over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"renewal_notifier/internal/app"
	"renewal_notifier/internal/infra/metrics"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const TriggerPath = "/api/renewals"

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type handler struct {
	gate   *app.Gate
	runner app.Runner
	logger *logrus.Entry
}

// New builds the echo server: the trigger endpoint, /healthz and /metrics.
func New(gate *app.Gate, runner app.Runner, logger *logrus.Entry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
			}).Info("HTTP request")
			return nil
		},
	}))

	h := &handler{gate: gate, runner: runner, logger: logger}
	e.Any(TriggerPath, h.trigger)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

func (h *handler) trigger(c echo.Context) error {
	req := c.Request()
	decision, err := h.gate.Authorize(req.Method, req.Header.Get(echo.HeaderAuthorization))
	if err != nil {
		metrics.IncTriggerRequest(req.Method, http.StatusForbidden)
		msg := "Forbidden"
		if errors.Is(err, app.ErrMethodNotAllowed) {
			msg = err.Error()
		}
		h.logger.WithFields(logrus.Fields{
			"method":    req.Method,
			"remote_ip": c.RealIP(),
		}).Warnf("Rejected trigger request: %v", err)
		return c.JSON(http.StatusForbidden, errorResponse{OK: false, Error: msg})
	}

	if decision == app.DecisionInspect {
		metrics.IncTriggerRequest(req.Method, http.StatusOK)
		if req.Method == http.MethodHead {
			return c.NoContent(http.StatusOK)
		}
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "status": "ready"})
	}

	report := h.runner.Run(req.Context())
	if !report.OK {
		metrics.IncTriggerRequest(req.Method, http.StatusInternalServerError)
		return c.JSON(http.StatusInternalServerError, report)
	}
	metrics.IncTriggerRequest(req.Method, http.StatusOK)
	return c.JSON(http.StatusOK, report)
}
