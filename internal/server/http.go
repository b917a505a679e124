// Package server exposes the dashboard series over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"purchasedash/internal/core"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: bearer token required on API routes
	MetricsEnabled  bool   // Whether to expose the Prometheus endpoint
	MetricsEndpoint string // HTTP path for metrics (default: /metrics)
	SwaggerEnabled  bool   // Serve the Swagger UI under /swagger/
	BodyLimit       string // Max request body, e.g. "2M" (default: 2M)
	DefaultMonths   int    // Window length when a request omits months
}

// New creates the HTTP server.
func New(svc Service, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = errorHandler

	handler := NewHandler(svc, cfg.DefaultMonths)

	authSkipPaths := []string{"/health"}
	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}
	if cfg.SwaggerEnabled {
		authSkipPaths = append(authSkipPaths, "/swagger/*")
	}

	bodyLimit := cfg.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "2M"
	}

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestIDContext())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(brotliMiddleware(brotli.DefaultCompression))
	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}
	if cfg.SwaggerEnabled {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
	}

	// API routes
	api := e.Group("/api/v1")
	api.GET("/analytics/collections", handler.ListCollections)
	api.GET("/analytics/:collection/monthly", handler.MonthlySeries)
	api.GET("/analytics/:collection/monthly/cumulative", handler.CumulativeSeries)
	api.DELETE("/analytics/:collection/cache", handler.InvalidateCache)
	api.POST("/records/:collection", handler.IngestRecords)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// requestIDContext copies the X-Request-ID assigned by the RequestID middleware
// into the request context.
func requestIDContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	})
}

// errorHandler renders router and middleware errors (404, 405, 413) in the same
// envelope the handlers use.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "an unexpected error occurred"
	errType := "internal_error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(status)
		}
		switch {
		case status == http.StatusNotFound:
			errType = "not_found_error"
		case status < http.StatusInternalServerError:
			errType = "invalid_request_error"
		}
	} else {
		slog.Error("unhandled error", "path", c.Path(), "error", err)
	}

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
