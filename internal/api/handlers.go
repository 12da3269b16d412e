package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"k8s.io/utils/clock"

	"dataplane-signaling/backend/internal/logging"
	"dataplane-signaling/backend/pkg/status"
)

const (
	serviceName    = "dataplane-signaling"
	serviceVersion = "1.0.0"
)

// Handler serves the unauthenticated operational endpoints.
type Handler struct {
	runtimeID string
	clock     clock.PassiveClock
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(runtimeID string, clk clock.PassiveClock) *Handler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Handler{runtimeID: runtimeID, clock: clk}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	RuntimeID string    `json:"runtimeId"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC(),
		Service:   serviceName,
		Version:   serviceVersion,
		RuntimeID: h.runtimeID,
	})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

const mimeProblemJSON = "application/problem+json"

// problemFor converts any handler error into a problem document. Failures keep
// their reason as the title; echo errors keep their status code.
func problemFor(err error, instance string) ProblemDetails {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		detail := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
		return ProblemDetails{
			Type:     "about:blank",
			Title:    http.StatusText(he.Code),
			Status:   he.Code,
			Detail:   detail,
			Instance: instance,
		}
	}

	f := status.FromError(err)
	return ProblemDetails{
		Type:     "about:blank",
		Title:    f.Reason.String(),
		Status:   f.Reason.HTTPStatus(),
		Detail:   f.Message,
		Instance: instance,
	}
}

// ErrorHandler renders every error returned by a route as RFC 7807 Problem
// Details JSON.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		p := problemFor(err, c.Request().URL.Path)
		if p.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "path", p.Instance, "status", p.Status, "error", err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, mimeProblemJSON)
		c.Response().WriteHeader(p.Status)
		if c.Request().Method == http.MethodHead {
			return
		}
		_ = json.NewEncoder(c.Response()).Encode(p)
	}
}

// RequestLogger logs one line per request through the application logger.
func RequestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			kv := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String()}
			if v.Error != nil {
				kv = append(kv, "error", v.Error.Error())
			}
			logger.Debug("request", kv...)
			return nil
		},
	})
}
