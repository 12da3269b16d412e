package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"dataplane-signaling/backend/internal/logging"
)

// NewEcho creates an echo instance that renders errors as problem documents.
func NewEcho(logger *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(logger))
	return e
}

// Mount registers the operational endpoints and the signaling API. Only the
// /api/v1 group passes through requireAuth.
func Mount(e *echo.Echo, s *Server, h *Handler, issuer string, requireAuth func(http.Handler) http.Handler) {
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(h.HandleHealth)))
	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler(issuer)))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler()))

	apiGroup := e.Group("/api/v1", echo.WrapMiddleware(requireAuth))
	s.RegisterRoutes(apiGroup)
}
