package httpserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/algoviz/internal/backend"
	"github.com/chadiek/algoviz/internal/sessionlog"
)

// ProblemLister serves the problem catalog.
type ProblemLister interface {
	Problems(ctx context.Context) ([]backend.Problem, error)
}

// SessionLister serves recently logged voice sessions.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]sessionlog.Record, error)
}

type Handlers struct {
	Problems ProblemLister
	Sessions SessionLister
	Viewer   http.Handler
	Metrics  http.Handler
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(h.Metrics))
	e.GET("/ws", echo.WrapHandler(h.Viewer))
	e.GET("/api/problems", h.problems)
	e.GET("/api/sessions", h.sessions)
}

func (h Handlers) problems(c echo.Context) error {
	if h.Problems == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "problem catalog not configured"})
	}
	list, err := h.Problems.Problems(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("problem catalog failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, list)
}

func (h Handlers) sessions(c echo.Context) error {
	if h.Sessions == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session store not configured"})
	}
	limit := 20
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = min(n, 200)
	}
	recs, err := h.Sessions.Recent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, recs)
}
