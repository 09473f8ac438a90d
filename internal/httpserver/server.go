package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chadiek/algoviz/internal/config"
	"github.com/chadiek/algoviz/internal/viewer"
)

// Deps are the collaborators the routes need. Problems, Sessions and
// Gatherer are optional.
type Deps struct {
	Viewer   viewer.Deps
	Problems ProblemLister
	Sessions SessionLister
	Gatherer prometheus.Gatherer
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler
	Echo   *echo.Echo
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := Handlers{
		Problems: deps.Problems,
		Sessions: deps.Sessions,
		Viewer:   &viewer.Handler{Deps: deps.Viewer, AuthPassword: cfg.AuthPassword},
		Metrics:  promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
	h.Register(e)
	return &Server{Router: e, Echo: e}
}
