package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Endpoint serves /metrics and /healthz.
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	listener      net.Listener
	done          chan struct{}
}

// NewEndpoint creates the endpoint. It fails when metrics are disabled.
func NewEndpoint(settings *conf.Settings, m *Metrics) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, errors.Newf("metrics not enabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return &Endpoint{
		echo:          e,
		listenAddress: settings.Metrics.Listen,
		done:          make(chan struct{}),
	}, nil
}

// Handler exposes the router, mainly for tests.
func (e *Endpoint) Handler() http.Handler {
	return e.echo
}

// Addr is the bound address once Start has returned.
func (e *Endpoint) Addr() string {
	if e.listener == nil {
		return e.listenAddress
	}
	return e.listener.Addr().String()
}

// Start binds the listen address and serves in the background.
func (e *Endpoint) Start() error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return err
	}
	e.listener = ln
	e.echo.Listener = ln

	go func() {
		defer close(e.done)
		GetLogger().Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			GetLogger().Error("metrics HTTP server error", logger.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server and waits for the serve loop to exit.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	if e.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	GetLogger().Info("stopping metrics endpoint")
	err := e.echo.Shutdown(ctx)
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	return err
}
