package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	mw "github.com/philipwilson/trees/internal/api/middleware"
	"github.com/philipwilson/trees/internal/catalog"
	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability"
	"github.com/philipwilson/trees/internal/photostore"
	"github.com/philipwilson/trees/internal/publish"
	"github.com/philipwilson/trees/internal/reconcile"
)

// Server is the companion HTTP server.
// It manages the Echo instance, middleware and all routes.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	// Dependencies
	store      datastore.Interface
	photos     photostore.Store
	reconciler *reconcile.Reconciler
	catalog    *catalog.Catalog
	publisher  *publish.Publisher
	metrics    *observability.Metrics
	logTail    *logger.TailBuffer

	controller *Controller

	mu        sync.Mutex
	listener  net.Listener
	serveErr  chan error
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithDataStore sets the record store.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) {
		s.store = ds
	}
}

// WithPhotoStore sets the photo blob store.
func WithPhotoStore(ps photostore.Store) ServerOption {
	return func(s *Server) {
		s.photos = ps
	}
}

// WithReconciler sets the reconciler that receives transfers and imports.
func WithReconciler(r *reconcile.Reconciler) ServerOption {
	return func(s *Server) {
		s.reconciler = r
	}
}

// WithCatalog sets the species catalog. Without it the built-in catalog is used.
func WithCatalog(c *catalog.Catalog) ServerOption {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithPublisher enables POST /api/v1/exports/publish.
func WithPublisher(p *publish.Publisher) ServerOption {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithMetrics sets the observability metrics and exposes /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogTail exposes recent log output at /api/v1/logs.
func WithLogTail(t *logger.TailBuffer) ServerOption {
	return func(s *Server) {
		s.logTail = t
	}
}

// New creates the HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config, err := ConfigFromSettings(settings)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(config, settings, opts...)
}

// NewWithConfig creates the server from an explicit Config.
func NewWithConfig(config *Config, settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = logger.NewDiscardLogger()
	}
	s.log = s.log.Module("api")

	if s.store == nil {
		return nil, errors.Newf("api server requires a datastore").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Int("max_connections", config.MaxConnections),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	s.echo.Use(mw.NewRequestLogger(s.log.Module("http")))

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	s.echo.Use(mw.NewCORS(s.config.AllowedOrigins))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit, nil))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	s.controller = NewController(s.echo.Group("/api/v1"), Deps{
		Store:      s.store,
		Photos:     s.photos,
		Reconciler: s.reconciler,
		Catalog:    s.catalog,
		Publisher:  s.publisher,
		Metrics:    s.metrics,
		LogTail:    s.logTail,
		DiskPath:   s.diskPath(),
		StartTime:  s.startTime,
	}, s.log)
}

// diskPath is the directory whose free space the health endpoint reports.
func (s *Server) diskPath() string {
	if s.settings == nil {
		return "."
	}
	if s.settings.Photos.Driver == string(photostore.DriverFilesystem) && s.settings.Photos.Path != "" {
		return s.settings.Photos.Path
	}
	return "."
}

// Start binds the listener and serves in the background. It returns once
// the socket is bound, so a port conflict is reported to the caller.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.Newf("http server already started").
			Component("api").
			Category(errors.CategoryState).
			Build()
	}

	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", s.config.Address()).
			Build()
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	s.listener = ln
	s.echo.Listener = ln
	s.serveErr = make(chan error, 1)

	go func() {
		err := s.echo.Start(s.config.Address())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.Error(err))
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	s.log.Info("HTTP server listening", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.ShutdownContext(ctx)
}

// ShutdownContext stops the server, waiting for in-flight requests until ctx is done.
func (s *Server) ShutdownContext(ctx context.Context) error {
	s.mu.Lock()
	serveErr := s.serveErr
	s.mu.Unlock()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	if serveErr != nil {
		if err := <-serveErr; err != nil {
			return err
		}
	}

	s.log.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Controller returns the /api/v1 controller.
func (s *Server) Controller() *Controller {
	return s.controller
}
