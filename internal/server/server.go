// Package server is the development backend: an in-memory stand-in for the
// member portal's PHP content API and a Pusher-protocol broker, so the client
// can run and be tested end to end without the real services.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/fellowship/internal/contentapi"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/nfrund/fellowship/internal/middleware"
	"github.com/nfrund/fellowship/internal/pubsub"
)

// Options configures a Server.
type Options struct {
	// Key and Secret sign channel subscriptions.
	Key    string
	Secret string
	// APIPrefix is where the content API is mounted, e.g. "/api".
	APIPrefix string
	Paths     contentapi.Paths
	// Seed populates the store; nil starts empty.
	Seed *Seed
	// SendLimit caps messages per member per minute; zero disables it.
	SendLimit int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Server holds the dependencies of the dev backend.
type Server struct {
	E      *echo.Echo
	store  *Store
	broker *Broker
	bus    *pubsub.WatermillBridge
	signer Signer
	paths  contentapi.Paths
	prefix string
	logger *slog.Logger
}

// New builds the backend and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Key == "" || opts.Secret == "" {
		return nil, errors.New("server: key and secret are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Paths == (contentapi.Paths{}) {
		opts.Paths = contentapi.DefaultPaths()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}

	store := NewStore()
	if opts.Seed != nil {
		if err := opts.Seed.Apply(store); err != nil {
			return nil, err
		}
	}

	bus := pubsub.NewWatermillBridge()
	signer := Signer{Key: opts.Key, Secret: opts.Secret}
	s := &Server{
		E:      echo.New(),
		store:  store,
		broker: NewBroker(signer, bus, opts.Logger),
		bus:    bus,
		signer: signer,
		paths:  opts.Paths,
		prefix: "/" + strings.Trim(opts.APIPrefix, "/"),
		logger: opts.Logger.With("component", "devserver"),
	}
	s.E.HideBanner = true
	s.E.HidePort = true
	s.E.Use(echomw.Recover())
	s.E.Use(echomw.RequestID())
	s.E.Use(middleware.Logger(s.logger))
	setupErrorHandling(s.E)
	s.registerRoutes(opts)
	return s, nil
}

func (s *Server) apiPath(p string) string {
	return s.prefix + "/" + strings.TrimLeft(p, "/")
}

func (s *Server) registerRoutes(opts Options) {
	member := middleware.RequireMember(s.store.IsMember)
	api := []echo.MiddlewareFunc{member}
	send := api
	if opts.SendLimit > 0 {
		send = append([]echo.MiddlewareFunc{member}, middleware.RateLimiter(opts.SendLimit))
	}

	s.E.GET(s.apiPath(s.paths.Channels), s.getChannels, api...)
	s.E.GET(s.apiPath(s.paths.Messages), s.getMessages, api...)
	s.E.POST(s.apiPath(s.paths.Send), s.sendMessage, send...)
	s.E.GET(s.apiPath(s.paths.Unread), s.getUnread, api...)
	s.E.POST(s.apiPath(s.paths.MarkRead), s.markRead, api...)
	s.E.POST(s.apiPath(s.paths.Auth), s.authorize, api...)

	s.E.GET("/unread", s.unreadFragment, api...)
	s.E.GET("/app/:key", s.broker.Handle)
	if opts.Metrics != nil {
		s.E.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
}

// setupErrorHandling logs unexpected handler errors with a stack trace and
// keeps echo's response for HTTP errors.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err.Error(),
				"path", c.Path(),
				"stack_trace", string(debug.Stack()),
			)
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.E
}

// Store exposes the in-memory database.
func (s *Server) Store() *Store {
	return s.store
}

// Broker exposes the realtime broker.
func (s *Server) Broker() *Broker {
	return s.broker
}

// Bus is the in-process bus the broker fans out on. Loopback transports
// attached to it see the same events as websocket clients.
func (s *Server) Bus() *pubsub.WatermillBridge {
	return s.bus
}

// Start listens on addr and serves until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.E.Listener = ln
	s.logger.Info("Dev backend listening", "addr", ln.Addr().String(), "api", s.apiPath(""), "broker", "/app/"+s.signer.Key)
	if err := s.E.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects broker clients, stops the HTTP server and closes the bus.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broker.Close()
	err := s.E.Shutdown(ctx)
	if cerr := s.bus.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
