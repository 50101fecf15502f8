package api

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/acme/voice-load-test/internal/api/handlers"
	"github.com/acme/voice-load-test/internal/config"
)

// Server is the run-control HTTP surface.
type Server struct {
	app             *fiber.App
	addr            string
	shutdownTimeout time.Duration
}

// NewServer wires the handler set behind tracing and panic recovery.
func NewServer(cfg config.HTTPConfig, h *handlers.HandlerSet) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "voice-load-test",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		ErrorHandler:          h.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(otelfiber.Middleware(otelfiber.WithSpanNameFormatter(func(c *fiber.Ctx) string {
		return c.Method() + " " + c.Route().Path
	})))
	h.Register(app)

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{app: app, addr: net.JoinHostPort("", strconv.Itoa(cfg.Port)), shutdownTimeout: timeout}
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then drains in-flight requests.
// A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(s.addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	drain, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(drain); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
