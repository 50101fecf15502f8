package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/domain"
	loadtestsvc "github.com/acme/voice-load-test/internal/service/loadtest"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
	"github.com/acme/voice-load-test/pkg/logger"
)

// RunService builds runs and reads back their records.
type RunService interface {
	NewRun(input loadtestsvc.NewRunInput) (domain.LoadTestRun, error)
	Get(ctx context.Context, runID string) (*domain.Run, error)
	List(ctx context.Context, limit int) ([]*domain.Run, error)
	ListCalls(ctx context.Context, runID string, limit int, token string) (*loadtestsvc.CallPage, error)
	Report(ctx context.Context, runID string) (*loadtestsvc.Report, error)
}

// Launcher starts the dispatch batch of a run without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, run domain.LoadTestRun) error
}

// HealthCheck probes one backing store.
type HealthCheck func(ctx context.Context) error

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	runs     RunService
	launcher Launcher
	checks   map[string]HealthCheck
	logger   *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(runs RunService, launcher Launcher, checks map[string]HealthCheck, lg *logger.Logger) *HandlerSet {
	return &HandlerSet{
		runs:     runs,
		launcher: launcher,
		checks:   checks,
		logger:   lg.Named("http"),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	runs := v1.Group("/runs")
	runs.Post("/", h.startRun)
	runs.Get("/", h.listRuns)
	runs.Get("/:id", h.getRun)
	runs.Get("/:id/report", h.runReport)
	runs.Get("/:id/calls", h.listRunCalls)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if apperrors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
	}

	body := fiber.Map{"error": message}
	if hint := hintOf(err); hint != "" {
		body["hint"] = hint
	}
	return ctx.Status(code).JSON(body)
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}
