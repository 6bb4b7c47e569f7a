// Package api serves the widget's display state over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/passbi/localtransport/internal/middleware"
	"github.com/passbi/localtransport/internal/models"
	"github.com/passbi/localtransport/internal/session"
)

// maxCalendarEvents bounds one POST body
const maxCalendarEvents = 50

// ViewSource publishes the current display snapshot
type ViewSource interface {
	View() *session.View
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Handlers holds the endpoint dependencies
type Handlers struct {
	views       ViewSource
	events      chan<- []models.CalendarEvent
	checks      map[string]HealthCheck
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewHandlers creates the handlers. events may be nil when calendar input is disabled;
// views may be nil for apps that only serve /health and /metrics.
func NewHandlers(views ViewSource, events chan<- []models.CalendarEvent, checks map[string]HealthCheck, logger *slog.Logger) *Handlers {
	return &Handlers{
		views:       views,
		events:      events,
		checks:      checks,
		sendTimeout: 2 * time.Second,
		logger:      logger,
	}
}

// NewApp builds the widget app with middleware and routes. metrics may be nil;
// a non-empty token guards the calendar endpoint.
func NewApp(h *Handlers, metrics http.Handler, token string) *fiber.App {
	app := h.base()
	h.mountOps(app, metrics)

	v1 := app.Group("/v1")
	v1.Get("/display", h.Display)
	v1.Get("/header", h.Header)
	v1.Post("/calendar/events", middleware.RequireToken(token), h.CalendarEvents)

	app.Use(notFound)
	return app
}

// NewOpsApp builds an app serving only /health and /metrics, for processes without a display
func NewOpsApp(checks map[string]HealthCheck, metrics http.Handler, logger *slog.Logger) *fiber.App {
	h := NewHandlers(nil, nil, checks, logger)
	app := h.base()
	h.mountOps(app, metrics)
	app.Use(notFound)
	return app
}

func (h *Handlers) base() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "LocalTransport",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          h.errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	return app
}

func (h *Handlers) mountOps(app *fiber.App, metrics http.Handler) {
	app.Get("/health", h.Health)
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
}

func notFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "endpoint not found",
	})
}

// Display handles GET /v1/display
func (h *Handlers) Display(c *fiber.Ctx) error {
	view := h.views.View()
	if view == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "display not ready")
	}
	return c.JSON(view)
}

// Header handles GET /v1/header
func (h *Handlers) Header(c *fiber.Ctx) error {
	view := h.views.View()
	if view == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "display not ready")
	}
	return c.JSON(fiber.Map{
		"header":      view.Header,
		"destination": view.Destination,
	})
}

// CalendarEvents handles POST /v1/calendar/events. The body is the calendar
// feed's event list; it replaces whatever the widget knew before.
func (h *Handlers) CalendarEvents(c *fiber.Ctx) error {
	if h.events == nil {
		return fiber.NewError(fiber.StatusNotFound, "calendar location is disabled")
	}

	var events []models.CalendarEvent
	if err := c.BodyParser(&events); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event list: "+err.Error())
	}
	if len(events) > maxCalendarEvents {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "too many events")
	}

	select {
	case h.events <- events:
	case <-time.After(h.sendTimeout):
		return fiber.NewError(fiber.StatusServiceUnavailable, "widget is busy")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": len(events),
	})
}

// Health handles the /health endpoint
func (h *Handlers) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "healthy"
	httpStatus := fiber.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = fiber.StatusServiceUnavailable
	}

	resp := fiber.Map{
		"status": status,
		"checks": checks,
	}
	if h.views != nil {
		if view := h.views.View(); view != nil {
			resp["state"] = view.State
		}
	}
	return c.Status(httpStatus).JSON(resp)
}

// errorHandler handles errors returned from handlers
func (h *Handlers) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	if code >= fiber.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Path(), "error", err)
	} else {
		h.logger.Debug("request rejected", "path", c.Path(), "status", code, "error", err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
