// Package http exposes the progression service as a JSON REST API built on
// Fiber.
package http

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/followme/followme-hub/internal/application/command"
	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// BodyLimit caps request bodies in bytes.
	BodyLimit int

	// Version is reported by /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BodyLimit:    64 * 1024,
		Version:      "v1",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies holds the application handlers the API delegates to.
type Dependencies struct {
	// Writes.
	Coordinator *command.ProgressionCoordinator
	Memberships *command.ChallengeMembershipHandler

	// Reads.
	Progress     *query.GetProgressHandler
	Destinations *query.GetUnlockedDestinationsHandler
	Entries      *query.EntriesInRangeHandler
	Report       *query.GetReportHandler
	Leaderboard  *query.GetLeaderboardHandler
	Challenges   *query.GetChallengesHandler

	// Health may be nil; /health then reports healthy with no checks.
	Health *HealthChecker

	Logger *slog.Logger

	// Clock returns the current time for time-relative reads.
	Clock func() time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	app    *fiber.App
	config Config
	deps   Dependencies
	logger *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(config Config, deps Dependencies) *Server {
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.BodyLimit <= 0 {
		config.BodyLimit = def.BodyLimit
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker(config.Version)
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(logger.KeyComponent, "http"),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "followme-hub",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		BodyLimit:             config.BodyLimit,
		ErrorHandler:          s.handleError,
		DisableStartupMessage: true,
		// Route params flow into stored entries and progress.
		Immutable: true,
	})

	s.app.Use(s.requestLogger)
	s.app.Use(recover.New())
	s.setupRoutes()
	return s
}

// App exposes the underlying Fiber application, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.config.Addr)
	return s.app.Listen(s.config.Addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	users := s.app.Group("/api/v1/users/:userID")

	users.Post("/entries", s.handleSubmitEntry)
	users.Get("/entries", s.handleListEntries)
	users.Delete("/entries/:entryID", s.handleDeleteEntry)
	users.Post("/recompute", s.handleRecompute)

	users.Get("/progress", s.handleGetProgress)
	users.Get("/destinations", s.handleGetDestinations)
	users.Get("/report", s.handleGetReport)
	users.Get("/leaderboard", s.handleGetLeaderboard)

	users.Get("/challenges", s.handleGetChallenges)
	users.Post("/challenges/:challengeID/membership", s.handleJoinChallenge)
	users.Delete("/challenges/:challengeID/membership", s.handleLeaveChallenge)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requestLogger tags the request with an ID, puts a request-scoped logger
// into the user context and logs the outcome. Errors are rendered here so the
// logged status is the one the client sees.
func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()

	rid := c.Get(fiber.HeaderXRequestID)
	if rid == "" {
		rid = uuid.NewString()
	}
	c.Set(fiber.HeaderXRequestID, rid)

	l := s.logger.With(logger.KeyRequestID, rid)
	c.SetUserContext(logger.WithContext(c.UserContext(), l))

	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	status := c.Response().StatusCode()
	level := slog.LevelInfo
	if status >= fiber.StatusInternalServerError {
		level = slog.LevelError
	}
	l.Log(c.UserContext(), level, "request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration", time.Since(start),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR RENDERING
// ══════════════════════════════════════════════════════════════════════════════

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, msg := classify(err)
	if status >= fiber.StatusInternalServerError {
		logger.FromContext(c.UserContext()).Error("request failed", logger.Err(err))
	}
	if status == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	return c.Status(status).JSON(errorResponse{Error: msg})
}

// classify maps an error to an HTTP status and a client-facing message.
// Internal failures never leak their text.
func classify(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}

	msg := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		msg = de.Message
	}

	switch {
	case shared.IsValidation(err):
		return fiber.StatusBadRequest, msg
	case shared.IsNotFound(err):
		return fiber.StatusNotFound, msg
	case shared.IsAlreadyExists(err):
		return fiber.StatusConflict, msg
	case shared.IsRetryable(err):
		return fiber.StatusServiceUnavailable, "progress is busy, retry shortly"
	}
	return fiber.StatusInternalServerError, "internal error"
}
