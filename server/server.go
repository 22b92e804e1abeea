// Package server exposes trackers over HTTP. Trackers and their identities
// are addressed by the numeric handles of a facetrack.Registry.
package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/lib-x/facetrack"
)

// Config configures a Server.
type Config struct {
	// Engine is given to every tracker the server creates. It may be nil
	// for a server that only manages stored memories.
	Engine facetrack.Engine
	// Store backs the named memory routes. Nil disables them.
	Store facetrack.MemoryStore
	// TrackerOptions are passed to facetrack.New and facetrack.Restore.
	TrackerOptions []facetrack.Option
	// Parameters is a key=value; batch applied to new trackers.
	Parameters string
	MaxFaces   int
	BodyLimit  int
	CORS       bool
	// RequestLog enables fiber's access log middleware.
	RequestLog bool
	// Policy filters the errors of asynchronously fed frames before they
	// are sent to event subscribers.
	Policy facetrack.ErrorPolicy
	Logger *slog.Logger
}

// Server is the HTTP bridge.
type Server struct {
	app      *fiber.App
	cfg      Config
	registry *facetrack.Registry
	events   *hub
	async    *pipelines
	logger   *slog.Logger
}

// New builds the fiber app and its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFaces <= 0 {
		cfg.MaxFaces = 5
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 16 << 20
	}

	s := &Server{
		cfg:      cfg,
		registry: facetrack.NewRegistry(),
		events:   newHub(),
		async:    newPipelines(),
		logger:   cfg.Logger.With("component", "server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "facetrack",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	if cfg.RequestLog {
		app.Use(logger.New())
	}
	if cfg.CORS {
		app.Use(cors.New())
	}

	app.Get("/health", s.health)

	api := app.Group("/trackers")
	api.Post("/", s.createTracker)
	api.Get("/", s.listTrackers)
	api.Post("/restore", s.restoreTracker)

	// the events route upgrades to a websocket
	api.Use("/:h/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/:h/events", websocket.New(s.streamEvents))

	t := api.Group("/:h")
	t.Delete("/", s.freeTracker)
	t.Get("/parameters", s.getParameters)
	t.Put("/parameters", s.setParameters)
	t.Post("/clear", s.clearTracker)
	t.Post("/frames", s.feedFrame)
	t.Post("/match", s.match)
	t.Get("/memory", s.saveMemory)
	t.Get("/ids", s.listIDs)

	id := t.Group("/ids/:id")
	id.Delete("/", s.purge)
	id.Post("/lock", s.lock)
	id.Post("/unlock", s.unlock)
	id.Get("/name", s.getName)
	id.Put("/name", s.setName)
	id.Get("/names", s.allNames)
	id.Get("/similar", s.similarIDs)
	id.Get("/reassignment", s.reassignment)
	id.Get("/position", s.position)
	id.Get("/eyes", s.eyes)
	id.Get("/attributes/:name", s.attribute)

	s.app = app
	return s
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Registry returns the registry holding the server's trackers.
func (s *Server) Registry() *facetrack.Registry { return s.registry }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the listener and the background pipelines, then closes
// every tracker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	perr := s.stopPipelines()
	s.events.closeAll()
	return errors.Join(err, perr, s.registry.Close())
}
