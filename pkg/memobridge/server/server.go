// Package server is the thin HTTP boundary: webhook and tool-call handlers
// over the bridge, plus the pairing setup flow. No domain logic lives here;
// everything delegates to the bridge and maps errors onto status codes.
package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/jholhewres/memobridge/pkg/memobridge/bridge"
	"github.com/jholhewres/memobridge/pkg/memobridge/config"
)

// Server hosts the HTTP API.
type Server struct {
	app    *fiber.App
	bridge *bridge.Bridge
	cfg    *config.Config
	logger *slog.Logger
}

// New builds the fiber app with rate limiting, bearer auth, and all routes.
func New(b *bridge.Bridge, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bridge: b,
		cfg:    cfg,
		logger: logger.With("component", "server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "memobridge",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})

	if cfg.Server.RateLimitPerMinute > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Server.RateLimitPerMinute,
			Expiration: time.Minute,
		}))
	}

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/", s.requireAuth)
	api.Post("/webhook/memory", s.handleMemoryWebhook)

	tools := api.Group("/tools")
	tools.Post("/send-message", s.handleSendMessage)
	tools.Post("/send-recap", s.handleSendRecap)
	tools.Post("/set-reminder", s.handleSetReminder)
	tools.Post("/save-contact", s.handleSaveContact)
	tools.Post("/delete-contact", s.handleDeleteContact)
	tools.Post("/import-contacts", s.handleImportContacts)
	tools.Get("/contacts", s.handleListContacts)
	tools.Get("/find-contact", s.handleFindContact)
	tools.Get("/check-number", s.handleCheckNumber)

	setup := api.Group("/setup")
	setup.Get("/:uid", s.handleSetupPage)
	setup.Post("/:uid/connect", s.handleSetupConnect)
	setup.Get("/:uid/status", s.handleSetupStatus)
	setup.Post("/:uid/logout", s.handleSetupLogout)

	s.app = app
	return s
}

// Listen blocks serving HTTP until Shutdown.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// requireAuth checks the bearer token against the configured bcrypt hash.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		token = token[len(prefix):]
	}
	if !config.VerifyAPISecret(s.cfg, token) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or missing API secret"})
	}
	return c.Next()
}
