package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/thecodeguy777/jlr-dashboard/internal/auth"
	"github.com/thecodeguy777/jlr-dashboard/internal/config"
	"github.com/thecodeguy777/jlr-dashboard/internal/stream"
	"github.com/thecodeguy777/jlr-dashboard/internal/tracking"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	Stream *stream.Hub
}

func NewServer(cfg config.Config, eng tracking.Engine, hub *stream.Hub) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		Stream: hub,
	}

	registerRoutes(s, eng)
	return s
}

func registerRoutes(s *Server, eng tracking.Engine) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	tracking.RegisterRoutes(s.App.Group("/tracking"), eng, jwtMiddleware)
	if s.Stream != nil {
		stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
	}
}
