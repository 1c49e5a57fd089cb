package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/config"
)

// HealthCheck reports whether the gateway's dependencies are usable
type HealthCheck func(ctx context.Context) error

// NewServer builds the fiber app serving gateway. health may be nil.
func NewServer(cfg config.GatewayConfig, gateway *Gateway, health HealthCheck, log logger.Logger) *fiber.App {
	if log == nil {
		log = logger.NewNopLogger()
	}
	app := fiber.New(fiber.Config{
		AppName:               "Trip Planner Sync Gateway",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Errorf("HTTP Error: %v", err)
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		if health != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				log.Errorf("Health check failed: %v", err)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "UNHEALTHY",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(fiber.Map{
			"status":    "OK",
			"timestamp": time.Now().UTC(),
		})
	})

	gateway.RegisterRoutes(app)
	return app
}
