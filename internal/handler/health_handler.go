package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

var errBrokerDown = errors.New("broker disconnected")

// BrokerStatus reports whether the message broker connection is up.
type BrokerStatus interface {
	Connected() bool
}

// Dependencies lists the optional backing services probed by /readyz. Nil
// entries are reported as "disabled" and do not affect readiness.
type Dependencies struct {
	SQL    *sql.DB
	Redis  *redis.Client
	Broker BrokerStatus
}

func RegisterHealthRoutes(app fiber.Router, deps Dependencies) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true
		record := func(name string, enabled bool, err error) {
			switch {
			case !enabled:
				checks[name] = "disabled"
			case err != nil:
				checks[name] = "down"
				ready = false
			default:
				checks[name] = "ok"
			}
		}

		if deps.SQL != nil {
			record("postgres", true, deps.SQL.PingContext(ctx))
		} else {
			record("postgres", false, nil)
		}
		// Redis being down degrades to local state, so it is reported but
		// does not fail readiness.
		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "degraded"
			} else {
				checks["redis"] = "ok"
			}
		} else {
			record("redis", false, nil)
		}
		if deps.Broker != nil {
			var err error
			if !deps.Broker.Connected() {
				err = errBrokerDown
			}
			record("rabbitmq", true, err)
		} else {
			record("rabbitmq", false, nil)
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
