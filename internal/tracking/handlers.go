package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/thecodeguy777/jlr-dashboard/internal/engine"
	"github.com/thecodeguy777/jlr-dashboard/internal/track"
	"github.com/thecodeguy777/jlr-dashboard/internal/worksession"
)

// Engine is the slice of the tracking engine these handlers drive.
type Engine interface {
	ClockIn(ctx context.Context, driverID string, lat, lng float64, at time.Time) (worksession.Session, error)
	ClockOut(ctx context.Context, driverID string, lat, lng float64, at time.Time) (worksession.Session, error)
	Position(ctx context.Context, driverID string, raw track.Position, battery int, signal string) error
	SensorError(driverID, reason string) error
	SetConnectivity(online bool)
	ExpectShift(driverID string, startAt time.Time)
	Status(ctx context.Context, driverID string) engine.StatusReport
}

func RegisterRoutes(r fiber.Router, eng Engine, authMiddleware fiber.Handler) {
	r.Post("/clock-in", authMiddleware, func(c *fiber.Ctx) error {
		var req ClockRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}
		session, err := eng.ClockIn(c.Context(), driverID(c), req.Latitude, req.Longitude, req.Timestamp)
		if err != nil {
			if errors.Is(err, worksession.ErrSessionActive) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Post("/clock-out", authMiddleware, func(c *fiber.Ctx) error {
		var req ClockRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}
		session, err := eng.ClockOut(c.Context(), driverID(c), req.Latitude, req.Longitude, req.Timestamp)
		if err != nil {
			if errors.Is(err, worksession.ErrNoActiveSession) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(session)
	})

	r.Post("/positions", authMiddleware, func(c *fiber.Ctx) error {
		var req PositionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}
		raw := track.Position{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			AccuracyM: req.Accuracy,
			SpeedKmh:  req.SpeedKmh,
			Timestamp: req.Timestamp,
		}
		err := eng.Position(c.Context(), driverID(c), raw, req.BatteryLevel, req.SignalStatus)
		if err != nil {
			if errors.Is(err, engine.ErrNotTracking) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		// Implausible samples are dropped server-side; the device does
		// not need to know.
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/sensor-error", authMiddleware, func(c *fiber.Ctx) error {
		var req SensorErrorRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := eng.SensorError(driverID(c), req.Reason); err != nil {
			if errors.Is(err, engine.ErrNotTracking) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/connectivity", authMiddleware, func(c *fiber.Ctx) error {
		var req ConnectivityRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		eng.SetConnectivity(*req.Online)
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/expected-clock-in", authMiddleware, func(c *fiber.Ctx) error {
		var req ShiftScheduleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		eng.ExpectShift(req.DriverID, req.StartTime)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Get("/status", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(eng.Status(c.Context(), driverID(c)))
	})
}

func driverID(c *fiber.Ctx) string {
	id, _ := c.Locals("driver_id").(string)
	return id
}
