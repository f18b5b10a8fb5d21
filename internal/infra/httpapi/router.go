package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
)

// NewApp builds the fiber app with all routes registered.
func NewApp(h *Handler, logger *logrus.Entry) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "course-rewards",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(requestLogger(logger))

	app.Get("/health", h.Health)

	api := app.Group("/api/v1")
	api.Post("/enrollments", h.Enroll)
	api.Post("/lessons/complete", h.CompleteLesson)

	students := api.Group("/students/:studentID")
	students.Get("/courses/:courseID/progress", h.Progress)
	students.Get("/courses/:courseID/reward", h.Reward)
	students.Post("/courses/:courseID/reward/retry", h.RetryReward)
	students.Get("/courses/:courseID/chain", h.ChainStatus)
	students.Get("/chain/courses", h.ChainCourses)

	return app
}

func errorHandler(logger *logrus.Entry) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var verr *validationError
		if errors.As(err, &verr) {
			return ValidationError(c, verr.fields)
		}

		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			code := CodeInternal
			switch ferr.Code {
			case fiber.StatusBadRequest:
				code = CodeValidation
			case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
				code = CodeNotFound
			}
			return Error(c, ferr.Code, code, ferr.Message)
		}

		logger.WithError(err).WithFields(logrus.Fields{"method": c.Method(), "path": c.Path()}).Error("Unhandled request error")
		return Error(c, fiber.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func requestLogger(logger *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		logger.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"request_id": c.Locals("requestid"),
		}).Debug("Request handled")
		return err
	}
}
