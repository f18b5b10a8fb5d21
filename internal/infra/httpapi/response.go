package httpapi

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Error codes returned to clients.
const (
	CodeValidation      = "VALIDATION"
	CodeNotEnrolled     = "NOT_ENROLLED"
	CodeUnknownLesson   = "UNKNOWN_LESSON"
	CodeNotAwarded      = "NOT_AWARDED"
	CodeRetryNotAllowed = "RETRY_NOT_ALLOWED"
	CodeInvalidAddress  = "INVALID_ADDRESS"
	CodeStudentNotFound = "STUDENT_NOT_FOUND"
	CodeCourseNotFound  = "COURSE_NOT_FOUND"
	CodeChainDisabled   = "CHAIN_DISABLED"
	CodeChainUnavailable = "CHAIN_UNAVAILABLE"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL"
)

func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(Response{Success: true, Data: data})
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: data})
}

func Error(c *fiber.Ctx, statusCode int, code, message string) error {
	return c.Status(statusCode).JSON(Response{
		Success: false,
		Error:   &ErrorDetail{Code: code, Message: message},
	})
}

// ErrorWithData is used when the operation partly succeeded, e.g. a lesson
// was recorded but the reward could not be issued.
func ErrorWithData(c *fiber.Ctx, statusCode int, code, message string, data interface{}) error {
	return c.Status(statusCode).JSON(Response{
		Success: false,
		Data:    data,
		Error:   &ErrorDetail{Code: code, Message: message},
	})
}

func ValidationError(c *fiber.Ctx, fields map[string]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(Response{
		Success: false,
		Error:   &ErrorDetail{Code: CodeValidation, Message: "Validation failed", Fields: fields},
	})
}
