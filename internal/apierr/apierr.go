// Package apierr holds the business error catalog and the response envelope
// shared by every endpoint, so handlers never scatter magic code strings.
package apierr

import "github.com/gofiber/fiber/v2"

// Error codes, one catalog for the whole platform surface.
const (
	CodeInternalError         = "sys_001"
	CodeUnauthorized          = "auth_001"
	CodeInvalidSignature      = "webhook_001"
	CodeProviderNotFound      = "webhook_002"
	CodeProviderNotConfigured = "webhook_003"
	CodeInvalidPayload        = "webhook_004"
	CodeEventAlreadyProcessed = "webhook_005"
)

// APIError is an error that maps directly to an HTTP response.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return e.Message
}

func New(status int, code, message string) *APIError {
	return &APIError{Code: code, Message: message, Status: status}
}

func Unauthorized(message string) *APIError {
	return New(fiber.StatusUnauthorized, CodeUnauthorized, message)
}

func NotFound(code, message string) *APIError {
	return New(fiber.StatusNotFound, code, message)
}

func Conflict(code, message string) *APIError {
	return New(fiber.StatusConflict, code, message)
}

func BadRequest(code, message string) *APIError {
	return New(fiber.StatusBadRequest, code, message)
}

func Internal(message string) *APIError {
	return New(fiber.StatusInternalServerError, CodeInternalError, message)
}

// Response is the standard success envelope.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorDetail carries the machine-readable failure reason.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// Write sends an APIError as the response for the current request.
func (e *APIError) Write(c *fiber.Ctx) error {
	return c.Status(e.Status).JSON(ErrorResponse{
		Success: false,
		Error:   ErrorDetail{Code: e.Code, Message: e.Message},
	})
}
