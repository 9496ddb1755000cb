package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes surfaced to clients and notices.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeValidation             = "VALIDATION_ERROR"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeInternal               = "INTERNAL_ERROR"
	CodeStoreWriteFailure      = "STORE_WRITE_FAILURE"
	CodeStoreReadFailure       = "STORE_READ_FAILURE"
	CodeSubscriptionFailure    = "SUBSCRIPTION_FAILURE"
	CodeAttributionUnavailable = "ATTRIBUTION_UNAVAILABLE"
)

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// NewStoreWriteError wraps a rejected insert/update/delete.
func NewStoreWriteError(op string, err error) *AppError {
	return &AppError{
		Code:    CodeStoreWriteFailure,
		Message: fmt.Sprintf("could not %s", op),
		Err:     err,
	}
}

// NewStoreReadError wraps a failed query.
func NewStoreReadError(what string, err error) *AppError {
	return &AppError{
		Code:    CodeStoreReadFailure,
		Message: fmt.Sprintf("failed to load %s", what),
		Err:     err,
	}
}

// NewSubscriptionError wraps a change-subscription failure.
func NewSubscriptionError(rel Relation, err error) *AppError {
	return &AppError{
		Code:    CodeSubscriptionFailure,
		Message: fmt.Sprintf("subscription to %s failed", rel),
		Err:     err,
	}
}

// ErrorCode extracts the AppError code, or CodeInternal for foreign errors.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
