// Package api provides the local HTTP control API.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// Error codes returned in ErrorInfo.Code.
const (
	ErrCodeValidation    = "VALIDATION_FAILED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNoActive      = "NO_ACTIVE_PROFILE"
	ErrCodeUnsupported   = "UNSUPPORTED_PLATFORM"
	ErrCodePermission    = "PERMISSION_DENIED"
	ErrCodeApplyFailed   = "APPLY_FAILED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeMediaType     = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details in API response
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func successWithStatus(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

func badRequest(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, ErrCodeValidation, message)
}

// fail maps the error taxonomy onto a status code and stable error code.
func fail(c *gin.Context, err error) {
	var (
		validation  *domain.ValidationError
		notFound    *domain.NotFoundError
		unsupported *domain.UnsupportedPlatformError
		permission  *domain.PermissionError
		applyFailed *domain.ApplyFailedError
	)
	switch {
	case errors.As(err, &validation):
		errorResponse(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.As(err, &notFound):
		errorResponse(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrNoActiveProfile):
		errorResponse(c, http.StatusConflict, ErrCodeNoActive, err.Error())
	case errors.As(err, &unsupported):
		errorResponse(c, http.StatusNotImplemented, ErrCodeUnsupported, err.Error())
	case errors.As(err, &permission):
		errorResponse(c, http.StatusForbidden, ErrCodePermission, err.Error())
	case errors.As(err, &applyFailed):
		c.JSON(http.StatusBadGateway, Response{
			Success: false,
			Data:    applyFailed.Result,
			Error:   &ErrorInfo{Code: ErrCodeApplyFailed, Message: err.Error()},
		})
	default:
		errorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
