package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prepforge/practice-service/internal/services"
	"github.com/prepforge/practice-service/internal/utils"
)

// ErrorResponse is the common error payload
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps successful responses for documentation purposes
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// BaseHandler provides shared handler plumbing: id parsing, request logging
// and the service error to HTTP status mapping.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// parseIDParam parses a numeric path parameter. On failure it writes the 400
// response itself and returns 0; handlers bail out on 0.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
			Details: raw,
		})
		return 0
	}
	return uint(id)
}

// LogRequest logs with the request-scoped logger when available
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.GetLoggerFromContext(c, h.logger).Info(msg, args...)
}

// LogError logs an error with the request-scoped logger when available
func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	utils.GetLoggerFromContext(c, h.logger).Error(msg, append(args, "error", err)...)
}

// handleServiceError maps service errors onto HTTP statuses. Internal detail
// never leaks: unknown errors become a generic 500.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrs services.ValidationErrors
	var permissionErr *services.PermissionError
	var businessErr *services.BusinessRuleError

	switch {
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrs,
		})
	case errors.As(err, &permissionErr):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: permissionErr.Error(),
		})
	case errors.As(err, &businessErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: businessErr.Message,
		})
	case services.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: err.Error(),
		})
	case services.IsConflictError(err):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: err.Error(),
		})
	default:
		h.logger.Error("Unhandled service error", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}

// requireUserID pulls the authenticated user id out of the context, writing
// the 401 itself when missing.
func (h *BaseHandler) requireUserID(c *gin.Context) (string, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	return userID, true
}

// idempotencyKey extracts the caller-supplied Idempotency-Key header; empty
// means the caller opted out of duplicate coordination.
func idempotencyKey(c *gin.Context) string {
	return c.GetHeader("Idempotency-Key")
}
