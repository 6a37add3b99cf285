package utils

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON envelope for every failed control-surface call.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is the JSON envelope for every successful control-surface call.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// CountResponse reports the affected-row count of a destructive operation
// (cleanup, delete) back to the caller.
type CountResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
	DryRun  bool  `json:"dryRun,omitempty"`
}

// SendErrorResponse sends an error envelope with the given status code.
func SendErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	response := ErrorResponse{
		Success: false,
		Error:   message,
	}

	if err != nil {
		response.Details = err.Error()
		zap.L().Warn("request failed", zap.String("message", message), zap.Error(err))
	}

	c.JSON(statusCode, response)
}

// SendSuccessResponse sends a success envelope with the given status code.
func SendSuccessResponse(c *gin.Context, statusCode int, data interface{}, message string) {
	response := SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	}

	c.JSON(statusCode, response)
}

// SendCountResponse sends the affected-row count of a destructive operation.
func SendCountResponse(c *gin.Context, statusCode int, count int64, dryRun bool) {
	c.JSON(statusCode, CountResponse{Success: true, Count: count, DryRun: dryRun})
}
