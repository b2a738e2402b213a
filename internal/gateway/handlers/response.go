package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func errorWithCode(message, code string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Error:   code,
	}
}

// handleServiceError writes the HTTP rejection for a service error.
func handleServiceError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	s, ok := status.FromError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorWithCode("Unknown service error", "INTERNAL"))
		c.Abort()
		return
	}

	switch s.Code() {
	case codes.InvalidArgument:
		c.JSON(http.StatusBadRequest, errorWithCode(s.Message(), "BAD_REQUEST"))
	case codes.Unauthenticated:
		c.JSON(http.StatusUnauthorized, errorWithCode(s.Message(), "UNAUTHORIZED"))
	case codes.PermissionDenied:
		c.JSON(http.StatusForbidden, errorWithCode(s.Message(), "FORBIDDEN"))
	case codes.NotFound:
		c.JSON(http.StatusNotFound, errorWithCode(s.Message(), "NOT_FOUND"))
	case codes.FailedPrecondition, codes.Aborted, codes.AlreadyExists:
		c.JSON(http.StatusConflict, errorWithCode(s.Message(), "CONFLICT"))
	case codes.Unavailable:
		c.JSON(http.StatusBadGateway, errorWithCode(s.Message(), "POS_UNAVAILABLE"))
	case codes.DeadlineExceeded, codes.Canceled:
		c.JSON(http.StatusGatewayTimeout, errorWithCode(s.Message(), "TIMEOUT"))
	default:
		c.JSON(http.StatusInternalServerError, errorWithCode("Service error: "+s.Message(), "INTERNAL"))
	}
	c.Abort()
}
