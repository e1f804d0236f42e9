package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/service/tasks"
)

const msgInternal = "Внутренняя ошибка сервера"

// Response is the body of every successful REST reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Response{Success: true, Data: data, Message: message})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Message: message})
}

// statusFor maps domain errors to HTTP status codes. ok is false for
// unexpected errors whose text must not reach the client.
func statusFor(err error) (status int, ok bool) {
	var (
		taskValidation *tasks.ValidationError
		authValidation *auth.ValidationError
	)

	switch {
	case errors.As(err, &taskValidation), errors.As(err, &authValidation):
		return http.StatusBadRequest, true
	case errors.Is(err, tasks.ErrTaskNotFound), errors.Is(err, tasks.ErrAttachmentNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, tasks.ErrNoUpdates), errors.Is(err, tasks.ErrFileRequired), errors.Is(err, tasks.ErrFileType):
		return http.StatusBadRequest, true
	case errors.Is(err, tasks.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, true
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, true
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUserNotFound):
		return http.StatusUnauthorized, true
	}
	return http.StatusInternalServerError, false
}
