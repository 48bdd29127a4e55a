package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"mediapipe/internal/models"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case models.IsValidation(err):
		switch models.ValidationCode(err) {
		case models.CodeTooLarge:
			return http.StatusRequestEntityTooLarge
		case models.CodeUnsupported:
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var runErr *models.RunError
	if errors.As(err, &runErr) {
		body["stage"] = runErr.Stage
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
		body["error"] = fmt.Sprintf("%s: %v", op, err)
	}
	c.JSON(status, body)
}
