package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/chat"
	"github.com/lalith-99/dmstream/internal/repository"
)

// writeError maps the error kinds onto HTTP statuses in one place.
// Caller mistakes are echoed back; anything else is logged and hidden
// behind a generic message.
func writeError(c *gin.Context, logger *zap.Logger, action string, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	default:
		logger.Error("failed to "+action, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	}
}
