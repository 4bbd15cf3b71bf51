package handlers

import (
	"errors"
	"net/http"

	"sosband-backend/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindUnauthenticated:
		return http.StatusUnauthorized
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict, services.KindInvalidState, services.KindNoOp:
		return http.StatusConflict
	case services.KindInvalidTarget:
		return http.StatusUnprocessableEntity
	case services.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes a domain error as {"error", "code"}. Anything that is
// not a domain error is logged and reported as a generic 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var de *services.Error
	if errors.As(err, &de) {
		c.JSON(statusFor(de.Kind), gin.H{"error": de.Message, "code": de.Kind.String()})
		return
	}

	logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "internal"})
}

// paramID parses a uuid path parameter, answering 400 when it is malformed.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name, "code": services.KindValidation.String()})
		return uuid.Nil, false
	}
	return id, true
}
