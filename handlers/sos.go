package handlers

import (
	"net/http"

	"sosband-backend/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SosHandler serves the public emergency page. It needs no session.
type SosHandler struct {
	Resolver *services.Resolver
	Logger   *zap.Logger
}

func (h *SosHandler) Show(c *gin.Context) {
	page, err := h.Resolver.Resolve(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, page)
}
