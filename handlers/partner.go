package handlers

import (
	"net/http"

	"sosband-backend/middleware"

	"github.com/gin-gonic/gin"
)

// PartnerLanding is the partner home. Admins may view it too. Partner
// analytics are not part of this service.
func (h *AuthHandler) PartnerLanding(c *gin.Context) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	user, err := h.Users.GetUser(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userResponse(user)})
}
