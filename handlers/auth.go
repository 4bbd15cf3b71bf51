package handlers

import (
	"net/http"

	"sosband-backend/middleware"
	"sosband-backend/models"
	"sosband-backend/services"
	"sosband-backend/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	Users  *services.UserService
	Logger *zap.Logger
	// SecureCookies marks the session cookie Secure (production only).
	SecureCookies bool
}

func userResponse(u *models.User) gin.H {
	return gin.H{
		"id":    u.ID,
		"nome":  u.Name,
		"email": u.Email,
		"tipo":  u.Role,
	}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	user, err := h.Users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if services.KindOf(err) == services.KindUnauthenticated {
			h.Logger.Info("failed login", zap.String("email", req.Email), zap.String("client_ip", c.ClientIP()))
		}
		respondError(c, h.Logger, err)
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		h.Logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	utils.SetSessionCookie(c, token, h.SecureCookies)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"role":    user.Role,
		"user":    userResponse(user),
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	utils.ClearSessionCookie(c, h.SecureCookies)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// LogoutRedirect serves GET /logout for plain links.
func (h *AuthHandler) LogoutRedirect(c *gin.Context) {
	utils.ClearSessionCookie(c, h.SecureCookies)
	c.Redirect(http.StatusFound, middleware.LoginPath)
}

// LoginPage is where the guard sends unauthenticated browsers. The UI is
// served separately.
func (h *AuthHandler) LoginPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Sign in with POST /auth/login"})
}

func (h *AuthHandler) Me(c *gin.Context) {
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

// Register lets an admin create an account with any role that can sign in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Name     string      `json:"nome" binding:"required"`
		Email    string      `json:"email" binding:"required,email"`
		Password string      `json:"senha" binding:"required,min=8"`
		Role     models.Role `json:"tipo" binding:"required,oneof=admin parceiro cliente"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	user, err := h.Users.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": userResponse(user)})
}
