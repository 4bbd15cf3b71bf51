package handlers

import (
	"net/http"

	"sosband-backend/middleware"
	"sosband-backend/services"
	"sosband-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler serves the /admin namespace: accounts, bracelets and their
// ownership.
type AdminHandler struct {
	Bracelets *services.BraceletService
	Users     *services.UserService
	Logger    *zap.Logger
}

type fieldRequest struct {
	Label string `json:"rotulo" binding:"required"`
	Value string `json:"valor" binding:"required"`
	Order *int   `json:"ordem" binding:"omitempty,gte=0"`
}

func (f fieldRequest) input() services.FieldInput {
	return services.FieldInput{Label: f.Label, Value: f.Value, Order: f.Order}
}

// Landing is the admin home: who is signed in plus the bracelet counts.
func (h *AdminHandler) Landing(c *gin.Context) {
	id, _ := middleware.CurrentIdentity(c)
	stats, err := h.Bracelets.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":  gin.H{"id": id.UserID, "email": id.Email, "tipo": id.Role},
		"stats": stats,
	})
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.Bracelets.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.Users.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}

func (h *AdminHandler) ListCustomers(c *gin.Context) {
	customers, err := h.Users.ListCustomers(c.Request.Context())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers, "total": len(customers)})
}

func (h *AdminHandler) CreateCustomer(c *gin.Context) {
	var req struct {
		Name     string `json:"nome" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"senha" binding:"required,min=8"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	user, err := h.Users.CreateCustomer(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// UpdateCustomer edits name or email and blocks (ativo=false) or reactivates
// (ativo=true) the account.
func (h *AdminHandler) UpdateCustomer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Name   *string `json:"nome"`
		Email  *string `json:"email" binding:"omitempty,email"`
		Active *bool   `json:"ativo"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	user, err := h.Users.UpdateCustomer(c.Request.Context(), id, services.UpdateCustomerInput{
		Name:   req.Name,
		Email:  req.Email,
		Active: req.Active,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AdminHandler) ListBracelets(c *gin.Context) {
	bracelets, err := h.Bracelets.ListBracelets(c.Request.Context())
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bracelets": bracelets, "total": len(bracelets)})
}

func (h *AdminHandler) CreateBracelet(c *gin.Context) {
	var req struct {
		Identifier string         `json:"identificador" binding:"required,identifier"`
		CustomerID *string        `json:"cliente_id" binding:"omitempty,uuid"`
		Fields     []fieldRequest `json:"campos" binding:"dive"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	in := services.CreateBraceletInput{Identifier: req.Identifier}
	if req.CustomerID != nil && *req.CustomerID != "" {
		id := uuid.MustParse(*req.CustomerID)
		in.CustomerID = &id
	}
	for _, f := range req.Fields {
		in.Fields = append(in.Fields, f.input())
	}

	bracelet, err := h.Bracelets.CreateBracelet(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, bracelet)
}

func (h *AdminHandler) Assign(c *gin.Context) {
	braceletID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		CustomerID string `json:"customerId" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	bracelet, err := h.Bracelets.Assign(c.Request.Context(), braceletID, uuid.MustParse(req.CustomerID))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, bracelet)
}

func (h *AdminHandler) Transfer(c *gin.Context) {
	braceletID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		NewCustomerID string `json:"newCustomerId" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	bracelet, err := h.Bracelets.Transfer(c.Request.Context(), braceletID, uuid.MustParse(req.NewCustomerID))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, bracelet)
}
