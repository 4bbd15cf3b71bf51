package handlers

import (
	"net/http"

	"sosband-backend/firebase"
	"sosband-backend/middleware"
	"sosband-backend/services"
	"sosband-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CustomerHandler serves /dashboard and the /me self-service routes. Every
// operation acts on bracelets owned by the signed-in customer.
type CustomerHandler struct {
	Bracelets *services.BraceletService
	// Storage is nil when photo upload is not configured.
	Storage firebase.StorageClient
	Logger  *zap.Logger
}

func requester(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, false
	}
	return id.UserID, true
}

func (h *CustomerHandler) Dashboard(c *gin.Context) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	bracelets, err := h.Bracelets.ListOwned(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":      gin.H{"id": id.UserID, "email": id.Email, "tipo": id.Role},
		"bracelets": bracelets,
	})
}

func (h *CustomerHandler) ListBracelets(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	bracelets, err := h.Bracelets.ListOwned(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bracelets": bracelets, "total": len(bracelets)})
}

func (h *CustomerHandler) GetBracelet(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	braceletID, ok := paramID(c, "id")
	if !ok {
		return
	}

	detail, err := h.Bracelets.GetOwned(c.Request.Context(), braceletID, userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateProfile merges the submitted SOS data into the bracelet's profile.
// Fields left out of the body are kept.
func (h *CustomerHandler) UpdateProfile(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	braceletID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var patch services.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	profile, err := h.Bracelets.UpsertSosProfile(c.Request.Context(), braceletID, patch, userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UploadPhoto stores the multipart file "foto" and points the profile at it.
// The previous photo is removed from storage once the profile is updated.
func (h *CustomerHandler) UploadPhoto(c *gin.Context) {
	if h.Storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Photo upload is not configured"})
		return
	}
	userID, ok := requester(c)
	if !ok {
		return
	}
	braceletID, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	detail, err := h.Bracelets.GetOwned(ctx, braceletID, userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	fh, err := c.FormFile("foto")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "foto is required"})
		return
	}
	if err := utils.ValidateFileUpload(fh); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	url, err := h.Storage.UploadProfilePhoto(ctx, braceletID, file, fh.Filename, fh.Header.Get("Content-Type"))
	if err != nil {
		h.Logger.Error("photo upload failed", zap.String("bracelet_id", braceletID.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to upload photo"})
		return
	}

	profile, err := h.Bracelets.UpsertSosProfile(ctx, braceletID, services.ProfilePatch{PhotoURL: &url}, userID)
	if err != nil {
		h.removeObject(c, url)
		respondError(c, h.Logger, err)
		return
	}

	if detail.Profile != nil && detail.Profile.PhotoURL != "" && detail.Profile.PhotoURL != url {
		h.removeObject(c, detail.Profile.PhotoURL)
	}
	c.JSON(http.StatusOK, profile)
}

// removeObject deletes a stored photo. URLs outside our bucket are ignored.
func (h *CustomerHandler) removeObject(c *gin.Context, url string) {
	objectPath, err := utils.ExtractObjectPath(url)
	if err != nil {
		return
	}
	if err := h.Storage.DeleteFile(c.Request.Context(), objectPath); err != nil {
		h.Logger.Warn("failed to delete photo", zap.String("object", objectPath), zap.Error(err))
	}
}

func (h *CustomerHandler) AddField(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	braceletID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	field, err := h.Bracelets.AddCustomField(c.Request.Context(), braceletID, req.input(), userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, field)
}

func (h *CustomerHandler) UpdateField(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	fieldID, ok := paramID(c, "fieldId")
	if !ok {
		return
	}

	var req struct {
		Label *string `json:"rotulo"`
		Value *string `json:"valor"`
		Order *int    `json:"ordem" binding:"omitempty,gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	field, err := h.Bracelets.UpdateCustomField(c.Request.Context(), fieldID, services.FieldPatch{
		Label: req.Label,
		Value: req.Value,
		Order: req.Order,
	}, userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, field)
}

func (h *CustomerHandler) DeleteField(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	fieldID, ok := paramID(c, "fieldId")
	if !ok {
		return
	}

	if err := h.Bracelets.DeleteCustomField(c.Request.Context(), fieldID, userID); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Field deleted"})
}

// ReorderFields takes [{id, ordem}, ...] and returns the reordered list.
func (h *CustomerHandler) ReorderFields(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	braceletID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var orders []services.FieldOrder
	if err := c.ShouldBindJSON(&orders); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return
	}

	fields, err := h.Bracelets.ReorderCustomFields(c.Request.Context(), braceletID, orders, userID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, fields)
}
