package dtos

import (
	"time"

	"sosband-backend/models"

	"github.com/google/uuid"
)

// OwnerSummary is the public part of a bracelet owner.
type OwnerSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"nome"`
	Email string    `json:"email"`
}

// BraceletWithOwner is a bracelet joined with its owner's public fields.
type BraceletWithOwner struct {
	ID         uuid.UUID     `json:"id"`
	Identifier string        `json:"identificador"`
	OwnerID    *uuid.UUID    `json:"cliente_id"`
	Owner      *OwnerSummary `json:"cliente"`
	CreatedAt  time.Time     `json:"created_at"`
}

func NewBraceletWithOwner(b *models.Bracelet) BraceletWithOwner {
	out := BraceletWithOwner{
		ID:         b.ID,
		Identifier: b.Identifier,
		OwnerID:    b.OwnerID,
		CreatedAt:  b.CreatedAt,
	}
	if b.Owner != nil && b.OwnerID != nil {
		out.Owner = &OwnerSummary{ID: b.Owner.ID, Name: b.Owner.Name, Email: b.Owner.Email}
	}
	return out
}

// BraceletDetail is what an owning customer sees for one bracelet.
type BraceletDetail struct {
	Bracelet BraceletWithOwner    `json:"pulseira"`
	Profile  *models.SosProfile   `json:"dados_sos"`
	Fields   []models.CustomField `json:"campos"`
}

// PublicBracelet is the bracelet as shown on its public page. It never
// carries the owner's identity.
type PublicBracelet struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"identificador"`
	Assigned   bool      `json:"atribuida"`
}

// SosPage is the aggregated public emergency page of a bracelet. Profile is
// nil until the owner saves one.
type SosPage struct {
	Bracelet PublicBracelet       `json:"pulseira"`
	Profile  *models.SosProfile   `json:"dados_sos"`
	Fields   []models.CustomField `json:"campos"`
}

type BraceletStats struct {
	Total      int64 `json:"total"`
	Assigned   int64 `json:"atribuidas"`
	Unassigned int64 `json:"nao_atribuidas"`
}
