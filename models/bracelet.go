package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bracelet is a physical bracelet identified publicly by Identifier.
// OwnerID is nil while the bracelet is unassigned.
type Bracelet struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Identifier string     `gorm:"uniqueIndex;not null" json:"identificador"`
	OwnerID    *uuid.UUID `gorm:"type:uuid;index" json:"cliente_id"`
	Owner      *User      `gorm:"foreignKey:OwnerID" json:"cliente,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (b *Bracelet) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (b *Bracelet) Assigned() bool {
	return b.OwnerID != nil
}

// OwnedBy reports whether userID is the current owner.
func (b *Bracelet) OwnedBy(userID uuid.UUID) bool {
	return b.OwnerID != nil && *b.OwnerID == userID
}
