package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CustomField is a free label/value pair on a bracelet's public page.
// Order is a soft sort key: values may repeat or leave gaps, ties fall back
// to creation time.
type CustomField struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BraceletID uuid.UUID `gorm:"type:uuid;index;not null" json:"pulseira_id"`
	Label      string    `gorm:"not null" json:"rotulo"`
	Value      string    `gorm:"not null" json:"valor"`
	Order      int       `gorm:"column:ordem;not null;default:0" json:"ordem"`
	CreatedAt  time.Time `json:"created_at"`
}

func (f *CustomField) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
