package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxEmergencyContacts caps SosProfile.Contacts.
const MaxEmergencyContacts = 3

type Contact struct {
	Prefix string `json:"prefixo"`
	Number string `json:"numero"`
}

// SosProfile is the emergency information shown on a bracelet's public page.
// There is at most one per bracelet.
type SosProfile struct {
	ID                 uuid.UUID                    `gorm:"type:uuid;primaryKey" json:"id"`
	BraceletID         uuid.UUID                    `gorm:"type:uuid;uniqueIndex;not null" json:"pulseira_id"`
	Name               string                       `json:"nome"`
	PhotoURL           string                       `json:"foto"`
	BirthDate          string                       `gorm:"type:varchar(10)" json:"data_nascimento"`
	Contacts           datatypes.JSONSlice[Contact] `json:"contactos"`
	Allergies          string                       `json:"alergias"`
	HealthConditions   string                       `json:"condicoes_saude"`
	MedicationSchedule string                       `json:"medicacao_horarios"`
	QuickInstructions  string                       `json:"instrucoes_rapidas"`
	SpokenLanguages    string                       `json:"idiomas_falados"`
	Notes              string                       `json:"observacoes"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`
}

func (p *SosProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
