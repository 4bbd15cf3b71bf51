package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"sosband-backend/database"
	"sosband-backend/dtos"
	"sosband-backend/models"
	"sosband-backend/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FieldInput describes a new custom field. A nil Order appends after the
// current highest order.
type FieldInput struct {
	Label string
	Value string
	Order *int
}

type FieldPatch struct {
	Label *string
	Value *string
	Order *int
}

type FieldOrder struct {
	ID    uuid.UUID `json:"id" binding:"required"`
	Order int       `json:"ordem" binding:"gte=0"`
}

type CreateBraceletInput struct {
	Identifier string
	CustomerID *uuid.UUID
	Fields     []FieldInput
}

// ProfilePatch is a partial SOS profile update. Nil fields are left as they
// are; Contacts, when present, replaces the whole list.
type ProfilePatch struct {
	Name               *string           `json:"nome"`
	PhotoURL           *string           `json:"foto"`
	BirthDate          *string           `json:"data_nascimento"`
	Contacts           *[]models.Contact `json:"contactos"`
	Allergies          *string           `json:"alergias"`
	HealthConditions   *string           `json:"condicoes_saude"`
	MedicationSchedule *string           `json:"medicacao_horarios"`
	QuickInstructions  *string           `json:"instrucoes_rapidas"`
	SpokenLanguages    *string           `json:"idiomas_falados"`
	Notes              *string           `json:"observacoes"`
}

// BraceletService owns the bracelet ownership state machine and the custom
// field list of each bracelet.
//
// Admin operations run on the elevated gateway. Self-service operations check
// ownership explicitly and then write through a gateway scoped to the
// requester, which re-checks ownership under a row lock in the write
// transaction. A write racing with a transfer away from the requester
// affects no rows and surfaces as Conflict.
type BraceletService struct {
	gw     *database.Gateway
	scoped *database.Gateway
	cache  PageCache
	logger *zap.Logger
}

// NewBraceletService wires the service. scoped is the gateway on the
// application pool; when nil the elevated gateway is scoped instead.
func NewBraceletService(elevated, scoped *database.Gateway, cache PageCache, logger *zap.Logger) *BraceletService {
	if scoped == nil {
		scoped = elevated
	}
	return &BraceletService{gw: elevated, scoped: scoped, cache: cache, logger: logger}
}

// ---- admin ----

func (s *BraceletService) CreateBracelet(ctx context.Context, in CreateBraceletInput) (dtos.BraceletWithOwner, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if !utils.IsValidIdentifier(identifier) {
		return dtos.BraceletWithOwner{}, Validation("identifier must be at least 3 letters or digits")
	}

	fields := make([]models.CustomField, 0, len(in.Fields))
	for i, f := range in.Fields {
		field, err := newField(f)
		if err != nil {
			return dtos.BraceletWithOwner{}, err
		}
		if f.Order == nil {
			field.Order = i + 1
		}
		fields = append(fields, field)
	}

	if in.CustomerID != nil {
		if err := s.checkTarget(ctx, *in.CustomerID); err != nil {
			return dtos.BraceletWithOwner{}, err
		}
	}

	// The owner is re-checked and set in the insert transaction, so a
	// rejected owner leaves no bracelet behind.
	b := models.Bracelet{Identifier: identifier, OwnerID: in.CustomerID}
	if err := s.gw.CreateBracelet(ctx, &b, fields); err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicate):
			return dtos.BraceletWithOwner{}, Conflict("identifier %s already exists", identifier)
		case errors.Is(err, database.ErrTargetNotCustomer):
			return dtos.BraceletWithOwner{}, InvalidTarget("target user is not an active customer")
		}
		return dtos.BraceletWithOwner{}, err
	}
	s.logger.Info("bracelet created", zap.String("identificador", identifier), zap.Int("fields", len(fields)))

	if in.CustomerID == nil {
		return dtos.NewBraceletWithOwner(&b), nil
	}
	ownershipChanges.WithLabelValues("assign", resultLabel(nil)).Inc()
	s.invalidate(ctx, identifier)
	s.logger.Info("bracelet assigned",
		zap.String("identificador", identifier),
		zap.String("customer_id", in.CustomerID.String()))
	return s.view(ctx, b.ID)
}

func (s *BraceletService) ListBracelets(ctx context.Context) ([]dtos.BraceletWithOwner, error) {
	bracelets, err := s.gw.ListBracelets(ctx)
	if err != nil {
		return nil, err
	}
	return toViews(bracelets), nil
}

// Assign gives an unassigned bracelet to a customer.
func (s *BraceletService) Assign(ctx context.Context, braceletID, customerID uuid.UUID) (out dtos.BraceletWithOwner, err error) {
	defer func() { ownershipChanges.WithLabelValues("assign", resultLabel(err)).Inc() }()

	b, err := s.findBracelet(ctx, braceletID)
	if err != nil {
		return out, err
	}
	if b.Assigned() {
		return out, InvalidState("bracelet %s is already assigned", b.Identifier)
	}
	if err := s.checkTarget(ctx, customerID); err != nil {
		return out, err
	}

	if err := s.gw.SetOwner(ctx, b.ID, nil, customerID); err != nil {
		return out, s.ownershipError(err, b)
	}
	s.invalidate(ctx, b.Identifier)

	s.logger.Info("bracelet assigned",
		zap.String("identificador", b.Identifier),
		zap.String("customer_id", customerID.String()))
	return s.view(ctx, b.ID)
}

// Transfer moves an assigned bracelet to a different customer.
func (s *BraceletService) Transfer(ctx context.Context, braceletID, newCustomerID uuid.UUID) (out dtos.BraceletWithOwner, err error) {
	defer func() { ownershipChanges.WithLabelValues("transfer", resultLabel(err)).Inc() }()

	b, err := s.findBracelet(ctx, braceletID)
	if err != nil {
		return out, err
	}
	if !b.Assigned() {
		return out, InvalidState("bracelet %s is not assigned; assign it first", b.Identifier)
	}
	if *b.OwnerID == newCustomerID {
		return out, NoOp("bracelet %s already belongs to this customer", b.Identifier)
	}
	if err := s.checkTarget(ctx, newCustomerID); err != nil {
		return out, err
	}

	previous := *b.OwnerID
	if err := s.gw.SetOwner(ctx, b.ID, &previous, newCustomerID); err != nil {
		return out, s.ownershipError(err, b)
	}
	s.invalidate(ctx, b.Identifier)

	s.logger.Info("bracelet transferred",
		zap.String("identificador", b.Identifier),
		zap.String("from", previous.String()),
		zap.String("to", newCustomerID.String()))
	return s.view(ctx, b.ID)
}

func (s *BraceletService) Stats(ctx context.Context) (dtos.BraceletStats, error) {
	total, assigned, err := s.gw.CountBracelets(ctx)
	if err != nil {
		return dtos.BraceletStats{}, err
	}
	return dtos.BraceletStats{Total: total, Assigned: assigned, Unassigned: total - assigned}, nil
}

// ---- self-service ----

func (s *BraceletService) ListOwned(ctx context.Context, requester uuid.UUID) ([]dtos.BraceletWithOwner, error) {
	bracelets, err := s.scoped.ForCaller(requester).ListBracelets(ctx)
	if err != nil {
		return nil, err
	}
	return toViews(bracelets), nil
}

func (s *BraceletService) GetOwned(ctx context.Context, braceletID, requester uuid.UUID) (*dtos.BraceletDetail, error) {
	b, err := s.ownedBracelet(ctx, braceletID, requester)
	if err != nil {
		return nil, err
	}
	gw := s.scoped.ForCaller(requester)

	profile, err := gw.FindProfile(ctx, b.ID)
	if errors.Is(err, database.ErrNotFound) {
		profile, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	fields, err := gw.ListFields(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = []models.CustomField{}
	}

	return &dtos.BraceletDetail{
		Bracelet: dtos.NewBraceletWithOwner(b),
		Profile:  profile,
		Fields:   fields,
	}, nil
}

// UpsertSosProfile merges patch into the bracelet's profile, creating it on
// first write.
func (s *BraceletService) UpsertSosProfile(ctx context.Context, braceletID uuid.UUID, patch ProfilePatch, requester uuid.UUID) (*models.SosProfile, error) {
	if err := validateProfilePatch(patch); err != nil {
		return nil, err
	}
	b, err := s.ownedBracelet(ctx, braceletID, requester)
	if err != nil {
		return nil, err
	}

	profile, err := s.scoped.ForCaller(requester).UpsertProfile(ctx, b.ID, patch.apply)
	if err != nil {
		return nil, s.scopedWriteError(err)
	}
	s.invalidate(ctx, b.Identifier)
	return profile, nil
}

func (s *BraceletService) AddCustomField(ctx context.Context, braceletID uuid.UUID, in FieldInput, requester uuid.UUID) (*models.CustomField, error) {
	field, err := newField(in)
	if err != nil {
		return nil, err
	}
	b, err := s.ownedBracelet(ctx, braceletID, requester)
	if err != nil {
		return nil, err
	}
	gw := s.scoped.ForCaller(requester)

	if in.Order == nil {
		next, err := gw.NextFieldOrder(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		field.Order = next
	}
	field.BraceletID = b.ID

	if err := gw.CreateField(ctx, &field); err != nil {
		return nil, s.scopedWriteError(err)
	}
	s.invalidate(ctx, b.Identifier)
	return &field, nil
}

func (s *BraceletService) UpdateCustomField(ctx context.Context, fieldID uuid.UUID, patch FieldPatch, requester uuid.UUID) (*models.CustomField, error) {
	field, b, err := s.ownedField(ctx, fieldID, requester)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Label != nil {
		label := strings.TrimSpace(*patch.Label)
		if label == "" {
			return nil, Validation("label must not be empty")
		}
		updates["label"] = label
	}
	if patch.Value != nil {
		value := strings.TrimSpace(*patch.Value)
		if value == "" {
			return nil, Validation("value must not be empty")
		}
		updates["value"] = value
	}
	if patch.Order != nil {
		if *patch.Order < 0 {
			return nil, Validation("order must not be negative")
		}
		updates["ordem"] = *patch.Order
	}
	if len(updates) == 0 {
		return field, nil
	}

	gw := s.scoped.ForCaller(requester)
	if err := gw.UpdateField(ctx, field.ID, updates); err != nil {
		return nil, s.scopedWriteError(err)
	}
	s.invalidate(ctx, b.Identifier)

	updated, err := gw.FindField(ctx, field.ID)
	if err != nil {
		return nil, s.scopedWriteError(err)
	}
	return updated, nil
}

// DeleteCustomField removes the field. Orders of the remaining fields are
// left untouched.
func (s *BraceletService) DeleteCustomField(ctx context.Context, fieldID, requester uuid.UUID) error {
	field, b, err := s.ownedField(ctx, fieldID, requester)
	if err != nil {
		return err
	}
	if err := s.scoped.ForCaller(requester).DeleteField(ctx, field.ID); err != nil {
		return s.scopedWriteError(err)
	}
	s.invalidate(ctx, b.Identifier)
	return nil
}

// ReorderCustomFields assigns new orders to several fields at once and
// returns the resulting list.
func (s *BraceletService) ReorderCustomFields(ctx context.Context, braceletID uuid.UUID, orders []FieldOrder, requester uuid.UUID) ([]models.CustomField, error) {
	if len(orders) == 0 {
		return nil, Validation("no fields to reorder")
	}
	byID := make(map[uuid.UUID]int, len(orders))
	for _, o := range orders {
		if o.Order < 0 {
			return nil, Validation("order must not be negative")
		}
		if _, dup := byID[o.ID]; dup {
			return nil, Validation("field %s listed twice", o.ID)
		}
		byID[o.ID] = o.Order
	}

	b, err := s.ownedBracelet(ctx, braceletID, requester)
	if err != nil {
		return nil, err
	}
	gw := s.scoped.ForCaller(requester)
	if err := gw.ReorderFields(ctx, b.ID, byID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, NotFound("one or more fields do not belong to this bracelet")
		}
		return nil, err
	}
	s.invalidate(ctx, b.Identifier)

	return gw.ListFields(ctx, b.ID)
}

// ---- helpers ----

func (s *BraceletService) findBracelet(ctx context.Context, id uuid.UUID) (*models.Bracelet, error) {
	b, err := s.gw.FindBracelet(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, NotFound("bracelet not found")
	}
	return b, err
}

// ownedBracelet loads the bracelet without scoping so that a foreign
// bracelet is reported as Forbidden rather than NotFound.
func (s *BraceletService) ownedBracelet(ctx context.Context, id, requester uuid.UUID) (*models.Bracelet, error) {
	b, err := s.findBracelet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.OwnedBy(requester) {
		return nil, Forbidden("bracelet belongs to another customer")
	}
	return b, nil
}

func (s *BraceletService) ownedField(ctx context.Context, fieldID, requester uuid.UUID) (*models.CustomField, *models.Bracelet, error) {
	field, err := s.gw.FindField(ctx, fieldID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, NotFound("field not found")
	}
	if err != nil {
		return nil, nil, err
	}
	b, err := s.ownedBracelet(ctx, field.BraceletID, requester)
	if err != nil {
		return nil, nil, err
	}
	return field, b, nil
}

func (s *BraceletService) checkTarget(ctx context.Context, userID uuid.UUID) error {
	user, err := s.gw.FindUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return InvalidTarget("customer not found")
	}
	if err != nil {
		return err
	}
	if !user.Role.CanOwnBracelets() {
		return InvalidTarget("user %s is not an active customer", user.Email)
	}
	return nil
}

func (s *BraceletService) ownershipError(err error, b *models.Bracelet) error {
	switch {
	case errors.Is(err, database.ErrStaleOwner):
		s.logger.Warn("lost ownership race", zap.String("identificador", b.Identifier))
		return Conflict("bracelet %s was changed by another request; reload and try again", b.Identifier)
	case errors.Is(err, database.ErrTargetNotCustomer):
		return InvalidTarget("target user is not an active customer")
	}
	return err
}

func (s *BraceletService) scopedWriteError(err error) error {
	switch {
	case errors.Is(err, database.ErrStaleOwner):
		return Conflict("bracelet ownership changed during the request")
	case errors.Is(err, database.ErrNotFound):
		return NotFound("not found")
	}
	return err
}

func (s *BraceletService) view(ctx context.Context, id uuid.UUID) (dtos.BraceletWithOwner, error) {
	b, err := s.findBracelet(ctx, id)
	if err != nil {
		return dtos.BraceletWithOwner{}, err
	}
	return dtos.NewBraceletWithOwner(b), nil
}

func (s *BraceletService) invalidate(ctx context.Context, identifier string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, identifier); err != nil {
		s.logger.Warn("failed to invalidate sos page cache",
			zap.String("identificador", identifier), zap.Error(err))
	}
}

func toViews(bracelets []models.Bracelet) []dtos.BraceletWithOwner {
	out := make([]dtos.BraceletWithOwner, 0, len(bracelets))
	for i := range bracelets {
		out = append(out, dtos.NewBraceletWithOwner(&bracelets[i]))
	}
	return out
}

func newField(in FieldInput) (models.CustomField, error) {
	label := strings.TrimSpace(in.Label)
	value := strings.TrimSpace(in.Value)
	if label == "" || value == "" {
		return models.CustomField{}, Validation("label and value are required")
	}
	f := models.CustomField{Label: label, Value: value}
	if in.Order != nil {
		if *in.Order < 0 {
			return models.CustomField{}, Validation("order must not be negative")
		}
		f.Order = *in.Order
	}
	return f, nil
}

func validateProfilePatch(p ProfilePatch) error {
	if p.Contacts != nil {
		if len(*p.Contacts) > models.MaxEmergencyContacts {
			return Validation("at most %d emergency contacts are allowed", models.MaxEmergencyContacts)
		}
		for _, c := range *p.Contacts {
			if strings.TrimSpace(c.Number) == "" {
				return Validation("emergency contact number is required")
			}
		}
	}
	if p.BirthDate != nil && *p.BirthDate != "" {
		d, err := time.Parse("2006-01-02", *p.BirthDate)
		if err != nil {
			return Validation("birth date must be YYYY-MM-DD")
		}
		if d.After(time.Now()) {
			return Validation("birth date is in the future")
		}
	}
	if p.PhotoURL != nil && *p.PhotoURL != "" {
		u, err := url.Parse(*p.PhotoURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Validation("photo must be an http(s) URL")
		}
	}
	return nil
}

func (p ProfilePatch) apply(profile *models.SosProfile) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&profile.Name, p.Name)
	set(&profile.PhotoURL, p.PhotoURL)
	set(&profile.BirthDate, p.BirthDate)
	set(&profile.Allergies, p.Allergies)
	set(&profile.HealthConditions, p.HealthConditions)
	set(&profile.MedicationSchedule, p.MedicationSchedule)
	set(&profile.QuickInstructions, p.QuickInstructions)
	set(&profile.SpokenLanguages, p.SpokenLanguages)
	set(&profile.Notes, p.Notes)
	if p.Contacts != nil {
		contacts := make([]models.Contact, 0, len(*p.Contacts))
		for _, c := range *p.Contacts {
			contacts = append(contacts, models.Contact{
				Prefix: strings.TrimSpace(c.Prefix),
				Number: strings.TrimSpace(c.Number),
			})
		}
		profile.Contacts = contacts
	}
}
