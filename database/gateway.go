package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sosband-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicate           = errors.New("duplicate key")
	ErrStaleOwner          = errors.New("bracelet owner changed concurrently")
	ErrTargetNotCustomer   = errors.New("target user is not an active customer")
	ErrOwnerHoldsBracelets = errors.New("customer still owns bracelets")
	ErrElevatedOnly        = errors.New("operation requires the elevated gateway")
)

// Scope selects which rows a Gateway may see.
type Scope int

const (
	// ScopeElevated sees every row. Used by admin paths and the public resolver.
	ScopeElevated Scope = iota
	// ScopeCaller restricts bracelets, profiles and fields to those owned by
	// the caller.
	ScopeCaller
)

// Gateway is the persistence boundary for users, bracelets, SOS profiles and
// custom fields.
type Gateway struct {
	db       *gorm.DB
	scope    Scope
	callerID uuid.UUID
}

// NewGateway returns an elevated gateway over db.
func NewGateway(db *gorm.DB) *Gateway {
	return &Gateway{db: db, scope: ScopeElevated}
}

// ForCaller returns a copy of g restricted to rows owned by userID.
func (g *Gateway) ForCaller(userID uuid.UUID) *Gateway {
	return &Gateway{db: g.db, scope: ScopeCaller, callerID: userID}
}

func (g *Gateway) Scope() Scope {
	return g.scope
}

// DB exposes the underlying connection for health checks.
func (g *Gateway) DB() *gorm.DB {
	return g.db
}

func (g *Gateway) conn(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx)
}

func (g *Gateway) ownedBracelets(db *gorm.DB) *gorm.DB {
	if g.scope == ScopeCaller {
		return db.Where("owner_id = ?", g.callerID)
	}
	return db
}

func (g *Gateway) ownedChildren(db *gorm.DB) *gorm.DB {
	if g.scope == ScopeCaller {
		return db.Where("bracelet_id IN (SELECT id FROM bracelets WHERE owner_id = ?)", g.callerID)
	}
	return db
}

func (g *Gateway) requireElevated() error {
	if g.scope != ScopeElevated {
		return ErrElevatedOnly
	}
	return nil
}

// lockOwned share-locks the bracelet row inside tx and fails with
// ErrStaleOwner when a caller-scoped gateway no longer owns it. The lock
// holds until tx ends, so a concurrent SetOwner waits for the write.
func (g *Gateway) lockOwned(tx *gorm.DB, braceletID uuid.UUID) error {
	if g.scope != ScopeCaller {
		return nil
	}
	var b models.Bracelet
	err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id").
		Where("id = ? AND owner_id = ?", braceletID, g.callerID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrStaleOwner
	}
	return err
}

// lockCustomer share-locks the user row and requires it to be able to own
// bracelets.
func lockCustomer(tx *gorm.DB, id uuid.UUID) error {
	var target models.User
	err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
		Select("id", "role").Where("id = ?", id).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTargetNotCustomer
	}
	if err != nil {
		return err
	}
	if !target.Role.CanOwnBracelets() {
		return ErrTargetNotCustomer
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return ErrDuplicate
	}
	return err
}

// ---- users ----

func (g *Gateway) CreateUser(ctx context.Context, user *models.User) error {
	if err := g.requireElevated(); err != nil {
		return err
	}
	return translate(g.conn(ctx).Create(user).Error)
}

func (g *Gateway) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := g.conn(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (g *Gateway) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := g.conn(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// EmailTaken reports whether email belongs to a user other than except.
func (g *Gateway) EmailTaken(ctx context.Context, email string, except *uuid.UUID) (bool, error) {
	q := g.conn(ctx).Model(&models.User{}).Where("email = ?", email)
	if except != nil {
		q = q.Where("id <> ?", *except)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetCustomerActive moves a user between customer and blocked. Blocking is
// refused while the customer owns a bracelet, so that bracelet owners are
// always customers. The user row is locked so that a concurrent SetOwner
// targeting the same user is serialised with it.
func (g *Gateway) SetCustomerActive(ctx context.Context, id uuid.UUID, active bool) (*models.User, error) {
	if err := g.requireElevated(); err != nil {
		return nil, err
	}

	var user models.User
	err := g.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&user).Error; err != nil {
			return translate(err)
		}
		return setActive(tx, &user, active)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateCustomer applies column updates to a customer or blocked user and,
// when active is non-nil, the SetCustomerActive transition, all in one
// transaction. Either everything is committed or nothing is.
func (g *Gateway) UpdateCustomer(ctx context.Context, id uuid.UUID, updates map[string]interface{}, active *bool) (*models.User, error) {
	if err := g.requireElevated(); err != nil {
		return nil, err
	}
	delete(updates, "role")

	var user models.User
	err := g.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&user).Error; err != nil {
			return translate(err)
		}
		if user.Role != models.RoleCustomer && user.Role != models.RoleBlocked {
			return ErrTargetNotCustomer
		}
		if active != nil {
			if err := setActive(tx, &user, *active); err != nil {
				return err
			}
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return translate(err)
			}
		}
		return tx.Where("id = ?", id).First(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// setActive performs the customer/blocked transition on a user row already
// locked by tx.
func setActive(tx *gorm.DB, user *models.User, active bool) error {
	from, to := models.RoleCustomer, models.RoleBlocked
	if active {
		from, to = models.RoleBlocked, models.RoleCustomer
	}
	if user.Role == to {
		return nil
	}
	if user.Role != from {
		return ErrTargetNotCustomer
	}

	if !active {
		var owned int64
		if err := tx.Model(&models.Bracelet{}).Where("owner_id = ?", user.ID).Count(&owned).Error; err != nil {
			return err
		}
		if owned > 0 {
			return ErrOwnerHoldsBracelets
		}
	}

	res := tx.Model(&models.User{}).Where("id = ? AND role = ?", user.ID, from).Update("role", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleOwner
	}
	user.Role = to
	return nil
}

// ListUsers returns users with any of roles (all users when none given),
// newest first.
func (g *Gateway) ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	q := g.conn(ctx).Order("created_at DESC")
	if len(roles) > 0 {
		q = q.Where("role IN ?", roles)
	}
	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ---- bracelets ----

func ownerColumns(db *gorm.DB) *gorm.DB {
	return db.Select("id", "name", "email", "role")
}

// CreateBracelet inserts a bracelet together with its initial custom fields.
// A non-nil b.OwnerID is checked and assigned in the same transaction, so a
// bracelet is never left behind by a rejected owner.
func (g *Gateway) CreateBracelet(ctx context.Context, b *models.Bracelet, fields []models.CustomField) error {
	if err := g.requireElevated(); err != nil {
		return err
	}
	return g.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if b.OwnerID != nil {
			if err := lockCustomer(tx, *b.OwnerID); err != nil {
				return err
			}
		}
		if err := tx.Omit("Owner").Create(b).Error; err != nil {
			return translate(err)
		}
		for i := range fields {
			fields[i].BraceletID = b.ID
			if err := tx.Create(&fields[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gateway) FindBracelet(ctx context.Context, id uuid.UUID) (*models.Bracelet, error) {
	var b models.Bracelet
	err := g.conn(ctx).Scopes(g.ownedBracelets).
		Preload("Owner", ownerColumns).
		Where("id = ?", id).First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (g *Gateway) FindBraceletByIdentifier(ctx context.Context, identifier string) (*models.Bracelet, error) {
	var b models.Bracelet
	err := g.conn(ctx).Scopes(g.ownedBracelets).
		Where("identifier = ?", identifier).First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// ListBracelets returns the visible bracelets, newest first, with the
// owner's public columns preloaded.
func (g *Gateway) ListBracelets(ctx context.Context) ([]models.Bracelet, error) {
	var bracelets []models.Bracelet
	err := g.conn(ctx).Scopes(g.ownedBracelets).
		Preload("Owner", ownerColumns).
		Order("created_at DESC").Find(&bracelets).Error
	if err != nil {
		return nil, err
	}
	return bracelets, nil
}

// CountBracelets returns the total number of bracelets and how many have an
// owner.
func (g *Gateway) CountBracelets(ctx context.Context) (total, assigned int64, err error) {
	db := g.conn(ctx).Model(&models.Bracelet{}).Scopes(g.ownedBracelets)
	if err = db.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = g.conn(ctx).Model(&models.Bracelet{}).Scopes(g.ownedBracelets).
		Where("owner_id IS NOT NULL").Count(&assigned).Error
	return total, assigned, err
}

// SetOwner sets the bracelet's owner to next with a compare-and-set on the
// current owner: expected == nil requires the bracelet to be unassigned,
// otherwise the owner must still equal *expected. A lost race returns
// ErrStaleOwner. The target user row is share-locked and must be a customer.
func (g *Gateway) SetOwner(ctx context.Context, braceletID uuid.UUID, expected *uuid.UUID, next uuid.UUID) error {
	if err := g.requireElevated(); err != nil {
		return err
	}

	return g.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockCustomer(tx, next); err != nil {
			return err
		}

		q := tx.Model(&models.Bracelet{}).Where("id = ?", braceletID)
		if expected == nil {
			q = q.Where("owner_id IS NULL")
		} else {
			q = q.Where("owner_id = ?", *expected)
		}
		res := q.Update("owner_id", next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleOwner
		}
		return nil
	})
}

// ---- SOS profile ----

func (g *Gateway) FindProfile(ctx context.Context, braceletID uuid.UUID) (*models.SosProfile, error) {
	var p models.SosProfile
	err := g.conn(ctx).Scopes(g.ownedChildren).
		Where("bracelet_id = ?", braceletID).First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// UpsertProfile loads the bracelet's profile (or a fresh one), applies apply
// to it and saves it. A caller-scoped gateway checks ownership in the same
// transaction. A concurrent first write losing the insert race is retried
// once as an update.
func (g *Gateway) UpsertProfile(ctx context.Context, braceletID uuid.UUID, apply func(*models.SosProfile)) (*models.SosProfile, error) {
	var out *models.SosProfile
	upsert := func() error {
		return g.conn(ctx).Transaction(func(tx *gorm.DB) error {
			if err := g.lockOwned(tx, braceletID); err != nil {
				return err
			}
			var p models.SosProfile
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("bracelet_id = ?", braceletID).First(&p).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				p = models.SosProfile{BraceletID: braceletID}
				apply(&p)
				if err := tx.Create(&p).Error; err != nil {
					return translate(err)
				}
			case err != nil:
				return err
			default:
				apply(&p)
				p.BraceletID = braceletID
				if err := tx.Save(&p).Error; err != nil {
					return err
				}
			}
			out = &p
			return nil
		})
	}

	err := upsert()
	if errors.Is(err, ErrDuplicate) {
		err = upsert()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---- custom fields ----

// ListFields returns a bracelet's fields sorted by order, then creation.
func (g *Gateway) ListFields(ctx context.Context, braceletID uuid.UUID) ([]models.CustomField, error) {
	var fields []models.CustomField
	err := g.conn(ctx).Scopes(g.ownedChildren).
		Where("bracelet_id = ?", braceletID).
		Order("ordem ASC").Order("created_at ASC").Order("id ASC").
		Find(&fields).Error
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (g *Gateway) FindField(ctx context.Context, id uuid.UUID) (*models.CustomField, error) {
	var f models.CustomField
	if err := g.conn(ctx).Scopes(g.ownedChildren).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

// NextFieldOrder returns max(order)+1 over the bracelet's fields, or 1 when
// it has none.
func (g *Gateway) NextFieldOrder(ctx context.Context, braceletID uuid.UUID) (int, error) {
	var max sql.NullInt64
	err := g.conn(ctx).Model(&models.CustomField{}).
		Where("bracelet_id = ?", braceletID).
		Select("MAX(ordem)").Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

func (g *Gateway) CreateField(ctx context.Context, f *models.CustomField) error {
	return g.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := g.lockOwned(tx, f.BraceletID); err != nil {
			return err
		}
		return tx.Create(f).Error
	})
}

func (g *Gateway) UpdateField(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	res := g.conn(ctx).Model(&models.CustomField{}).Scopes(g.ownedChildren).
		Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleOwner
	}
	return nil
}

// DeleteField removes the row.
func (g *Gateway) DeleteField(ctx context.Context, id uuid.UUID) error {
	res := g.conn(ctx).Scopes(g.ownedChildren).Where("id = ?", id).Delete(&models.CustomField{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleOwner
	}
	return nil
}

// ReorderFields sets the order of several fields of one bracelet in a single
// transaction. Every id must belong to the bracelet.
func (g *Gateway) ReorderFields(ctx context.Context, braceletID uuid.UUID, orders map[uuid.UUID]int) error {
	return g.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for id, order := range orders {
			res := tx.Model(&models.CustomField{}).Scopes(g.ownedChildren).
				Where("id = ? AND bracelet_id = ?", id, braceletID).
				Update("ordem", order)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		return nil
	})
}
