package services

import (
	"context"
	"errors"
	"strings"

	"sosband-backend/database"
	"sosband-backend/models"
	"sosband-backend/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const minPasswordLength = 8

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
}

type UpdateCustomerInput struct {
	Name   *string
	Email  *string
	Active *bool
}

// UserService handles authentication and account administration.
type UserService struct {
	gw     *database.Gateway
	logger *zap.Logger
	hash   func(string) (string, error)
}

func NewUserService(gw *database.Gateway, logger *zap.Logger) *UserService {
	return &UserService{gw: gw, logger: logger, hash: utils.HashPassword}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.gw.FindUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, database.ErrNotFound) {
		return nil, Unauthenticated("invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(password, user.Password) {
		return nil, Unauthenticated("invalid credentials")
	}

	switch user.Role {
	case models.RoleAdmin, models.RolePartner, models.RoleCustomer:
		return user, nil
	case models.RoleBlocked:
		return nil, Forbidden("account is blocked")
	}
	s.logger.Error("user with unknown role", zap.String("user_id", user.ID.String()), zap.String("role", string(user.Role)))
	return nil, Forbidden("account cannot sign in")
}

// Register creates an account with any role that can sign in.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" {
		return nil, Validation("name and email are required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, Validation("password must be at least %d characters", minPasswordLength)
	}
	if !in.Role.CanSignIn() {
		return nil, Validation("role must be one of admin, parceiro, cliente")
	}

	taken, err := s.gw.EmailTaken(ctx, email, nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, Conflict("email already registered")
	}

	hashed, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{Name: name, Email: email, Password: hashed, Role: in.Role}
	if err := s.gw.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, Conflict("email already registered")
		}
		return nil, err
	}

	s.logger.Info("user registered", zap.String("email", email), zap.String("role", string(in.Role)))
	return &user, nil
}

func (s *UserService) CreateCustomer(ctx context.Context, name, email, password string) (*models.User, error) {
	return s.Register(ctx, RegisterInput{Name: name, Email: email, Password: password, Role: models.RoleCustomer})
}

// UpdateCustomer edits a customer's name or email and, through Active,
// blocks or reactivates the account.
func (s *UserService) UpdateCustomer(ctx context.Context, id uuid.UUID, in UpdateCustomerInput) (*models.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	switch user.Role {
	case models.RoleCustomer, models.RoleBlocked:
	default:
		return nil, InvalidTarget("user is not a customer")
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, Validation("name must not be empty")
		}
		updates["name"] = name
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if email == "" {
			return nil, Validation("email must not be empty")
		}
		taken, err := s.gw.EmailTaken(ctx, email, &id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, Conflict("email already registered")
		}
		updates["email"] = email
	}

	updated, err := s.gw.UpdateCustomer(ctx, id, updates, in.Active)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicate):
			return nil, Conflict("email already registered")
		case errors.Is(err, database.ErrOwnerHoldsBracelets):
			return nil, InvalidState("customer still owns bracelets; transfer them before blocking")
		case errors.Is(err, database.ErrTargetNotCustomer):
			return nil, InvalidTarget("user is not a customer")
		case errors.Is(err, database.ErrStaleOwner):
			return nil, Conflict("account was changed by another request")
		case errors.Is(err, database.ErrNotFound):
			return nil, NotFound("customer not found")
		}
		return nil, err
	}
	if in.Active != nil && user.Role != updated.Role {
		s.logger.Info("customer status changed", zap.String("user_id", id.String()), zap.Bool("active", *in.Active))
	}
	return updated, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.gw.FindUser(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, NotFound("user not found")
	}
	return user, err
}

// ListCustomers returns active and blocked customers, newest first.
func (s *UserService) ListCustomers(ctx context.Context) ([]models.User, error) {
	return s.gw.ListUsers(ctx, models.RoleCustomer, models.RoleBlocked)
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.gw.ListUsers(ctx)
}
