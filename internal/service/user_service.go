package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

const minPasswordLength = 8

type UserService struct {
	store      domain.Store
	bcryptCost int
	logger     *zerolog.Logger
	now        Clock
}

func NewUserService(store domain.Store, bcryptCost int, logger *zerolog.Logger) *UserService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{
		store:      store,
		bcryptCost: bcryptCost,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *UserService) SetClock(clock Clock) { s.now = clock }

type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Register creates a self-service account. Self-registered users are
// always external.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	return s.create(ctx, "Register", CreateUserRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.RoleExternal,
	})
}

type CreateUserRequest struct {
	Name       string
	Email      string
	Password   string
	Role       string
	Department string
}

// CreateUser lets an admin open an account with any role.
func (s *UserService) CreateUser(ctx context.Context, adminID string, req CreateUserRequest) (*models.User, error) {
	const op = "CreateUser"
	if _, err := requireAdmin(ctx, s.store, op, adminID); err != nil {
		return nil, err
	}
	return s.create(ctx, op, req)
}

func (s *UserService) create(ctx context.Context, op string, req CreateUserRequest) (*models.User, error) {
	fields := map[string]string{}
	name := strings.TrimSpace(req.Name)
	email := models.NormalizeEmail(req.Email)
	if name == "" {
		fields["name"] = "is required"
	}
	if email == "" || !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
		fields["email"] = "must be a valid email address"
	}
	if len(req.Password) < minPasswordLength {
		fields["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLength)
	}
	if !models.IsValidRole(req.Role) {
		fields["role"] = "must be one of internal, external, admin"
	}
	if len(fields) > 0 {
		return nil, domain.ValidationFields(op, fields)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to hash password: %w", op, err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Role:         req.Role,
		Status:       models.UserActive,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Role == models.RoleInternal {
		user.Department = strings.TrimSpace(req.Department)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := tx.Users().GetUserByEmail(ctx, email); err == nil {
			return domain.Conflict(op, "email %s is already registered", email)
		} else if !errors.Is(err, domain.ErrRecordNotFound) {
			return storeErr(op, "user", email, err)
		}
		return storeErr(op, "user", user.ID, tx.Users().CreateUser(ctx, user))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("User created")
	return user, nil
}

// Authenticate verifies credentials. Inactive accounts get a permission
// error even with the right password.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	const op = "Authenticate"
	user, err := s.store.Users().GetUserByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeErr(op, "user", email, err)
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, domain.Permission(op, "account %s is inactive", user.ID)
	}
	return user, nil
}

// Principal resolves the active account behind an authenticated request.
func (s *UserService) Principal(ctx context.Context, id string) (*models.User, error) {
	return activeUser(ctx, s.store, "Principal", id)
}

func (s *UserService) GetUser(ctx context.Context, actorID, id string) (*models.User, error) {
	const op = "GetUser"
	if err := requireSelfOrAdmin(ctx, s.store, op, actorID, id); err != nil {
		return nil, err
	}
	return loadUser(ctx, s.store, op, id)
}

func (s *UserService) ListUsers(ctx context.Context, adminID string, filter models.UserFilter) ([]*models.User, error) {
	const op = "ListUsers"
	if _, err := requireAdmin(ctx, s.store, op, adminID); err != nil {
		return nil, err
	}
	if filter.Role != "" && !models.IsValidRole(filter.Role) {
		return nil, domain.ValidationFields(op, map[string]string{"role": "must be one of internal, external, admin"})
	}
	if filter.Status != "" && !models.IsValidUserStatus(filter.Status) {
		return nil, domain.ValidationFields(op, map[string]string{"status": "must be active or inactive"})
	}
	users, err := s.store.Users().ListUsers(ctx, filter)
	if err != nil {
		return nil, storeErr(op, "user", "", err)
	}
	return users, nil
}

// SetStatus activates or deactivates an account. An admin cannot
// deactivate themselves.
func (s *UserService) SetStatus(ctx context.Context, adminID, userID, status string) (*models.User, error) {
	const op = "SetUserStatus"
	if !models.IsValidUserStatus(status) {
		return nil, domain.ValidationFields(op, map[string]string{"status": "must be active or inactive"})
	}

	var user *models.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := requireAdmin(ctx, tx, op, adminID); err != nil {
			return err
		}
		if adminID == userID && status == models.UserInactive {
			return domain.InvalidState(op, "administrators cannot deactivate their own account")
		}
		u, err := loadUser(ctx, tx, op, userID)
		if err != nil {
			return err
		}
		u.Status = status
		u.UpdatedAt = s.now().UTC()
		if err := tx.Users().UpdateUser(ctx, u); err != nil {
			return storeErr(op, "user", userID, err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("admin_id", adminID).Str("user_id", userID).Str("status", status).Msg("User status changed")
	return user, nil
}
