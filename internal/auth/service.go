package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/apperr"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/store"
	"github.com/packpal/backend/pkg/utils"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Session is a signed-in principal with its bearer token.
type Session struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// RegisterInput is the data needed to open an account.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Service is the identity and credential store.
type Service struct {
	store  store.Store
	jwt    *JWTService
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(st store.Store, jwt *JWTService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, jwt: jwt, logger: logger, now: time.Now}
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := models.NormalizeEmail(in.Email)
	if !utils.ValidEmail(email) {
		return nil, apperr.ErrInvalidEmail
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.ErrPasswordTooShort
	}
	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u, err := s.CreatePrincipal(ctx, s.store, email, in.FirstName, in.LastName, hash)
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

// CreatePrincipal inserts an account with an already hashed password using q,
// so callers can provision accounts inside their own transaction.
func (s *Service) CreatePrincipal(ctx context.Context, q store.Querier, email, firstName, lastName, passwordHash string) (*models.User, error) {
	u := &models.User{
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Email:     models.NormalizeEmail(email),
		Password:  passwordHash,
		Role:      models.RoleMember,
		IsActive:  true,
	}
	if err := q.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.ErrEmailExists
		}
		return nil, apperr.Unavailable("create user", err)
	}
	return u, nil
}

// VerifyCredentials returns the account matching email and password.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.store.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperr.Unavailable("get user", err)
	}
	if !utils.CheckPassword(password, u.Password) {
		return nil, apperr.ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, apperr.ErrAccountDisabled
	}
	return u, nil
}

// Login verifies credentials, records the login time and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	at := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, u.ID, at); err != nil {
		s.logger.Warn("record last login", zap.String("user_id", u.ID.String()), zap.Error(err))
	} else {
		u.LastLogin = &at
	}
	return s.session(u)
}

// IssueSessionToken signs a bearer token for u.
func (s *Service) IssueSessionToken(u *models.User) (string, error) {
	return s.jwt.Generate(u.ID, u.Email, string(u.Role))
}

// Me returns the account behind a session.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("get user", err)
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
// Accounts provisioned by direct invites use this to drop their temporary password.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(current, u.Password) {
		return apperr.ErrInvalidCredentials
	}
	if len(next) < MinPasswordLength {
		return apperr.ErrPasswordTooShort
	}
	hash, err := utils.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return apperr.Unavailable("update password", err)
	}
	return nil
}

func (s *Service) session(u *models.User) (*Session, error) {
	token, err := s.IssueSessionToken(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u.ToPublic()}, nil
}
