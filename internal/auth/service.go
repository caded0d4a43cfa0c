package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user is inactive")
)

const minPasswordLength = 8

// Service manages local accounts: registration with a password and login.
type Service struct {
	db          *gorm.DB
	jwt         *JWTService
	provisioner Provisioner
}

func NewService(db *gorm.DB, jwt *JWTService, provisioner Provisioner) *Service {
	return &Service{db: db, jwt: jwt, provisioner: provisioner}
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates a user and their personal workspace in one transaction.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperr.InvalidInput("email")
	}
	if len(input.Password) < minPasswordLength {
		return nil, apperr.InvalidInput("password")
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(input.Name),
		IsActive:     true,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		_, err := s.provisioner.CreatePersonalWorkspace(ctx, tx, &user)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("email_taken")
		}
		return nil, apperr.FromStorage(err, "user")
	}

	token, err := s.jwt.GenerateToken(&user)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &AuthResponse{
		Token: token,
		User:  &user,
	}, nil
}

// Login checks a password. Unknown email, wrong password and inactive
// account all fail the same way.
func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Unauthenticated().WithCause(ErrInvalidCredentials)
		}
		return nil, apperr.FromStorage(err, "user")
	}

	if !user.IsActive {
		return nil, apperr.Unauthenticated().WithCause(ErrInactiveUser)
	}
	if user.PasswordHash == "" || !CheckPassword(input.Password, user.PasswordHash) {
		return nil, apperr.Unauthenticated().WithCause(ErrInvalidCredentials)
	}

	token, err := s.jwt.GenerateToken(&user)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &AuthResponse{
		Token: token,
		User:  &user,
	}, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, apperr.FromStorage(err, "user")
	}
	return &user, nil
}
