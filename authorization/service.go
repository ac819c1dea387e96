package authorization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUsernameTaken      = errors.New("authorization: username already exists")
	ErrWeakPassword       = errors.New("authorization: password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("authorization: invalid username or password")
)

// AuthService handles registration and credential checks over the accounts
// table.
type AuthService struct {
	db *gorm.DB
}

// Register creates an account with a fresh owner namespace.
func (s *AuthService) Register(ctx context.Context, username, password, displayName string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("authorization: username cannot be empty")
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = username
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).
		Where("username = ?", username).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("authorization: check username: %w", err)
	}
	if existing > 0 {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("authorization: hash password: %w", err)
	}

	account := &Account{
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
		OwnerID:      uuid.NewString(),
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("authorization: create account: %w", err)
	}
	return account, nil
}

// Authenticate checks the credentials and returns the claims identity.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*AuthenticatedAccount, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var account Account
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authorization: load account: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return &AuthenticatedAccount{
		ID:       account.ID,
		Username: account.Username,
		OwnerID:  account.OwnerID,
	}, nil
}
