package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidEmail indicates the login payload did not contain a usable email.
var ErrInvalidEmail = errors.New("users: invalid email")

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages account rows keyed by normalized email.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// EnsureAccount returns the account for the provided email, creating it on first login.
// A changed display name is written back on subsequent logins.
func (s *Service) EnsureAccount(ctx context.Context, email, displayName string) (Account, error) {
	normalizedEmail := strings.ToLower(normalize(email))
	if normalizedEmail == "" || !strings.Contains(normalizedEmail, "@") {
		return Account{}, ErrInvalidEmail
	}

	var account Account
	err := s.db.WithContext(ctx).
		Where("email = ?", normalizedEmail).
		First(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = Account{
			ID:          uuid.NewString(),
			Email:       normalizedEmail,
			DisplayName: normalize(displayName),
			LastSeenAt:  s.now(),
		}
		if createErr := s.db.WithContext(ctx).Create(&account).Error; createErr != nil {
			return Account{}, createErr
		}
		return account, nil
	}
	if err != nil {
		return Account{}, err
	}

	updates := map[string]interface{}{"last_seen_at": s.now()}
	if display := normalize(displayName); display != "" && display != account.DisplayName {
		updates["display_name"] = display
		account.DisplayName = display
	}
	if updateErr := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", account.ID).
		Updates(updates).
		Error; updateErr != nil {
		return Account{}, updateErr
	}

	return account, nil
}

// GetAccount fetches an account by id.
func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		return Account{}, err
	}
	return account, nil
}
