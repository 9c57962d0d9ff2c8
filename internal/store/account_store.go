package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/usermanager/internal/models"
)

// AccountStore is CRUD access to account records. Lookups return (nil, nil) when
// nothing matches; every write is a single-record operation.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByResetTokenHash(ctx context.Context, hash string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (string, error)
	Update(ctx context.Context, account *models.Account) error
}

// GormAccountStore implements AccountStore on top of gorm.
type GormAccountStore struct {
	db *gorm.DB
}

// NewGormAccountStore constructs an account store backed by db.
func NewGormAccountStore(db *gorm.DB) (*GormAccountStore, error) {
	if db == nil {
		return nil, errors.New("account store: db is required")
	}
	return &GormAccountStore{db: db}, nil
}

// FindByEmail performs a case-insensitive lookup through the normalised key column.
func (s *GormAccountStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	key := models.EmailKey(email)
	if key == "" {
		return nil, nil
	}
	return s.first(ctx, "email_key = ?", key)
}

// FindByID loads an account by primary key.
func (s *GormAccountStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return s.first(ctx, "id = ?", id)
}

// FindByResetTokenHash loads the account currently holding the given token digest.
func (s *GormAccountStore) FindByResetTokenHash(ctx context.Context, hash string) (*models.Account, error) {
	if hash == "" {
		return nil, nil
	}
	return s.first(ctx, "reset_token_hash = ?", hash)
}

// Create inserts a new account and returns its identifier.
func (s *GormAccountStore) Create(ctx context.Context, account *models.Account) (string, error) {
	if account == nil {
		return "", errors.New("account store: account is required")
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueConstraintError(err) {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("account store: create: %w", err)
	}
	return account.ID, nil
}

// Update persists every column of an existing account, including cleared reset fields.
func (s *GormAccountStore) Update(ctx context.Context, account *models.Account) error {
	if account == nil || account.ID == "" {
		return errors.New("account store: persisted account is required")
	}

	result := s.db.WithContext(ctx).Model(account).Select("*").Omit("created_at").Updates(account)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return ErrEmailTaken
		}
		return fmt.Errorf("account store: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account store: update %s: %w", account.ID, gorm.ErrRecordNotFound)
	}
	return nil
}

func (s *GormAccountStore) first(ctx context.Context, query string, args ...interface{}) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where(query, args...).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account store: lookup: %w", err)
	}
	return &account, nil
}
