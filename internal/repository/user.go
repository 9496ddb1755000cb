// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"campusfeed/internal/cache"
	"campusfeed/internal/models"
)

// UserRepository defines the interface for author lookups.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

type userRepository struct {
	db    *gorm.DB
	cache *cache.Cache
}

// NewUserRepository creates a user repository; c may be nil to disable caching.
func NewUserRepository(db *gorm.DB, c *cache.Cache) UserRepository {
	return &userRepository{db: db, cache: c}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return models.NewStoreWriteError("create user", err)
	}
	r.cache.Invalidate(ctx, cache.UserKey(user.ID))
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.cache.Aside(ctx, cache.UserKey(id), &user, cache.UserTTL, func() error {
		return r.db.WithContext(ctx).First(&user, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("User", id)
	}
	if err != nil {
		return nil, models.NewStoreReadError("user", err)
	}
	return &user, nil
}
