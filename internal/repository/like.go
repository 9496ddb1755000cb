package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// LikeRepository manages (user, target) like edges.
type LikeRepository interface {
	Exists(ctx context.Context, userID uint, target models.Target) (bool, error)
	Create(ctx context.Context, userID uint, target models.Target) (*models.Like, bool, error)
	Delete(ctx context.Context, userID uint, target models.Target) (*models.Like, bool, error)
}

type likeRepository struct {
	db *gorm.DB
}

// NewLikeRepository creates a new LikeRepository
func NewLikeRepository(db *gorm.DB) LikeRepository {
	return &likeRepository{db: db}
}

func (r *likeRepository) Exists(ctx context.Context, userID uint, target models.Target) (bool, error) {
	defer observability.TrackQuery("exists", "likes")()
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Like{}).
		Where("user_id = ? AND target_type = ? AND target_id = ?", userID, target.Type, target.ID).
		Count(&count).Error; err != nil {
		return false, models.NewStoreReadError("like", err)
	}
	return count > 0, nil
}

// Create inserts the edge; an existing edge is left alone and reported as not inserted.
func (r *likeRepository) Create(ctx context.Context, userID uint, target models.Target) (*models.Like, bool, error) {
	defer observability.TrackQuery("create", "likes")()
	like := &models.Like{UserID: userID, TargetType: target.Type, TargetID: target.ID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(like)
	if res.Error != nil {
		return nil, false, models.NewStoreWriteError("like "+string(target.Type), res.Error)
	}
	return like, res.RowsAffected > 0, nil
}

// Delete hard-deletes the edge and reports whether one existed.
func (r *likeRepository) Delete(ctx context.Context, userID uint, target models.Target) (*models.Like, bool, error) {
	defer observability.TrackQuery("delete", "likes")()
	like := &models.Like{UserID: userID, TargetType: target.Type, TargetID: target.ID}
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND target_type = ? AND target_id = ?", userID, target.Type, target.ID).
		Delete(&models.Like{})
	if res.Error != nil {
		return nil, false, models.NewStoreWriteError("unlike "+string(target.Type), res.Error)
	}
	return like, res.RowsAffected > 0, nil
}
