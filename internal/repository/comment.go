package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint, viewerID uint) (*models.Comment, error)
	ListByPost(ctx context.Context, postID uint, viewerID uint) ([]*models.Comment, error)
	UpdateContent(ctx context.Context, id uint, content string) (*models.Comment, error)
	Delete(ctx context.Context, id uint) ([]*models.Comment, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

// Create inserts the comment. A reply to a reply is stored against the
// top-level comment so threads never nest deeper than one level.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	defer observability.TrackQuery("create", "comments")()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Select("id").First(&post, comment.PostID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Post", comment.PostID)
			}
			return err
		}
		if comment.ParentID != nil {
			var parent models.Comment
			if err := tx.First(&parent, *comment.ParentID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return models.NewNotFoundError("Comment", *comment.ParentID)
				}
				return err
			}
			if parent.PostID != comment.PostID {
				return models.NewValidationError("parent comment belongs to another post")
			}
			if parent.ParentID != nil {
				top := *parent.ParentID
				comment.ParentID = &top
			}
		}
		if err := tx.Omit("User").Create(comment).Error; err != nil {
			return err
		}
		return tx.Preload("User").First(comment, comment.ID).Error
	})
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if err != nil {
		return models.NewStoreWriteError("create comment", err)
	}
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id uint, viewerID uint) (*models.Comment, error) {
	defer observability.TrackQuery("get", "comments")()
	var comment models.Comment
	err := r.withDetails(ctx, viewerID).First(&comment, "comments.id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Comment", id)
	}
	if err != nil {
		return nil, models.NewStoreReadError("comment", err)
	}
	return &comment, nil
}

// ListByPost returns every comment of a post, oldest first.
func (r *commentRepository) ListByPost(ctx context.Context, postID uint, viewerID uint) ([]*models.Comment, error) {
	defer observability.TrackQuery("list", "comments")()
	var comments []*models.Comment
	err := r.withDetails(ctx, viewerID).
		Where("comments.post_id = ?", postID).
		Order("comments.created_at ASC, comments.id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, models.NewStoreReadError("comments", err)
	}
	return comments, nil
}

func (r *commentRepository) UpdateContent(ctx context.Context, id uint, content string) (*models.Comment, error) {
	defer observability.TrackQuery("update", "comments")()
	res := r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"content":   content,
		"is_edited": true,
		"edited_at": time.Now(),
	})
	if res.Error != nil {
		return nil, models.NewStoreWriteError("update comment", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("Comment", id)
	}
	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, models.NewStoreReadError("comment", err)
	}
	return &comment, nil
}

// Delete soft-deletes a comment together with its replies and returns every removed row.
func (r *commentRepository) Delete(ctx context.Context, id uint) ([]*models.Comment, error) {
	defer observability.TrackQuery("delete", "comments")()
	var removed []*models.Comment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? OR parent_id = ?", id, id).Order("id ASC").Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return gorm.ErrRecordNotFound
		}
		ids := make([]uint, 0, len(removed))
		for _, c := range removed {
			ids = append(ids, c.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&models.Comment{}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Comment", id)
	}
	if err != nil {
		return nil, models.NewStoreWriteError("delete comment", err)
	}
	return removed, nil
}

func (r *commentRepository) withDetails(ctx context.Context, viewerID uint) *gorm.DB {
	return r.db.WithContext(ctx).
		Select("comments.*, "+
			"(SELECT COUNT(*) FROM likes WHERE likes.target_type = ? AND likes.target_id = comments.id) AS like_count, "+
			"EXISTS(SELECT 1 FROM likes WHERE likes.target_type = ? AND likes.target_id = comments.id AND likes.user_id = ?) AS liked",
			models.TargetComment, models.TargetComment, viewerID).
		Preload("User")
}
