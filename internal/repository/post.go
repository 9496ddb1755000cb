package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint, viewerID uint) (*models.Post, error)
	ListByScope(ctx context.Context, scope models.Scope, viewerID uint, limit int) ([]*models.Post, error)
	UpdateContent(ctx context.Context, id uint, title, content string) (*models.Post, error)
	Delete(ctx context.Context, id uint) (*models.Post, error)
}

type postRepository struct {
	db    *gorm.DB
	polls PollRepository
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB, polls PollRepository) PostRepository {
	return &postRepository{db: db, polls: polls}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()
	if post.CourseID != nil && post.ClubID != nil {
		return models.NewValidationError("a post belongs to a course or a club, not both")
	}
	if err := r.db.WithContext(ctx).Omit("User").Create(post).Error; err != nil {
		return models.NewStoreWriteError("create post", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint, viewerID uint) (*models.Post, error) {
	defer observability.TrackQuery("get", "posts")()
	var post models.Post
	err := r.withDetails(ctx, viewerID).First(&post, "posts.id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return nil, models.NewStoreReadError("post", err)
	}
	if err := r.polls.EnrichWithResults(ctx, []*models.Post{&post}, viewerID); err != nil {
		return nil, err
	}
	return &post, nil
}

// ListByScope returns the newest posts of a scope. The campus scope holds only
// posts without a course or club.
func (r *postRepository) ListByScope(ctx context.Context, scope models.Scope, viewerID uint, limit int) ([]*models.Post, error) {
	defer observability.TrackQuery("list", "posts")()
	q := r.withDetails(ctx, viewerID)
	switch scope.Kind {
	case models.ScopeCourse:
		q = q.Where("posts.course_id = ?", scope.ID)
	case models.ScopeClub:
		q = q.Where("posts.club_id = ?", scope.ID)
	default:
		q = q.Where("posts.course_id IS NULL AND posts.club_id IS NULL")
	}

	var posts []*models.Post
	if err := q.Order("posts.created_at DESC, posts.id DESC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, models.NewStoreReadError("posts", err)
	}
	if err := r.polls.EnrichWithResults(ctx, posts, viewerID); err != nil {
		return nil, err
	}
	if err := r.attachCommentIDs(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

type commentRef struct {
	ID     uint
	PostID uint
}

// attachCommentIDs records which comments each post's CommentCount covers.
func (r *postRepository) attachCommentIDs(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	byID := make(map[uint]*models.Post, len(posts))
	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		p.CommentIDs = []uint{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	var refs []commentRef
	if err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Select("id, post_id").
		Where("post_id IN ?", ids).
		Order("id ASC").
		Scan(&refs).Error; err != nil {
		return models.NewStoreReadError("comment ids", err)
	}
	for _, ref := range refs {
		if p := byID[ref.PostID]; p != nil {
			p.CommentIDs = append(p.CommentIDs, ref.ID)
		}
	}
	return nil
}

func (r *postRepository) UpdateContent(ctx context.Context, id uint, title, content string) (*models.Post, error) {
	defer observability.TrackQuery("update", "posts")()
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Updates(map[string]interface{}{
		"title":     title,
		"content":   content,
		"is_edited": true,
		"edited_at": now,
	})
	if res.Error != nil {
		return nil, models.NewStoreWriteError("update post", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("Post", id)
	}
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, models.NewStoreReadError("post", err)
	}
	return &post, nil
}

// Delete soft-deletes the post and returns the removed row.
func (r *postRepository) Delete(ctx context.Context, id uint) (*models.Post, error) {
	defer observability.TrackQuery("delete", "posts")()
	var post models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, id).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&post).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return nil, models.NewStoreWriteError("delete post", err)
	}
	return &post, nil
}

// withDetails adds subqueries to fetch counts and liked status in a single query.
func (r *postRepository) withDetails(ctx context.Context, viewerID uint) *gorm.DB {
	return r.db.WithContext(ctx).
		Select("posts.*, "+
			"(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id AND comments.deleted_at IS NULL) AS comment_count, "+
			"(SELECT COUNT(*) FROM likes WHERE likes.target_type = ? AND likes.target_id = posts.id) AS like_count, "+
			"EXISTS(SELECT 1 FROM likes WHERE likes.target_type = ? AND likes.target_id = posts.id AND likes.user_id = ?) AS liked",
			models.TargetPost, models.TargetPost, viewerID).
		Preload("User").
		Preload("Poll").
		Preload("Poll.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		})
}
