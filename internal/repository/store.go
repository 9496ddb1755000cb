package repository

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"campusfeed/internal/cache"
	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// ChangePublisher announces committed row changes.
type ChangePublisher interface {
	PublishChange(ctx context.Context, rel models.Relation, op models.ChangeOp, row any, actorID *uint) error
}

// FeedStore is the entity store behind feed views. Every successful write is
// followed by a change notification attributed to the acting user.
type FeedStore struct {
	Users    UserRepository
	Posts    PostRepository
	Comments CommentRepository
	Likes    LikeRepository
	Polls    PollRepository

	publisher ChangePublisher
	logger    *observability.RepoLogger
}

// NewFeedStore wires every repository over db. publisher and c may be nil.
func NewFeedStore(db *gorm.DB, c *cache.Cache, publisher ChangePublisher) *FeedStore {
	polls := NewPollRepository(db)
	return &FeedStore{
		Users:     NewUserRepository(db, c),
		Posts:     NewPostRepository(db, polls),
		Comments:  NewCommentRepository(db),
		Likes:     NewLikeRepository(db),
		Polls:     polls,
		publisher: publisher,
		logger:    observability.NewRepoLogger("feed"),
	}
}

// publish failures never fail the write that already committed.
func (s *FeedStore) publish(ctx context.Context, rel models.Relation, op models.ChangeOp, row any, actorID uint) {
	if s.publisher == nil {
		return
	}
	actor := actorID
	if err := s.publisher.PublishChange(ctx, rel, op, row, &actor); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "change notification not published",
			slog.String("relation", string(rel)),
			slog.String("operation", string(op)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FeedStore) ListPosts(ctx context.Context, scope models.Scope, viewerID uint, limit int) ([]*models.Post, error) {
	ctx, span := observability.StartRepositorySpan(ctx, "ListPosts", "posts")
	posts, err := s.Posts.ListByScope(ctx, scope, viewerID, limit)
	observability.EndSpan(span, err)
	return posts, err
}

func (s *FeedStore) ListComments(ctx context.Context, postID, viewerID uint) ([]*models.Comment, error) {
	ctx, span := observability.StartRepositorySpan(ctx, "ListComments", "comments")
	comments, err := s.Comments.ListByPost(ctx, postID, viewerID)
	observability.EndSpan(span, err)
	return comments, err
}

func (s *FeedStore) GetComment(ctx context.Context, id uint) (*models.Comment, error) {
	return s.Comments.GetByID(ctx, id, 0)
}

// CreateComment inserts the comment (re-parenting replies to replies) and fills in
// its id, stored parent, timestamps and author.
func (s *FeedStore) CreateComment(ctx context.Context, comment *models.Comment) error {
	ctx, span := observability.StartRepositorySpan(ctx, "CreateComment", "comments")
	err := s.Comments.Create(ctx, comment)
	observability.EndSpan(span, err)
	if err != nil {
		s.logger.LogError(ctx, err, "create")
		return err
	}
	s.logger.LogCreate(ctx, map[string]interface{}{"comment_id": comment.ID, "post_id": comment.PostID})
	s.publish(ctx, models.RelationComments, models.OpInsert, comment, comment.UserID)
	return nil
}

func (s *FeedStore) HasLiked(ctx context.Context, userID uint, target models.Target) (bool, error) {
	return s.Likes.Exists(ctx, userID, target)
}

func (s *FeedStore) Like(ctx context.Context, userID uint, target models.Target) error {
	if !target.Valid() {
		return models.NewValidationError("invalid like target")
	}
	ctx, span := observability.StartRepositorySpan(ctx, "Like", "likes")
	like, inserted, err := s.Likes.Create(ctx, userID, target)
	observability.EndSpan(span, err)
	if err != nil {
		s.logger.LogError(ctx, err, "create")
		return err
	}
	if inserted {
		s.logger.LogCreate(ctx, map[string]interface{}{"user_id": userID, "target": target.String()})
		s.publish(ctx, models.RelationLikes, models.OpInsert, like, userID)
	}
	return nil
}

func (s *FeedStore) Unlike(ctx context.Context, userID uint, target models.Target) error {
	if !target.Valid() {
		return models.NewValidationError("invalid like target")
	}
	ctx, span := observability.StartRepositorySpan(ctx, "Unlike", "likes")
	like, removed, err := s.Likes.Delete(ctx, userID, target)
	observability.EndSpan(span, err)
	if err != nil {
		s.logger.LogError(ctx, err, "delete")
		return err
	}
	if removed {
		s.logger.LogDelete(ctx, map[string]interface{}{"user_id": userID, "target": target.String()})
		s.publish(ctx, models.RelationLikes, models.OpDelete, like, userID)
	}
	return nil
}

func (s *FeedStore) FindVote(ctx context.Context, pollID, userID uint) (*models.PollVote, error) {
	return s.Polls.FindVote(ctx, pollID, userID)
}

func (s *FeedStore) CastVote(ctx context.Context, pollID, optionID, userID uint) (*models.PollVote, error) {
	ctx, span := observability.StartRepositorySpan(ctx, "CastVote", "poll_votes")
	vote, err := s.Polls.CastVote(ctx, pollID, optionID, userID)
	observability.EndSpan(span, err)
	if err != nil {
		s.logger.LogError(ctx, err, "create")
		return nil, err
	}
	s.logger.LogCreate(ctx, map[string]interface{}{"poll_id": pollID, "option_id": optionID})
	s.publish(ctx, models.RelationPollVotes, models.OpInsert, vote, userID)
	return vote, nil
}

// CreatePost inserts a post (with its poll, if any) and announces it.
func (s *FeedStore) CreatePost(ctx context.Context, post *models.Post) error {
	if err := s.Posts.Create(ctx, post); err != nil {
		s.logger.LogError(ctx, err, "create")
		return err
	}
	s.publish(ctx, models.RelationPosts, models.OpInsert, post, post.UserID)
	return nil
}

// EditPost replaces a post's title and content.
func (s *FeedStore) EditPost(ctx context.Context, actorID, id uint, title, content string) (*models.Post, error) {
	post, err := s.Posts.UpdateContent(ctx, id, title, content)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.RelationPosts, models.OpUpdate, post, actorID)
	return post, nil
}

// DeletePost removes a post and its comments.
func (s *FeedStore) DeletePost(ctx context.Context, actorID, id uint) error {
	post, err := s.Posts.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.logger.LogDelete(ctx, map[string]interface{}{"post_id": id})
	s.publish(ctx, models.RelationPosts, models.OpDelete, post, actorID)
	return nil
}

// EditComment replaces a comment's content.
func (s *FeedStore) EditComment(ctx context.Context, actorID, id uint, content string) (*models.Comment, error) {
	comment, err := s.Comments.UpdateContent(ctx, id, content)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.RelationComments, models.OpUpdate, comment, actorID)
	return comment, nil
}

// DeleteComment removes a comment and its replies, announcing each removed row.
func (s *FeedStore) DeleteComment(ctx context.Context, actorID, id uint) error {
	removed, err := s.Comments.Delete(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range removed {
		s.logger.LogDelete(ctx, map[string]interface{}{"comment_id": c.ID, "post_id": c.PostID})
		s.publish(ctx, models.RelationComments, models.OpDelete, c, actorID)
	}
	return nil
}
