package feed

import (
	"context"
	"io"
	"time"

	"campusfeed/internal/models"
)

// Store is the entity store a view reads from and writes through.
type Store interface {
	ListPosts(ctx context.Context, scope models.Scope, viewerID uint, limit int) ([]*models.Post, error)
	ListComments(ctx context.Context, postID, viewerID uint) ([]*models.Comment, error)
	GetComment(ctx context.Context, id uint) (*models.Comment, error)
	// CreateComment fills in the stored id, parent, timestamps and author.
	CreateComment(ctx context.Context, comment *models.Comment) error
	HasLiked(ctx context.Context, userID uint, target models.Target) (bool, error)
	Like(ctx context.Context, userID uint, target models.Target) error
	Unlike(ctx context.Context, userID uint, target models.Target) error
	// FindVote returns nil, nil when the user has not voted.
	FindVote(ctx context.Context, pollID, userID uint) (*models.PollVote, error)
	CastVote(ctx context.Context, pollID, optionID, userID uint) (*models.PollVote, error)
}

// Source delivers change notifications for one relation at a time. onStatus(nil)
// acknowledges the subscription; onStatus(err) reports a terminal failure.
type Source interface {
	Subscribe(
		ctx context.Context,
		rel models.Relation,
		onEvent func(models.ChangeEvent),
		onStatus func(error),
	) (io.Closer, error)
}

// Options tunes a view's timing and page size.
type Options struct {
	// Debounce is the quiescence window before a refetch runs.
	Debounce time.Duration
	// ConnectTimeout bounds how long the view waits for every subscription to acknowledge.
	ConnectTimeout time.Duration
	// MutationTimeout bounds each store call; zero disables the bound.
	MutationTimeout time.Duration
	PageSize        int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:        150 * time.Millisecond,
		ConnectTimeout:  10 * time.Second,
		MutationTimeout: 15 * time.Second,
		PageSize:        50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.MutationTimeout < 0 {
		o.MutationTimeout = 0
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	return o
}

// Update names what changed in a view so a renderer can redraw only those rows.
type Update struct {
	// Feed is set when the post list was replaced.
	Feed bool `json:"feed,omitempty"`
	// PostIDs are rows patched in place.
	PostIDs []uint `json:"post_ids,omitempty"`
	// Thread is the post whose comment tree changed, or zero.
	Thread uint `json:"thread,omitempty"`
}

// Notice is a non-fatal, user-visible failure.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Callbacks run on the view's loop goroutine. They must not block and must not
// call back into the view.
type Callbacks struct {
	OnUpdate func(Update)
	OnNotice func(Notice)
	OnStatus func(Status)
}
