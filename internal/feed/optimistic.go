package feed

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// Compose addresses a comment submission. ParentID replies to a confirmed
// comment; ParentTemp names a pending one, which is always rejected.
type Compose struct {
	PostID      uint
	ParentID    *uint
	ParentTemp  *uuid.UUID
	IsAnonymous bool
}

// SetDraft stores the composer text for a post or a reply. Empty text clears it.
func (v *View) SetDraft(ctx context.Context, postID uint, parentID *uint, text string) error {
	if postID == 0 {
		return models.NewValidationError("post id is required")
	}
	key := draftKey(postID, parentID)
	return v.do(ctx, func() {
		if text == "" {
			delete(v.state.Drafts, key)
			return
		}
		v.state.Drafts[key] = text
	})
}

// SubmitComment posts the composer draft for c optimistically. The pending
// entry is visible as soon as SubmitComment returns; the store insert completes
// later and is either acknowledged or rolled back with a notice.
func (v *View) SubmitComment(ctx context.Context, c Compose) (uuid.UUID, error) {
	var (
		tempID uuid.UUID
		result error
	)
	err := v.do(ctx, func() {
		tempID, result = v.stageComment(c)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return tempID, result
}

func (v *View) stageComment(c Compose) (uuid.UUID, error) {
	thread := v.state.Threads[c.PostID]
	if thread == nil || v.state.OpenThread != c.PostID {
		return uuid.Nil, ErrThreadNotLoaded
	}
	if c.ParentTemp != nil {
		return uuid.Nil, ErrReplyToPending
	}

	parent := cloneID(c.ParentID)
	if parent != nil {
		node := thread.Find(*parent)
		if node == nil {
			return uuid.Nil, models.NewNotFoundError("Comment", *parent)
		}
		confirmed, ok := node.Entry.(Confirmed)
		if !ok {
			return uuid.Nil, ErrReplyToPending
		}
		if confirmed.Comment.ParentID != nil {
			parent = cloneID(confirmed.Comment.ParentID)
		}
	}

	key := draftKey(c.PostID, c.ParentID)
	text := strings.TrimSpace(v.state.Drafts[key])
	if text == "" {
		return uuid.Nil, models.NewValidationError("comment text is required")
	}

	pending := Pending{
		TempID:      uuid.New(),
		PostID:      c.PostID,
		ParentID:    parent,
		Author:      v.viewer,
		Content:     text,
		IsAnonymous: c.IsAnonymous,
		CreatedAt:   time.Now().UTC(),
	}
	if !attach(thread, &Node{Entry: pending}, parent) {
		return uuid.Nil, models.NewNotFoundError("Comment", *parent)
	}
	delete(v.state.Drafts, key)
	observability.OptimisticComments.WithLabelValues("staged").Inc()
	v.emit(Update{Thread: c.PostID})

	record := &models.Comment{
		PostID:      c.PostID,
		ParentID:    cloneID(parent),
		UserID:      v.viewer.ID,
		Content:     text,
		IsAnonymous: c.IsAnonymous,
	}
	runAsync(v, "create:comment",
		func(ctx context.Context) (*models.Comment, error) {
			if err := v.store.CreateComment(ctx, record); err != nil {
				return nil, err
			}
			return record, nil
		},
		func(stored *models.Comment, err error) {
			v.settleComment(pending, stored, err)
		})
	return pending.TempID, nil
}

// settleComment applies the store's answer to a staged comment.
func (v *View) settleComment(p Pending, stored *models.Comment, err error) {
	thread := v.state.Threads[p.PostID]
	if err != nil {
		observability.OptimisticComments.WithLabelValues("rolled_back").Inc()
		v.log.LogFailure(v.ctx, "create:comment", err)
		if thread != nil && thread.removePending(p.TempID) {
			v.emit(Update{Thread: p.PostID})
		}
		v.notice(models.CodeStoreWriteFailure, "Your comment could not be posted.")
		return
	}

	observability.OptimisticComments.WithLabelValues("confirmed").Inc()
	v.countComment(p.PostID, stored.ID)
	if thread == nil {
		return
	}
	node := thread.findPending(p.TempID)
	if node == nil {
		return
	}
	if existing := thread.Find(stored.ID); existing != nil {
		if _, ok := existing.Entry.(Confirmed); ok {
			thread.removePending(p.TempID)
			v.emit(Update{Thread: p.PostID})
			return
		}
	}

	acked := node.Entry.(Pending)
	acked.Acked = stored.ID
	node.Entry = acked
	v.acked[p.TempID] = stored
	v.emit(Update{Thread: p.PostID})
	v.sched.Now(threadTag(p.PostID))
}
