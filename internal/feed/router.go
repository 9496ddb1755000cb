package feed

import (
	"context"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// Routing decisions, recorded per event.
const (
	decisionIgnored       = "ignored"
	decisionMalformed     = "malformed"
	decisionSelf          = "suppressed_self"
	decisionRemoved       = "removed"
	decisionFeedRefetch   = "refetch_feed"
	decisionThreadRefetch = "refetch_thread"
	decisionPatched       = "patched"
	decisionLookup        = "lookup"
)

// route applies one change notification to the view. It runs on the loop.
func (v *View) route(e models.ChangeEvent) {
	var decision string
	switch e.Relation {
	case models.RelationPosts:
		decision = v.routePost(e)
	case models.RelationComments:
		decision = v.routeComment(e)
	case models.RelationLikes:
		decision = v.routeLike(e)
	case models.RelationPollVotes:
		decision = v.routeVote(e)
	default:
		decision = decisionIgnored
	}
	observability.ChangeEventsRouted.WithLabelValues(string(e.Relation), decision).Inc()
	v.log.LogRoute(v.ctx, string(e.Relation), string(e.Operation), decision)
}

// foreign reports whether the event was written by someone other than the
// viewer. Unattributed events count as foreign.
func (v *View) foreign(e models.ChangeEvent) bool {
	if e.ActorID == nil {
		v.log.LogRoute(v.ctx, string(e.Relation), string(e.Operation), "attribution_unavailable")
		return true
	}
	return *e.ActorID != v.viewer.ID
}

func (v *View) routePost(e models.ChangeEvent) string {
	var row models.Post
	if err := e.DecodeRow(&row); err != nil || row.ID == 0 {
		return decisionMalformed
	}

	if e.Operation == models.OpDelete {
		i := v.state.postIndex(row.ID)
		if i < 0 && v.state.OpenThread != row.ID {
			return decisionIgnored
		}
		if i >= 0 {
			v.state.Posts = append(v.state.Posts[:i:i], v.state.Posts[i+1:]...)
		}
		if v.state.OpenThread == row.ID {
			v.closeThread()
		}
		for k := range v.state.Drafts {
			if k.PostID == row.ID {
				delete(v.state.Drafts, k)
			}
		}
		v.emit(Update{Feed: true})
		return decisionRemoved
	}

	if !v.state.Scope.Matches(row.CourseID, row.ClubID) && v.state.Post(row.ID) == nil {
		return decisionIgnored
	}
	v.sched.Invalidate(feedTag)
	return decisionFeedRefetch
}

func (v *View) routeComment(e models.ChangeEvent) string {
	var row models.Comment
	if err := e.DecodeRow(&row); err != nil || row.ID == 0 || row.PostID == 0 {
		return decisionMalformed
	}

	decision := decisionIgnored
	switch e.Operation {
	case models.OpInsert:
		if v.countComment(row.PostID, row.ID) {
			decision = decisionPatched
		}
	case models.OpDelete:
		if v.uncountComment(row.PostID, row.ID) {
			decision = decisionPatched
		}
	}

	if v.state.OpenThread == row.PostID {
		v.sched.Invalidate(threadTag(row.PostID))
		return decisionThreadRefetch
	}
	return decision
}

// countComment adds one to the post's comment count unless commentID was
// already counted by this view.
func (v *View) countComment(postID, commentID uint) bool {
	if _, seen := v.counted[commentID]; seen {
		return false
	}
	p := v.state.Post(postID)
	if p == nil {
		return false
	}
	v.counted[commentID] = postID
	p.CommentCount++
	v.emit(Update{PostIDs: []uint{postID}})
	return true
}

// uncountComment subtracts a removed comment. For posts read with their
// comment ids, only a comment the count still includes is subtracted.
func (v *View) uncountComment(postID, commentID uint) bool {
	p := v.state.Post(postID)
	if p == nil {
		return false
	}
	_, seen := v.counted[commentID]
	if _, known := v.exact[postID]; known && !seen {
		return false
	}
	delete(v.counted, commentID)
	if p.CommentCount > 0 {
		p.CommentCount--
	}
	v.emit(Update{PostIDs: []uint{postID}})
	return true
}

// reseedCounted replaces the counted ids of every post whose read carried
// them, so change events already reflected in CommentCount are not applied
// again. The ids are not kept on the post.
func (v *View) reseedCounted(posts []*models.Post) {
	exact := make(map[uint]struct{}, len(posts))
	for _, p := range posts {
		if p.CommentIDs != nil {
			exact[p.ID] = struct{}{}
		}
	}
	for id, postID := range v.counted {
		if _, ok := exact[postID]; ok {
			delete(v.counted, id)
		}
	}
	for _, p := range posts {
		for _, id := range p.CommentIDs {
			v.counted[id] = p.ID
		}
		p.CommentIDs = nil
	}
	v.exact = exact
}

func (v *View) routeLike(e models.ChangeEvent) string {
	var row models.Like
	if err := e.DecodeRow(&row); err != nil || !row.Target().Valid() {
		return decisionMalformed
	}
	if e.Operation == models.OpUpdate {
		return decisionIgnored
	}
	if !v.foreign(e) {
		return decisionSelf
	}

	switch row.TargetType {
	case models.TargetPost:
		if v.state.Post(row.TargetID) == nil {
			return decisionIgnored
		}
		v.sched.Invalidate(feedTag)
		return decisionFeedRefetch
	case models.TargetComment:
		open := v.state.OpenThread
		if open == 0 {
			return decisionIgnored
		}
		if t := v.state.Threads[open]; t != nil && t.Find(row.TargetID) != nil {
			v.sched.Invalidate(threadTag(open))
			return decisionThreadRefetch
		}
		// The comment may have arrived after the last thread read.
		runAsync(v, "lookup:comment",
			func(ctx context.Context) (*models.Comment, error) {
				return v.store.GetComment(ctx, row.TargetID)
			},
			func(c *models.Comment, err error) {
				if err != nil {
					v.log.LogFailure(v.ctx, "lookup:comment", err)
					return
				}
				if c != nil && c.PostID == v.state.OpenThread {
					v.sched.Invalidate(threadTag(c.PostID))
				}
			})
		return decisionLookup
	}
	return decisionIgnored
}

func (v *View) routeVote(e models.ChangeEvent) string {
	var row models.PollVote
	if err := e.DecodeRow(&row); err != nil || row.PollID == 0 {
		return decisionMalformed
	}
	if e.Operation != models.OpInsert {
		return decisionIgnored
	}
	if !v.foreign(e) {
		return decisionSelf
	}
	if v.state.postByPoll(row.PollID) == nil {
		return decisionIgnored
	}
	v.sched.Invalidate(feedTag)
	return decisionFeedRefetch
}
