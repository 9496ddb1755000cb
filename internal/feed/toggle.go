package feed

import (
	"context"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

const (
	actionLike   = "like"
	actionUnlike = "unlike"
)

// ToggleLike flips the viewer's like on target. It reports false when a toggle
// for the same target is still outstanding; that request is dropped. The
// store is asked for the current edge before deciding which way to go.
func (v *View) ToggleLike(ctx context.Context, target models.Target) (bool, error) {
	if !target.Valid() {
		return false, models.NewValidationError("invalid like target")
	}
	var (
		started bool
		result  error
	)
	err := v.do(ctx, func() {
		if _, busy := v.state.InFlight[target]; busy {
			return
		}
		if !v.likeable(target) {
			result = models.NewNotFoundError(string(target.Type), target.ID)
			return
		}
		v.state.InFlight[target] = struct{}{}
		started = true
		userID := v.viewer.ID
		runAsync(v, "toggle:"+string(target.Type),
			func(ctx context.Context) (string, error) {
				liked, err := v.store.HasLiked(ctx, userID, target)
				if err != nil {
					return "", err
				}
				if liked {
					return actionUnlike, v.store.Unlike(ctx, userID, target)
				}
				return actionLike, v.store.Like(ctx, userID, target)
			},
			func(action string, err error) {
				v.settleToggle(target, action, err)
			})
	})
	if err != nil {
		return false, err
	}
	return started, result
}

func (v *View) likeable(t models.Target) bool {
	switch t.Type {
	case models.TargetPost:
		return v.state.Post(t.ID) != nil
	case models.TargetComment:
		th := v.state.Threads[v.state.OpenThread]
		if th == nil {
			return false
		}
		n := th.Find(t.ID)
		if n == nil {
			return false
		}
		_, confirmed := n.Entry.(Confirmed)
		return confirmed
	}
	return false
}

func (v *View) settleToggle(target models.Target, action string, err error) {
	delete(v.state.InFlight, target)
	if action == "" {
		action = "unknown"
	}
	observability.TogglesTotal.WithLabelValues(string(target.Type), action, observability.ResultLabel(err)).Inc()
	if err != nil {
		v.log.LogFailure(v.ctx, "toggle:"+target.String(), err)
		v.notice(models.CodeStoreWriteFailure, "Your like could not be saved.")
		return
	}
	liked := action == actionLike

	switch target.Type {
	case models.TargetPost:
		p := v.state.Post(target.ID)
		if p == nil {
			return
		}
		p.LikeCount = adjustLikes(p.Liked, liked, p.LikeCount)
		p.Liked = liked
		v.emit(Update{PostIDs: []uint{p.ID}})
	case models.TargetComment:
		th := v.state.Threads[v.state.OpenThread]
		if th == nil {
			return
		}
		n := th.Find(target.ID)
		if n == nil {
			return
		}
		c, ok := n.Entry.(Confirmed)
		if !ok {
			return
		}
		c.Comment.LikeCount = adjustLikes(c.Comment.Liked, liked, c.Comment.LikeCount)
		c.Comment.Liked = liked
		n.Entry = c
		v.emit(Update{Thread: th.PostID})
	}
}

// adjustLikes moves count by one only when the liked flag actually flips.
func adjustLikes(was, now bool, count int) int {
	switch {
	case now && !was:
		return count + 1
	case was && !now && count > 0:
		return count - 1
	}
	return count
}

type voteResult struct {
	vote    *models.PollVote
	adopted bool
}

// Vote casts the viewer's vote on the poll of postID. Votes are final: a poll
// the view already shows as voted returns ErrAlreadyVoted without a store call,
// and a vote already on record in the store is adopted without counting it.
func (v *View) Vote(ctx context.Context, postID, optionID uint) error {
	var result error
	err := v.do(ctx, func() {
		p := v.state.Post(postID)
		if p == nil {
			result = models.NewNotFoundError("Post", postID)
			return
		}
		if p.Poll == nil {
			result = models.NewValidationError("post has no poll")
			return
		}
		if p.Poll.Option(optionID) == nil {
			result = models.NewNotFoundError("Poll option", optionID)
			return
		}
		if p.Poll.UserChoice != nil {
			result = ErrAlreadyVoted
			return
		}
		pollID := p.Poll.ID
		if _, busy := v.voting[pollID]; busy {
			return
		}
		v.voting[pollID] = struct{}{}
		userID := v.viewer.ID
		runAsync(v, "vote:poll",
			func(ctx context.Context) (voteResult, error) {
				prior, err := v.store.FindVote(ctx, pollID, userID)
				if err != nil {
					return voteResult{}, err
				}
				if prior != nil {
					return voteResult{vote: prior, adopted: true}, nil
				}
				cast, err := v.store.CastVote(ctx, pollID, optionID, userID)
				return voteResult{vote: cast}, err
			},
			func(r voteResult, err error) {
				v.settleVote(pollID, r, err)
			})
	})
	if err != nil {
		return err
	}
	return result
}

func (v *View) settleVote(pollID uint, r voteResult, err error) {
	delete(v.voting, pollID)
	if err != nil {
		v.log.LogFailure(v.ctx, "vote:poll", err)
		v.notice(models.CodeStoreWriteFailure, "Your vote could not be saved.")
		return
	}
	p := v.state.postByPoll(pollID)
	if p == nil || r.vote == nil || p.Poll.UserChoice != nil {
		return
	}
	choice := r.vote.OptionID
	if !r.adopted {
		if opt := p.Poll.Option(choice); opt != nil {
			opt.VoteCount++
			p.Poll.TotalVotes++
		}
	}
	p.Poll.UserChoice = &choice
	v.emit(Update{PostIDs: []uint{p.ID}})
}
