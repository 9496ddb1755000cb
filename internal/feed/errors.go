package feed

import "errors"

var (
	// ErrAlreadyVoted is returned when the view already records a choice for the poll.
	ErrAlreadyVoted = errors.New("feed: poll already voted")
	// ErrReplyToPending is returned when replying to a comment that is not yet confirmed.
	ErrReplyToPending = errors.New("feed: cannot reply to a pending comment")
	// ErrViewClosed is returned by every method once the view is closed.
	ErrViewClosed = errors.New("feed: view closed")
	// ErrThreadNotLoaded is returned when submitting into a thread that is not open.
	ErrThreadNotLoaded = errors.New("feed: thread not loaded")
)
