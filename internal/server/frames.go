package server

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"campusfeed/internal/feed"
	"campusfeed/internal/models"
	"campusfeed/internal/viewport"
)

// Frame types sent to feed clients.
const (
	frameSnapshot = "snapshot"
	frameRows     = "rows"
	frameThread   = "thread"
	frameStatus   = "status"
	frameNotice   = "notice"
	frameAck      = "ack"
	frameError    = "error"
)

// Actions accepted from feed clients.
const (
	actionToggleLike    = "toggle_like"
	actionVote          = "vote"
	actionSetDraft      = "set_draft"
	actionSubmitComment = "submit_comment"
	actionOpenThread    = "open_thread"
	actionCloseThread   = "close_thread"
	actionScroll        = "scroll"
)

// Frame is the envelope of every server-to-client message.
type Frame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Action is a client request.
type Action struct {
	Action      string            `json:"action"`
	RequestID   string            `json:"request_id,omitempty"`
	PostID      uint              `json:"post_id,omitempty"`
	ParentID    *uint             `json:"parent_id,omitempty"`
	ParentTemp  *uuid.UUID        `json:"parent_temp_id,omitempty"`
	TargetType  models.TargetType `json:"target_type,omitempty"`
	TargetID    uint              `json:"target_id,omitempty"`
	OptionID    uint              `json:"option_id,omitempty"`
	Text        string            `json:"text,omitempty"`
	IsAnonymous bool              `json:"is_anonymous,omitempty"`
	Offset      int               `json:"offset,omitempty"`
	Height      int               `json:"height,omitempty"`
}

// SnapshotPayload is the first frame of a connection.
type SnapshotPayload struct {
	Viewer      models.User                  `json:"viewer"`
	Scope       string                       `json:"scope"`
	Status      feed.Status                  `json:"status"`
	Virtualized bool                         `json:"virtualized"`
	Rows        viewport.Frame[*models.Post] `json:"rows"`
}

// ThreadPayload carries the open comment tree, or none after it closed.
type ThreadPayload struct {
	PostID uint         `json:"post_id"`
	Thread *feed.Thread `json:"thread,omitempty"`
}

// ErrorPayload reports a rejected action.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeFrame(f Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		b, _ = json.Marshal(Frame{Type: frameError, RequestID: f.RequestID,
			Payload: ErrorPayload{Code: models.CodeInternal, Message: "could not encode frame"}})
	}
	return b
}

const codeRateLimited = "RATE_LIMITED"

// errorPayload maps engine and store errors to wire codes.
func errorPayload(err error) ErrorPayload {
	switch {
	case errors.Is(err, feed.ErrAlreadyVoted):
		return ErrorPayload{Code: "ALREADY_VOTED", Message: "You have already voted in this poll."}
	case errors.Is(err, feed.ErrReplyToPending):
		return ErrorPayload{Code: "REPLY_TO_PENDING", Message: "Wait for the comment to post before replying."}
	case errors.Is(err, feed.ErrThreadNotLoaded):
		return ErrorPayload{Code: "THREAD_NOT_LOADED", Message: "Open the thread before commenting."}
	case errors.Is(err, errRateLimited):
		return ErrorPayload{Code: codeRateLimited, Message: "You are commenting too fast. Try again in a minute."}
	case errors.Is(err, feed.ErrViewClosed):
		return ErrorPayload{Code: "VIEW_CLOSED", Message: "The feed is closed."}
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return ErrorPayload{Code: appErr.Code, Message: appErr.Message}
	}
	return ErrorPayload{Code: models.CodeInternal, Message: "Internal server error"}
}
