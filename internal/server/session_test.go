package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusfeed/internal/feed"
	"campusfeed/internal/models"
	"campusfeed/internal/viewport"
)

type wireFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// nextFrame reads queued frames until one of the wanted type arrives.
func nextFrame(t *testing.T, sess *session, frameType string) wireFrame {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case raw := <-sess.send:
			var f wireFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			if f.Type == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame within %s", frameType, waitFor)
		}
	}
}

func errorCode(t *testing.T, f wireFrame) string {
	t.Helper()
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p.Code
}

type sessionFixture struct {
	srv  *Server
	sess *session
	user *models.User
	view *feed.View
}

// openSession seeds the database, then opens a view for alice once the
// initial load has settled.
func openSession(t *testing.T, seed func(s *Server, alice *models.User)) *sessionFixture {
	t.Helper()
	s := newTestServer(t, false)
	user := createUser(t, s, "alice")
	if seed != nil {
		seed(s, user)
	}

	sess := newSession(user.ID, models.CampusScope(), s.config.ViewportConfig(), 900, true)
	view, err := feed.Open(context.Background(), feed.Config{
		Store:     s.store,
		Source:    s.notifier,
		Viewer:    *user,
		Scope:     models.CampusScope(),
		Options:   s.config.FeedOptions(),
		Callbacks: sess.callbacks(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = view.Close() })
	sess.view = view

	f := &sessionFixture{srv: s, sess: sess, user: user, view: view}
	f.idle(t)
	return f
}

func (f *sessionFixture) send(t *testing.T, a Action) {
	t.Helper()
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	f.sess.handle(context.Background(), raw)
}

func (f *sessionFixture) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.view.Idle(ctx))
}

func TestSessionToggleLike(t *testing.T) {
	var post *models.Post
	f := openSession(t, func(s *Server, alice *models.User) {
		post = createPost(t, s, alice, "hello", nil)
	})

	f.send(t, Action{Action: actionToggleLike, RequestID: "r1", TargetType: models.TargetPost, TargetID: post.ID})
	ack := nextFrame(t, f.sess, frameAck)
	assert.Equal(t, "r1", ack.RequestID)
	assert.JSONEq(t, `{"action":"toggle_like","started":true}`, string(ack.Payload))

	f.idle(t)
	state, err := f.view.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state.Post(post.ID))
	assert.True(t, state.Post(post.ID).Liked)
	assert.Equal(t, 1, state.Post(post.ID).LikeCount)
}

func TestSessionVoteTwiceIsRejected(t *testing.T) {
	var post *models.Post
	f := openSession(t, func(s *Server, alice *models.User) {
		post = createPost(t, s, alice, "poll", &models.Poll{
			Question: "Lunch?",
			Options:  []models.PollOption{{Label: "Pizza", Position: 0}, {Label: "Tacos", Position: 1}},
		})
	})
	require.Len(t, post.Poll.Options, 2)

	f.send(t, Action{Action: actionVote, RequestID: "v1", PostID: post.ID, OptionID: post.Poll.Options[0].ID})
	nextFrame(t, f.sess, frameAck)
	f.idle(t)

	f.send(t, Action{Action: actionVote, RequestID: "v2", PostID: post.ID, OptionID: post.Poll.Options[1].ID})
	rejected := nextFrame(t, f.sess, frameError)
	assert.Equal(t, "v2", rejected.RequestID)
	assert.Equal(t, "ALREADY_VOTED", errorCode(t, rejected))
}

func TestSessionCommentRequiresOpenThread(t *testing.T) {
	var post *models.Post
	f := openSession(t, func(s *Server, alice *models.User) {
		post = createPost(t, s, alice, "hello", nil)
	})

	f.send(t, Action{Action: actionSubmitComment, RequestID: "c1", PostID: post.ID, Text: "first"})
	assert.Equal(t, "THREAD_NOT_LOADED", errorCode(t, nextFrame(t, f.sess, frameError)))
}

func TestSessionSubmitCommentInOpenThread(t *testing.T) {
	var post *models.Post
	f := openSession(t, func(s *Server, alice *models.User) {
		post = createPost(t, s, alice, "hello", nil)
	})

	f.send(t, Action{Action: actionOpenThread, RequestID: "o1", PostID: post.ID})
	nextFrame(t, f.sess, frameAck)
	f.idle(t)

	f.send(t, Action{Action: actionSubmitComment, RequestID: "c1", PostID: post.ID, Text: "  first  "})
	ack := nextFrame(t, f.sess, frameAck)
	var payload struct {
		TempID string `json:"temp_id"`
	}
	require.NoError(t, json.Unmarshal(ack.Payload, &payload))
	assert.NotEmpty(t, payload.TempID)

	f.idle(t)
	state, err := f.view.Snapshot(context.Background())
	require.NoError(t, err)
	thread := state.Threads[post.ID]
	require.NotNil(t, thread)
	require.Len(t, thread.Roots, 1)
	confirmed, ok := thread.Roots[0].Entry.(feed.Confirmed)
	require.True(t, ok, "comment should be confirmed, got %T", thread.Roots[0].Entry)
	assert.Equal(t, "first", confirmed.Comment.Content)
}

func TestSessionRejectsBadMessages(t *testing.T) {
	f := openSession(t, nil)

	f.sess.handle(context.Background(), []byte("{not json"))
	assert.Equal(t, models.CodeValidation, errorCode(t, nextFrame(t, f.sess, frameError)))

	f.send(t, Action{Action: "teleport", RequestID: "x"})
	assert.Equal(t, models.CodeValidation, errorCode(t, nextFrame(t, f.sess, frameError)))

	f.send(t, Action{Action: actionScroll, Offset: -1})
	assert.Equal(t, models.CodeValidation, errorCode(t, nextFrame(t, f.sess, frameError)))
}

func TestSessionScrollAndFlush(t *testing.T) {
	f := openSession(t, func(s *Server, alice *models.User) {
		for i := 0; i < 20; i++ {
			createPost(t, s, alice, fmt.Sprintf("post %d", i), nil)
		}
	})

	f.send(t, Action{Action: actionScroll, Offset: 1000, Height: 300})
	nextFrame(t, f.sess, frameAck)
	select {
	case <-f.sess.dirty:
	default:
		t.Fatal("scroll should mark the session dirty")
	}

	f.sess.flush(context.Background())
	rows := nextFrame(t, f.sess, frameRows)
	var frame viewport.Frame[*models.Post]
	require.NoError(t, json.Unmarshal(rows.Payload, &frame))
	// Rows 10..13 meet the viewport; two rows of overscan on each side.
	assert.Equal(t, viewport.Range{Start: 8, End: 15}, frame.Range)
	assert.Equal(t, 2000, frame.TotalHeight)
	assert.Len(t, frame.Rows, 8)
}

func TestSessionFlushSendsThreadOnce(t *testing.T) {
	var post *models.Post
	f := openSession(t, func(s *Server, alice *models.User) {
		post = createPost(t, s, alice, "hello", nil)
	})

	f.send(t, Action{Action: actionOpenThread, PostID: post.ID})
	nextFrame(t, f.sess, frameAck)
	f.idle(t)

	f.sess.flush(context.Background())
	thread := nextFrame(t, f.sess, frameThread)
	var payload struct {
		PostID uint `json:"post_id"`
		Thread struct {
			Loaded bool `json:"loaded"`
		} `json:"thread"`
	}
	require.NoError(t, json.Unmarshal(thread.Payload, &payload))
	assert.Equal(t, post.ID, payload.PostID)
	assert.True(t, payload.Thread.Loaded)
	assert.False(t, f.sess.threadDirty.Load())
}

func TestSessionDropsFramesWhenBufferIsFull(t *testing.T) {
	sess := newSession(1, models.CampusScope(), viewport.Config{RowHeight: 10}, 100, false)
	for i := 0; i < sendBuffer; i++ {
		sess.trySend(Frame{Type: frameNotice})
	}
	sess.trySend(Frame{Type: frameNotice})
	assert.Len(t, sess.send, sendBuffer)
	select {
	case <-sess.dirty:
	default:
		t.Fatal("a dropped frame should schedule a resync")
	}

	close(sess.done)
	for len(sess.send) > 0 {
		<-sess.send
	}
	sess.trySend(Frame{Type: frameNotice})
	assert.Empty(t, sess.send)
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{feed.ErrAlreadyVoted, "ALREADY_VOTED"},
		{fmt.Errorf("wrapped: %w", feed.ErrReplyToPending), "REPLY_TO_PENDING"},
		{feed.ErrThreadNotLoaded, "THREAD_NOT_LOADED"},
		{feed.ErrViewClosed, "VIEW_CLOSED"},
		{models.NewNotFoundError("Post", 3), models.CodeNotFound},
		{errors.New("boom"), models.CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorPayload(tt.err).Code, tt.err.Error())
	}
}

func TestSessionCommentRateLimit(t *testing.T) {
	var post *models.Post
	f := openSession(t, func(s *Server, alice *models.User) {
		post = createPost(t, s, alice, "hello", nil)
	})
	f.sess.allow = func(context.Context, string) bool { return false }

	f.send(t, Action{Action: actionSubmitComment, RequestID: "c1", PostID: post.ID, Text: "spam"})
	assert.Equal(t, codeRateLimited, errorCode(t, nextFrame(t, f.sess, frameError)))
}
