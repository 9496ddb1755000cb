package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	"campusfeed/internal/feed"
	"campusfeed/internal/models"
	"campusfeed/internal/observability"
	"campusfeed/internal/viewport"
)

const sendBuffer = 256

// session adapts one feed view to a stream of frames. View callbacks only
// signal; rows are rendered by the writer so the view loop never waits on I/O.
type session struct {
	userID uint
	scope  models.Scope
	view   *feed.View

	vzMu        sync.Mutex
	vz          *viewport.Virtualizer[*models.Post]
	virtualized bool
	offset      atomic.Int64

	send        chan []byte
	dirty       chan struct{}
	threadDirty atomic.Bool
	done        chan struct{}
	log         *observability.WSLogger

	// allow gates rate-limited actions; nil allows everything.
	allow func(ctx context.Context, resource string) bool
}

func newSession(userID uint, scope models.Scope, cfg viewport.Config, height int, virtualized bool) *session {
	if !virtualized {
		cfg = cfg.Disabled()
	}
	return &session{
		userID:      userID,
		scope:       scope,
		vz:          viewport.New[*models.Post](cfg, height),
		virtualized: virtualized,
		send:        make(chan []byte, sendBuffer),
		dirty:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		log:         observability.NewWSLogger("feed"),
	}
}

// callbacks run on the view loop and must not block.
func (s *session) callbacks() feed.Callbacks {
	return feed.Callbacks{
		OnUpdate: func(u feed.Update) {
			if u.Thread != 0 {
				s.threadDirty.Store(true)
			}
			s.markDirty()
		},
		OnNotice: func(n feed.Notice) {
			s.trySend(Frame{Type: frameNotice, Payload: n})
		},
		OnStatus: func(st feed.Status) {
			s.trySend(Frame{Type: frameStatus, Payload: fiber.Map{"status": st}})
		},
	}
}

func (s *session) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// trySend queues a frame, dropping it when the client is not keeping up. A
// dropped rows frame is recovered by the next one; the client is told so it
// can resync.
func (s *session) trySend(f Frame) {
	msg := encodeFrame(f)
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- msg:
		observability.WebSocketEventsTotal.WithLabelValues(f.Type).Inc()
	default:
		observability.WebSocketEventsTotal.WithLabelValues("dropped").Inc()
		s.log.LogError(context.Background(), s.userID, s.scope.String(), errBufferFull, f.Type)
		s.markDirty()
	}
}

func (s *session) rows(ctx context.Context) (viewport.Frame[*models.Post], error) {
	s.vzMu.Lock()
	defer s.vzMu.Unlock()
	return s.view.Rows(ctx, s.vz, int(s.offset.Load()))
}

// snapshot sends the first frame of the connection.
func (s *session) snapshot(ctx context.Context, viewer models.User) {
	frame, err := s.rows(ctx)
	if err != nil {
		s.trySend(Frame{Type: frameError, Payload: errorPayload(err)})
		return
	}
	s.trySend(Frame{Type: frameSnapshot, Payload: SnapshotPayload{
		Viewer:      viewer,
		Scope:       s.scope.String(),
		Status:      s.view.Status(),
		Virtualized: s.virtualized,
		Rows:        frame,
	}})
}

// flush renders whatever changed since the last flush.
func (s *session) flush(ctx context.Context) {
	frame, err := s.rows(ctx)
	if err != nil {
		return
	}
	s.trySend(Frame{Type: frameRows, Payload: frame})

	if !s.threadDirty.Swap(false) {
		return
	}
	state, err := s.view.Snapshot(ctx)
	if err != nil {
		return
	}
	s.trySend(Frame{Type: frameThread, Payload: ThreadPayload{
		PostID: state.OpenThread,
		Thread: state.Threads[state.OpenThread],
	}})
}

// handle applies one client message and answers with an ack or an error frame.
func (s *session) handle(ctx context.Context, raw []byte) {
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		s.trySend(Frame{Type: frameError, Payload: errorPayload(models.NewValidationError("invalid message format"))})
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues("action_" + a.Action).Inc()

	result, err := s.dispatch(ctx, a)
	if err != nil {
		s.trySend(Frame{Type: frameError, RequestID: a.RequestID, Payload: errorPayload(err)})
		return
	}
	payload := fiber.Map{"action": a.Action}
	for k, v := range result {
		payload[k] = v
	}
	s.trySend(Frame{Type: frameAck, RequestID: a.RequestID, Payload: payload})
}

func (s *session) dispatch(ctx context.Context, a Action) (fiber.Map, error) {
	switch a.Action {
	case actionToggleLike:
		started, err := s.view.ToggleLike(ctx, models.Target{Type: a.TargetType, ID: a.TargetID})
		return fiber.Map{"started": started}, err

	case actionVote:
		return nil, s.view.Vote(ctx, a.PostID, a.OptionID)

	case actionSetDraft:
		return nil, s.view.SetDraft(ctx, a.PostID, a.ParentID, a.Text)

	case actionSubmitComment:
		if s.allow != nil && !s.allow(ctx, commentResource) {
			return nil, errRateLimited
		}
		if a.Text != "" {
			if err := s.view.SetDraft(ctx, a.PostID, a.ParentID, a.Text); err != nil {
				return nil, err
			}
		}
		tempID, err := s.view.SubmitComment(ctx, feed.Compose{
			PostID:      a.PostID,
			ParentID:    a.ParentID,
			ParentTemp:  a.ParentTemp,
			IsAnonymous: a.IsAnonymous,
		})
		if err != nil {
			return nil, err
		}
		return fiber.Map{"temp_id": tempID}, nil

	case actionOpenThread:
		s.threadDirty.Store(true)
		return nil, s.view.OpenThread(ctx, a.PostID)

	case actionCloseThread:
		s.threadDirty.Store(true)
		return nil, s.view.CloseThread(ctx)

	case actionScroll:
		if a.Offset < 0 {
			return nil, models.NewValidationError("offset must not be negative")
		}
		if a.Height > 0 {
			s.vzMu.Lock()
			s.vz.Resize(a.Height)
			s.vzMu.Unlock()
		}
		s.offset.Store(int64(a.Offset))
		s.markDirty()
		return nil, nil
	}
	return nil, models.NewValidationError("unknown action " + a.Action)
}
