// Package feed keeps a local view of a scoped social feed consistent with the
// user's optimistic writes and with change notifications from other clients.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
	"campusfeed/internal/viewport"
)

// Config describes the view to open.
type Config struct {
	Store     Store
	Source    Source
	Viewer    models.User
	Scope     models.Scope
	Options   Options
	Callbacks Callbacks
}

// View owns the state of one scoped feed. All state lives on a single loop
// goroutine; public methods post a step to it and wait only for that step.
type View struct {
	store  Store
	source Source
	viewer models.User
	opts   Options
	cb     Callbacks
	log    *observability.ViewLogger

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan func()
	loopDone  chan struct{}
	closeOnce sync.Once
	current   atomic.Value

	subs         []io.Closer
	connectTimer *time.Timer

	// Owned by the loop.
	state  State
	sched  *scheduler
	status *statusTracker
	// counted maps each comment id reflected in a CommentCount to its post.
	counted map[uint]uint
	// exact holds posts whose counted ids came from an authoritative read.
	exact       map[uint]struct{}
	acked       map[uuid.UUID]*models.Comment
	voting      map[uint]struct{}
	pendingOps  int
	idleWaiters []chan struct{}
}

// Open starts a view, subscribes to every watched relation and schedules the
// first feed load. The caller must Close the view.
func Open(ctx context.Context, cfg Config) (*View, error) {
	if cfg.Store == nil || cfg.Source == nil {
		return nil, models.NewValidationError("feed view requires a store and a change source")
	}
	if cfg.Viewer.ID == 0 {
		return nil, models.NewUnauthorizedError("feed view requires a signed-in viewer")
	}

	vctx, cancel := context.WithCancel(ctx)
	v := &View{
		store:    cfg.Store,
		source:   cfg.Source,
		viewer:   cfg.Viewer,
		opts:     cfg.Options.withDefaults(),
		cb:       cfg.Callbacks,
		log:      observability.NewViewLogger(cfg.Viewer.ID, cfg.Scope.String()),
		ctx:      vctx,
		cancel:   cancel,
		events:   make(chan func()),
		loopDone: make(chan struct{}),
		state:    newState(cfg.Scope),
		status:   newStatusTracker(models.WatchedRelations),
		counted:  map[uint]uint{},
		exact:    map[uint]struct{}{},
		acked:    map[uuid.UUID]*models.Comment{},
		voting:   map[uint]struct{}{},
	}
	v.current.Store(StatusConnecting)
	v.sched = newScheduler(v.opts.Debounce, v.post, v.runRefetch)
	// Subscriptions may acknowledge before Subscribe returns, so the timer
	// must exist before the loop can handle an ack.
	v.connectTimer = time.AfterFunc(v.opts.ConnectTimeout, func() {
		v.post(v.onConnectTimeout)
	})
	go v.loop()

	observability.ActiveViews.Inc()
	v.log.LogLifecycle(vctx, "open", nil)

	for _, rel := range models.WatchedRelations {
		sub, err := v.source.Subscribe(vctx, rel,
			func(e models.ChangeEvent) { v.post(func() { v.route(e) }) },
			func(err error) { v.post(func() { v.onSubscriptionStatus(rel, err) }) },
		)
		if err != nil {
			v.post(func() { v.onSubscriptionStatus(rel, models.NewSubscriptionError(rel, err)) })
			continue
		}
		v.subs = append(v.subs, sub)
	}
	v.post(func() { v.sched.Now(feedTag) })

	return v, nil
}

// WithView opens a view, runs fn and closes the view on every exit path.
func WithView(ctx context.Context, cfg Config, fn func(*View) error) error {
	v, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

// Close releases subscriptions and timers. It is safe to call more than once.
func (v *View) Close() error {
	v.closeOnce.Do(func() {
		v.cancel()
		<-v.loopDone

		// The loop has exited; nothing else touches loop-owned state now.
		v.connectTimer.Stop()
		v.sched.Stop()
		for _, s := range v.subs {
			_ = s.Close()
		}
		if v.status.Fail() {
			v.publishStatus()
		}
		for _, w := range v.idleWaiters {
			close(w)
		}
		v.idleWaiters = nil
		observability.ActiveViews.Dec()
		v.log.LogLifecycle(context.Background(), "close", nil)
	})
	return nil
}

// Status returns the current subscription status.
func (v *View) Status() Status {
	return v.current.Load().(Status)
}

// Viewer returns the signed-in user the view acts for.
func (v *View) Viewer() models.User {
	return v.viewer
}

// Snapshot returns a deep copy of the view state.
func (v *View) Snapshot(ctx context.Context) (State, error) {
	var out State
	err := v.do(ctx, func() { out = v.state.clone() })
	return out, err
}

// Rows returns the posts to render at scrollOffset.
func (v *View) Rows(ctx context.Context, vz *viewport.Virtualizer[*models.Post], scrollOffset int) (viewport.Frame[*models.Post], error) {
	var frame viewport.Frame[*models.Post]
	err := v.do(ctx, func() {
		frame = vz.Visible(v.state.Posts, scrollOffset)
		for i := range frame.Rows {
			frame.Rows[i].Item = frame.Rows[i].Item.Clone()
		}
	})
	return frame, err
}

// Idle blocks until no store call is outstanding and no refetch is pending.
func (v *View) Idle(ctx context.Context) error {
	ch := make(chan struct{})
	if err := v.do(ctx, func() {
		if v.idle() {
			close(ch)
			return
		}
		v.idleWaiters = append(v.idleWaiters, ch)
	}); err != nil {
		return err
	}
	select {
	case <-ch:
		if v.ctx.Err() != nil {
			return ErrViewClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenThread makes postID the open thread and loads its comment tree. Any other
// open thread is closed.
func (v *View) OpenThread(ctx context.Context, postID uint) error {
	if postID == 0 {
		return models.NewValidationError("post id is required")
	}
	return v.do(ctx, func() {
		if v.state.OpenThread == postID {
			return
		}
		v.closeThread()
		v.state.OpenThread = postID
		v.state.Threads[postID] = &Thread{PostID: postID}
		v.log.LogLifecycle(v.ctx, "thread_open", map[string]interface{}{"post_id": postID})
		v.sched.Now(threadTag(postID))
	})
}

// CloseThread discards the open thread, if any.
func (v *View) CloseThread(ctx context.Context) error {
	return v.do(ctx, v.closeThread)
}

func (v *View) closeThread() {
	id := v.state.OpenThread
	if id == 0 {
		return
	}
	v.sched.Cancel(threadTag(id))
	for temp, c := range v.acked {
		if c.PostID == id {
			delete(v.acked, temp)
		}
	}
	delete(v.state.Threads, id)
	v.state.OpenThread = 0
	v.emit(Update{Thread: id})
}

// post queues fn on the loop. It reports false once the view is closed.
func (v *View) post(fn func()) bool {
	select {
	case v.events <- fn:
		return true
	case <-v.ctx.Done():
		return false
	}
}

// do runs fn on the loop and waits for it.
func (v *View) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	step := func() {
		defer close(done)
		fn()
	}
	select {
	case v.events <- step:
	case <-v.ctx.Done():
		return ErrViewClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-v.loopDone:
		return ErrViewClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *View) loop() {
	defer close(v.loopDone)
	for {
		select {
		case fn := <-v.events:
			v.step(fn)
		case <-v.ctx.Done():
			return
		}
	}
}

func (v *View) step(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			v.log.LogPanic(v.ctx, r)
		}
		v.releaseIdleWaiters()
	}()
	fn()
}

func (v *View) idle() bool {
	return v.pendingOps == 0 && !v.sched.Busy()
}

func (v *View) releaseIdleWaiters() {
	if len(v.idleWaiters) == 0 || !v.idle() {
		return
	}
	for _, w := range v.idleWaiters {
		close(w)
	}
	v.idleWaiters = nil
}

// callContext bounds a store call by the view's lifetime and the mutation timeout.
func (v *View) callContext() (context.Context, context.CancelFunc) {
	if v.opts.MutationTimeout > 0 {
		return context.WithTimeout(v.ctx, v.opts.MutationTimeout)
	}
	return context.WithCancel(v.ctx)
}

// runAsync performs call off the loop and applies its result on the loop. A
// panicking call is reported to apply as an error.
func runAsync[T any](v *View, op string, call func(ctx context.Context) (T, error), apply func(T, error)) {
	v.pendingOps++
	go func() {
		var (
			result T
			err    error
		)
		func() {
			ctx, cancel := v.callContext()
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					v.log.LogPanic(ctx, r)
					err = models.NewInternalError(fmt.Errorf("%s panicked: %v", op, r))
				}
			}()
			result, err = call(ctx)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%s timed out after %s: %w", op, v.opts.MutationTimeout, err)
			}
		}()
		v.post(func() {
			v.pendingOps--
			apply(result, err)
		})
	}()
}

func (v *View) emit(u Update) {
	if v.cb.OnUpdate != nil {
		v.cb.OnUpdate(u)
	}
}

func (v *View) notice(code, message string) {
	if v.cb.OnNotice != nil {
		v.cb.OnNotice(Notice{Code: code, Message: message})
	}
}

// publishStatus exposes the tracker's status after a transition.
func (v *View) publishStatus() {
	s := v.status.Status()
	v.current.Store(s)
	observability.StatusTransitions.WithLabelValues(string(s)).Inc()
	v.log.LogLifecycle(v.ctx, "status", map[string]interface{}{"status": string(s)})
	if v.cb.OnStatus != nil {
		v.cb.OnStatus(s)
	}
}

func (v *View) onSubscriptionStatus(rel models.Relation, err error) {
	if err != nil {
		v.log.LogFailure(v.ctx, "subscribe:"+string(rel), err)
		if v.status.Fail() {
			v.publishStatus()
			v.notice(models.CodeSubscriptionFailure, "live updates are unavailable")
		}
		return
	}
	if v.status.Ack(rel) {
		v.connectTimer.Stop()
		v.publishStatus()
	}
}

func (v *View) onConnectTimeout() {
	if v.status.Timeout() {
		v.log.LogFailure(v.ctx, "connect", errors.New("subscriptions not acknowledged in time"))
		v.publishStatus()
	}
}

// runRefetch is the scheduler's executor; it always ends with sched.Done on the loop.
func (v *View) runRefetch(tag string) {
	if tag == feedTag {
		scope, viewer, limit := v.state.Scope, v.viewer.ID, v.opts.PageSize
		runAsync(v, "refetch:feed",
			func(ctx context.Context) ([]*models.Post, error) {
				ctx, span := observability.StartFeedSpan(ctx, "refetch",
					attribute.String("feed.tag", tag), attribute.String("feed.scope", scope.String()))
				posts, err := v.store.ListPosts(ctx, scope, viewer, limit)
				observability.EndSpan(span, err)
				return posts, err
			},
			func(posts []*models.Post, err error) {
				defer v.sched.Done(tag)
				v.applyFeed(posts, err)
			})
		return
	}

	postID, ok := parseThreadTag(tag)
	if !ok {
		v.sched.Done(tag)
		return
	}
	v.state.Fetching[postID] = struct{}{}
	viewer := v.viewer.ID
	runAsync(v, "refetch:thread",
		func(ctx context.Context) ([]*models.Comment, error) {
			ctx, span := observability.StartFeedSpan(ctx, "refetch",
				attribute.String("feed.tag", tag), attribute.Int64("feed.post_id", int64(postID)))
			comments, err := v.store.ListComments(ctx, postID, viewer)
			observability.EndSpan(span, err)
			return comments, err
		},
		func(comments []*models.Comment, err error) {
			defer v.sched.Done(tag)
			delete(v.state.Fetching, postID)
			v.applyThread(postID, comments, err)
		})
}

func parseThreadTag(tag string) (uint, bool) {
	raw, ok := strings.CutPrefix(tag, "thread:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// applyFeed replaces the post list with an authoritative read. A failed read
// keeps the last good list.
func (v *View) applyFeed(posts []*models.Post, err error) {
	observability.RefetchesTotal.WithLabelValues("feed", observability.ResultLabel(err)).Inc()
	if err != nil {
		v.log.LogFailure(v.ctx, "refetch:feed", err)
		return
	}
	next := make([]*models.Post, 0, len(posts))
	for _, p := range posts {
		next = append(next, p.Clone())
	}
	v.reseedCounted(next)
	v.state.Posts = next
	v.emit(Update{Feed: true})
}

// applyThread rebuilds the comment tree from an authoritative read and merges
// back outstanding optimistic entries. Acknowledged entries are resolved either
// way: dropped when the read contains them, otherwise replaced by the stored record.
func (v *View) applyThread(postID uint, comments []*models.Comment, err error) {
	observability.RefetchesTotal.WithLabelValues("thread", observability.ResultLabel(err)).Inc()
	thread, ok := v.state.Threads[postID]
	if !ok {
		return
	}
	if err != nil {
		v.log.LogFailure(v.ctx, "refetch:"+threadTag(postID), err)
		if v.resolveAcked(thread) {
			v.emit(Update{Thread: postID})
		}
		return
	}

	rebuilt := buildThread(postID, comments)
	fetched := make(map[uint]struct{}, len(comments))
	for _, c := range comments {
		fetched[c.ID] = struct{}{}
	}
	for _, root := range thread.Roots {
		v.carryOver(rebuilt, root, fetched)
		for _, r := range root.Replies {
			v.carryOver(rebuilt, r, fetched)
		}
	}
	rebuilt.Loaded = true
	v.state.Threads[postID] = rebuilt
	v.emit(Update{Thread: postID})
}

// carryOver re-attaches a pending node from the previous tree to the rebuilt one.
func (v *View) carryOver(into *Thread, n *Node, fetched map[uint]struct{}) {
	p, ok := n.Entry.(Pending)
	if !ok {
		return
	}
	entry := Entry(p)
	if p.Acked != 0 {
		record := v.acked[p.TempID]
		delete(v.acked, p.TempID)
		if _, present := fetched[p.Acked]; present || record == nil {
			return
		}
		entry = Confirmed{Comment: *record}
	}
	attach(into, &Node{Entry: entry}, p.ParentID)
}

// resolveAcked swaps every acknowledged pending entry for its stored record.
func (v *View) resolveAcked(t *Thread) bool {
	changed := false
	swap := func(n *Node) {
		p, ok := n.Entry.(Pending)
		if !ok || p.Acked == 0 {
			return
		}
		if record := v.acked[p.TempID]; record != nil {
			n.Entry = Confirmed{Comment: *record}
			changed = true
		}
		delete(v.acked, p.TempID)
	}
	for _, root := range t.Roots {
		swap(root)
		for _, r := range root.Replies {
			swap(r)
		}
	}
	return changed
}

// attach appends n under parentID, or at the top level when parentID is nil.
// A node whose parent is gone is dropped.
func attach(t *Thread, n *Node, parentID *uint) bool {
	if parentID == nil {
		t.Roots = append(t.Roots, n)
		return true
	}
	for _, root := range t.Roots {
		if root.Entry.ServerID() == *parentID {
			root.Replies = append(root.Replies, n)
			return true
		}
	}
	return false
}

func buildThread(postID uint, comments []*models.Comment) *Thread {
	t := &Thread{PostID: postID}
	var replies []*models.Comment
	for _, c := range comments {
		if c.ParentID == nil {
			t.Roots = append(t.Roots, &Node{Entry: Confirmed{Comment: *c}})
			continue
		}
		replies = append(replies, c)
	}
	for _, c := range replies {
		attach(t, &Node{Entry: Confirmed{Comment: *c}}, c.ParentID)
	}
	return t
}
