package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"campusfeed/internal/models"
)

const (
	testDebounce = 50 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

var errStoreDown = errors.New("store unavailable")

var (
	viewer   = models.User{ID: 1, Username: "alice", DisplayName: "Alice"}
	neighbor = models.User{ID: 2, Username: "bob"}
)

// fakeStore is an in-memory Store with call counters, failure injection and
// gates that hold a call until released.
type fakeStore struct {
	mu       sync.Mutex
	posts    []*models.Post
	comments map[uint][]*models.Comment
	likes    map[likeKey]int
	votes    map[uint]map[uint]uint
	nextID   uint
	calls    map[string]int
	fail     map[string]error
	gates    map[string]chan struct{}
}

type likeKey struct {
	user   uint
	target models.Target
}

func newFakeStore(posts ...*models.Post) *fakeStore {
	return &fakeStore{
		posts:    posts,
		comments: map[uint][]*models.Comment{},
		likes:    map[likeKey]int{},
		votes:    map[uint]map[uint]uint{},
		nextID:   1000,
		calls:    map[string]int{},
		fail:     map[string]error{},
		gates:    map[string]chan struct{}{},
	}
}

// enter records a call and blocks on its gate, if any.
func (s *fakeStore) enter(ctx context.Context, name string) error {
	s.mu.Lock()
	s.calls[name]++
	gate := s.gates[name]
	err := s.fail[name]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeStore) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *fakeStore) Fail(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, name)
		return
	}
	s.fail[name] = err
}

// Hold gates name until the returned release func is called.
func (s *fakeStore) Hold(name string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[name] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, name)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *fakeStore) edges(userID uint, t models.Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes[likeKey{userID, t}]
}

func (s *fakeStore) addComment(c *models.Comment) *models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	c.CreatedAt = time.Now()
	s.comments[c.PostID] = append(s.comments[c.PostID], c)
	return c
}

func (s *fakeStore) ListPosts(ctx context.Context, scope models.Scope, _ uint, limit int) ([]*models.Post, error) {
	if err := s.enter(ctx, "ListPosts"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Post
	for _, p := range s.posts {
		if scope.Matches(p.CourseID, p.ClubID) && len(out) < limit {
			cp := p.Clone()
			cp.CommentIDs = []uint{}
			for _, c := range s.comments[p.ID] {
				cp.CommentIDs = append(cp.CommentIDs, c.ID)
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListComments(ctx context.Context, postID, _ uint) ([]*models.Comment, error) {
	if err := s.enter(ctx, "ListComments"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Comment
	for _, c := range s.comments[postID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) GetComment(ctx context.Context, id uint) (*models.Comment, error) {
	if err := s.enter(ctx, "GetComment"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.comments {
		for _, c := range list {
			if c.ID == id {
				cp := *c
				return &cp, nil
			}
		}
	}
	return nil, models.NewNotFoundError("Comment", id)
}

func (s *fakeStore) CreateComment(ctx context.Context, c *models.Comment) error {
	if err := s.enter(ctx, "CreateComment"); err != nil {
		return err
	}
	stored := *c
	stored.User = models.User{ID: c.UserID}
	s.addComment(&stored)
	*c = stored
	return nil
}

func (s *fakeStore) HasLiked(ctx context.Context, userID uint, t models.Target) (bool, error) {
	if err := s.enter(ctx, "HasLiked"); err != nil {
		return false, err
	}
	return s.edges(userID, t) > 0, nil
}

func (s *fakeStore) Like(ctx context.Context, userID uint, t models.Target) error {
	if err := s.enter(ctx, "Like"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likes[likeKey{userID, t}]++
	return nil
}

func (s *fakeStore) Unlike(ctx context.Context, userID uint, t models.Target) error {
	if err := s.enter(ctx, "Unlike"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.likes, likeKey{userID, t})
	return nil
}

func (s *fakeStore) FindVote(ctx context.Context, pollID, userID uint) (*models.PollVote, error) {
	if err := s.enter(ctx, "FindVote"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if opt, ok := s.votes[pollID][userID]; ok {
		return &models.PollVote{PollID: pollID, OptionID: opt, UserID: userID}, nil
	}
	return nil, nil
}

func (s *fakeStore) CastVote(ctx context.Context, pollID, optionID, userID uint) (*models.PollVote, error) {
	if err := s.enter(ctx, "CastVote"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.votes[pollID] == nil {
		s.votes[pollID] = map[uint]uint{}
	}
	s.votes[pollID][userID] = optionID
	return &models.PollVote{PollID: pollID, OptionID: optionID, UserID: userID}, nil
}

// fakeSource hands the test the callbacks of every subscription.
type fakeSource struct {
	mu       sync.Mutex
	events   map[models.Relation]func(models.ChangeEvent)
	statuses map[models.Relation]func(error)
	closed   int
	failSub  error
	// ackOnSubscribe acknowledges each subscription before Subscribe returns.
	ackOnSubscribe bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events:   map[models.Relation]func(models.ChangeEvent){},
		statuses: map[models.Relation]func(error){},
	}
}

func (s *fakeSource) Subscribe(_ context.Context, rel models.Relation, onEvent func(models.ChangeEvent), onStatus func(error)) (io.Closer, error) {
	s.mu.Lock()
	if s.failSub != nil {
		err := s.failSub
		s.mu.Unlock()
		return nil, err
	}
	s.events[rel] = onEvent
	s.statuses[rel] = onStatus
	ack := s.ackOnSubscribe
	s.mu.Unlock()

	if ack {
		onStatus(nil)
	}
	return closerFunc(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed++
		return nil
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (s *fakeSource) Ack(rel models.Relation) {
	s.mu.Lock()
	fn := s.statuses[rel]
	s.mu.Unlock()
	fn(nil)
}

func (s *fakeSource) AckAll() {
	for _, rel := range models.WatchedRelations {
		s.Ack(rel)
	}
}

func (s *fakeSource) Fail(rel models.Relation, err error) {
	s.mu.Lock()
	fn := s.statuses[rel]
	s.mu.Unlock()
	fn(err)
}

func (s *fakeSource) Emit(t *testing.T, rel models.Relation, op models.ChangeOp, row any, actor *uint) {
	t.Helper()
	e, err := models.NewChangeEvent(rel, op, row, actor)
	require.NoError(t, err)
	s.mu.Lock()
	fn := s.events[rel]
	s.mu.Unlock()
	require.NotNil(t, fn, "no subscription for %s", rel)
	fn(e)
}

// recorder captures callbacks.
type recorder struct {
	mu       sync.Mutex
	updates  []Update
	notices  []Notice
	statuses []Status
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnUpdate: func(u Update) { r.mu.Lock(); r.updates = append(r.updates, u); r.mu.Unlock() },
		OnNotice: func(n Notice) { r.mu.Lock(); r.notices = append(r.notices, n); r.mu.Unlock() },
		OnStatus: func(s Status) { r.mu.Lock(); r.statuses = append(r.statuses, s); r.mu.Unlock() },
	}
}

func (r *recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *recorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

type harness struct {
	view  *View
	store *fakeStore
	src   *fakeSource
	rec   *recorder
}

func testOptions() Options {
	return Options{
		Debounce:        testDebounce,
		ConnectTimeout:  time.Minute,
		MutationTimeout: time.Second,
		PageSize:        50,
	}
}

// openHarness opens a campus view over store, acknowledges every subscription
// and waits for the first feed load.
func openHarness(t *testing.T, store *fakeStore, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{store: store, src: newFakeSource(), rec: &recorder{}}
	cfg := Config{
		Store:     store,
		Source:    h.src,
		Viewer:    viewer,
		Scope:     models.CampusScope(),
		Options:   testOptions(),
		Callbacks: h.rec.callbacks(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	v, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	h.view = v
	h.src.AckAll()
	h.idle(t)
	return h
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.view.Idle(ctx))
}

func (h *harness) snapshot(t *testing.T) State {
	t.Helper()
	s, err := h.view.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func (h *harness) post(t *testing.T, id uint) *models.Post {
	t.Helper()
	s := h.snapshot(t)
	p := s.Post(id)
	require.NotNil(t, p, "post %d not loaded", id)
	return p
}

func (h *harness) thread(t *testing.T, postID uint) *Thread {
	t.Helper()
	s := h.snapshot(t)
	th := s.Threads[postID]
	require.NotNil(t, th, "thread %d not open", postID)
	return th
}

func campusPost(id uint, author models.User) *models.Post {
	return &models.Post{
		ID:        id,
		Title:     "post",
		Content:   "body",
		UserID:    author.ID,
		User:      author,
		CreatedAt: time.Now(),
	}
}

func coursePost(id, courseID uint) *models.Post {
	p := campusPost(id, neighbor)
	p.CourseID = &courseID
	return p
}

func pollPost(id, pollID uint, optionIDs ...uint) *models.Post {
	p := campusPost(id, neighbor)
	p.Poll = &models.Poll{ID: pollID, PostID: id, Question: "?"}
	for i, oid := range optionIDs {
		p.Poll.Options = append(p.Poll.Options, models.PollOption{ID: oid, PollID: pollID, Label: "opt", Position: i})
	}
	return p
}

func uintPtr(v uint) *uint { return &v }

// pendingEntries returns the pending entries of a thread, replies included.
func pendingEntries(th *Thread) []Pending {
	var out []Pending
	for _, root := range th.Roots {
		if p, ok := root.Entry.(Pending); ok {
			out = append(out, p)
		}
		for _, r := range root.Replies {
			if p, ok := r.Entry.(Pending); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func confirmedEntries(th *Thread) []models.Comment {
	var out []models.Comment
	for _, root := range th.Roots {
		if c, ok := root.Entry.(Confirmed); ok {
			out = append(out, c.Comment)
		}
		for _, r := range root.Replies {
			if c, ok := r.Entry.(Confirmed); ok {
				out = append(out, c.Comment)
			}
		}
	}
	return out
}
