package feed

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"campusfeed/internal/models"
)

// Entry is a comment as the view holds it: either Confirmed by the store or
// Pending while an optimistic insert is outstanding.
type Entry interface {
	// ServerID is the stored comment id, or zero for an unacknowledged insert.
	ServerID() uint
	isEntry()
}

// Confirmed is a comment the store has returned.
type Confirmed struct {
	Comment models.Comment
}

func (c Confirmed) ServerID() uint { return c.Comment.ID }
func (Confirmed) isEntry()         {}

// Pending is an optimistic comment. Acked is the stored id once the insert
// succeeded; the entry is replaced at the next thread reconciliation.
type Pending struct {
	TempID      uuid.UUID   `json:"temp_id"`
	PostID      uint        `json:"post_id"`
	ParentID    *uint       `json:"parent_comment_id,omitempty"`
	Author      models.User `json:"author"`
	Content     string      `json:"content"`
	IsAnonymous bool        `json:"is_anonymous"`
	CreatedAt   time.Time   `json:"created_at"`
	Acked       uint        `json:"server_id,omitempty"`
}

func (p Pending) ServerID() uint { return p.Acked }
func (Pending) isEntry()         {}

// Node is an entry with its replies. Only top-level nodes carry replies.
type Node struct {
	Entry   Entry
	Replies []*Node
}

// MarshalJSON tags each node with its variant.
func (n *Node) MarshalJSON() ([]byte, error) {
	out := struct {
		State   string  `json:"state"`
		Comment any     `json:"comment"`
		Replies []*Node `json:"replies,omitempty"`
	}{Replies: n.Replies}
	switch e := n.Entry.(type) {
	case Confirmed:
		out.State, out.Comment = "confirmed", e.Comment
	case Pending:
		out.State, out.Comment = "pending", e
	}
	return json.Marshal(out)
}

// Thread is the comment tree of one post.
type Thread struct {
	PostID uint    `json:"post_id"`
	Loaded bool    `json:"loaded"`
	Roots  []*Node `json:"roots"`
}

// DraftKey identifies a composer: the top-level composer of a post has ParentID 0.
type DraftKey struct {
	PostID   uint
	ParentID uint
}

func draftKey(postID uint, parentID *uint) DraftKey {
	k := DraftKey{PostID: postID}
	if parentID != nil {
		k.ParentID = *parentID
	}
	return k
}

// State is a view's local picture of its scope. It is never persisted.
type State struct {
	Scope      models.Scope
	Posts      []*models.Post
	Threads    map[uint]*Thread
	OpenThread uint
	Drafts     map[DraftKey]string
	// InFlight holds like targets whose toggle is outstanding.
	InFlight map[models.Target]struct{}
	// Fetching holds posts whose comment tree is being fetched.
	Fetching map[uint]struct{}
}

func newState(scope models.Scope) State {
	return State{
		Scope:    scope,
		Threads:  map[uint]*Thread{},
		Drafts:   map[DraftKey]string{},
		InFlight: map[models.Target]struct{}{},
		Fetching: map[uint]struct{}{},
	}
}

// Post returns the loaded post with id, or nil.
func (s *State) Post(id uint) *models.Post {
	for _, p := range s.Posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *State) postIndex(id uint) int {
	for i, p := range s.Posts {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *State) postByPoll(pollID uint) *models.Post {
	for _, p := range s.Posts {
		if p.Poll != nil && p.Poll.ID == pollID {
			return p
		}
	}
	return nil
}

// Find returns the node holding the stored comment id, searching replies too.
func (t *Thread) Find(id uint) *Node {
	if id == 0 {
		return nil
	}
	for _, root := range t.Roots {
		if root.Entry.ServerID() == id {
			return root
		}
		for _, r := range root.Replies {
			if r.Entry.ServerID() == id {
				return r
			}
		}
	}
	return nil
}

// findPending returns the pending node with tempID.
func (t *Thread) findPending(tempID uuid.UUID) *Node {
	for _, root := range t.Roots {
		if p, ok := root.Entry.(Pending); ok && p.TempID == tempID {
			return root
		}
		for _, r := range root.Replies {
			if p, ok := r.Entry.(Pending); ok && p.TempID == tempID {
				return r
			}
		}
	}
	return nil
}

// removePending drops the pending entry with tempID. Confirmed entries are never matched.
func (t *Thread) removePending(tempID uuid.UUID) bool {
	match := func(n *Node) bool {
		p, ok := n.Entry.(Pending)
		return ok && p.TempID == tempID
	}
	for i, root := range t.Roots {
		if match(root) {
			t.Roots = append(t.Roots[:i:i], t.Roots[i+1:]...)
			return true
		}
		for j, r := range root.Replies {
			if match(r) {
				root.Replies = append(root.Replies[:j:j], root.Replies[j+1:]...)
				return true
			}
		}
	}
	return false
}

// Count is the number of entries in the thread, replies included.
func (t *Thread) Count() int {
	n := 0
	for _, root := range t.Roots {
		n += 1 + len(root.Replies)
	}
	return n
}

func (n *Node) clone() *Node {
	out := &Node{Entry: cloneEntry(n.Entry)}
	if len(n.Replies) > 0 {
		out.Replies = make([]*Node, len(n.Replies))
		for i, r := range n.Replies {
			out.Replies[i] = r.clone()
		}
	}
	return out
}

func cloneEntry(e Entry) Entry {
	switch v := e.(type) {
	case Confirmed:
		v.Comment.ParentID = cloneID(v.Comment.ParentID)
		if v.Comment.EditedAt != nil {
			t := *v.Comment.EditedAt
			v.Comment.EditedAt = &t
		}
		return v
	case Pending:
		v.ParentID = cloneID(v.ParentID)
		return v
	}
	return e
}

func (t *Thread) clone() *Thread {
	out := &Thread{PostID: t.PostID, Loaded: t.Loaded, Roots: make([]*Node, len(t.Roots))}
	for i, n := range t.Roots {
		out.Roots[i] = n.clone()
	}
	return out
}

// clone deep-copies the state so callers never alias loop-owned data.
func (s *State) clone() State {
	out := State{
		Scope:      s.Scope,
		Posts:      make([]*models.Post, len(s.Posts)),
		Threads:    make(map[uint]*Thread, len(s.Threads)),
		OpenThread: s.OpenThread,
		Drafts:     make(map[DraftKey]string, len(s.Drafts)),
		InFlight:   make(map[models.Target]struct{}, len(s.InFlight)),
		Fetching:   make(map[uint]struct{}, len(s.Fetching)),
	}
	for i, p := range s.Posts {
		out.Posts[i] = p.Clone()
	}
	for id, t := range s.Threads {
		out.Threads[id] = t.clone()
	}
	for k, v := range s.Drafts {
		out.Drafts[k] = v
	}
	for k := range s.InFlight {
		out.InFlight[k] = struct{}{}
	}
	for k := range s.Fetching {
		out.Fetching[k] = struct{}{}
	}
	return out
}

func cloneID(id *uint) *uint {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
