package feed

import (
	"fmt"
	"strings"
	"time"

	"campusfeed/internal/observability"
)

const feedTag = "feed"

func threadTag(postID uint) string {
	return fmt.Sprintf("thread:%d", postID)
}

func tagKind(tag string) string {
	if strings.HasPrefix(tag, "thread:") {
		return "thread"
	}
	return tag
}

type slot struct {
	timer    *time.Timer
	gen      uint64
	inFlight bool
	dirty    bool
}

// scheduler coalesces refetch requests per tag. Every method runs on the view
// loop; timers re-enter the loop through post. Generations come from one
// sequence and advance on every arm and cancel, so a timer that fires after
// being superseded is ignored even if its slot was recreated.
type scheduler struct {
	window time.Duration
	post   func(func()) bool
	run    func(tag string)
	slots  map[string]*slot
	seq    uint64
}

func newScheduler(window time.Duration, post func(func()) bool, run func(tag string)) *scheduler {
	return &scheduler{window: window, post: post, run: run, slots: map[string]*slot{}}
}

func (s *scheduler) slot(tag string) *slot {
	sl, ok := s.slots[tag]
	if !ok {
		sl = &slot{}
		s.slots[tag] = sl
	}
	return sl
}

func (s *scheduler) disarm(sl *slot) bool {
	s.seq++
	sl.gen = s.seq
	if sl.timer == nil {
		return false
	}
	sl.timer.Stop()
	sl.timer = nil
	return true
}

// Invalidate restarts the quiescence window for tag.
func (s *scheduler) Invalidate(tag string) {
	sl := s.slot(tag)
	if s.disarm(sl) {
		observability.InvalidationsCoalesced.WithLabelValues(tagKind(tag)).Inc()
	}
	gen := sl.gen
	sl.timer = time.AfterFunc(s.window, func() {
		s.post(func() { s.fire(tag, gen) })
	})
}

// Now runs the refetch for tag without waiting, or right after the one in flight.
func (s *scheduler) Now(tag string) {
	sl := s.slot(tag)
	s.disarm(sl)
	if sl.inFlight {
		sl.dirty = true
		return
	}
	s.start(tag, sl)
}

// Cancel drops any pending refetch for tag. A refetch already in flight still completes.
func (s *scheduler) Cancel(tag string) {
	sl, ok := s.slots[tag]
	if !ok {
		return
	}
	s.disarm(sl)
	sl.dirty = false
	if !sl.inFlight {
		delete(s.slots, tag)
	}
}

// Done marks the in-flight refetch for tag finished and starts the follow-up, if any.
func (s *scheduler) Done(tag string) {
	sl, ok := s.slots[tag]
	if !ok {
		return
	}
	sl.inFlight = false
	if sl.dirty {
		sl.dirty = false
		s.start(tag, sl)
		return
	}
	if sl.timer == nil {
		delete(s.slots, tag)
	}
}

// Busy reports whether any refetch is pending or running.
func (s *scheduler) Busy() bool {
	return len(s.slots) > 0
}

// Stop disarms every timer. The scheduler is unusable afterwards.
func (s *scheduler) Stop() {
	for _, sl := range s.slots {
		s.disarm(sl)
	}
	s.slots = map[string]*slot{}
}

func (s *scheduler) fire(tag string, gen uint64) {
	sl, ok := s.slots[tag]
	if !ok || sl.gen != gen {
		return
	}
	sl.timer = nil
	if sl.inFlight {
		sl.dirty = true
		return
	}
	s.start(tag, sl)
}

func (s *scheduler) start(tag string, sl *slot) {
	sl.inFlight = true
	s.run(tag)
}
