package feed

import "campusfeed/internal/models"

// Status is the health of a view's change subscriptions. It gates nothing.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// statusTracker moves connecting -> connected once every relation has
// acknowledged, and to disconnected on any failure. disconnected is terminal.
type statusTracker struct {
	status  Status
	waiting map[models.Relation]struct{}
}

func newStatusTracker(rels []models.Relation) *statusTracker {
	t := &statusTracker{status: StatusConnecting, waiting: make(map[models.Relation]struct{}, len(rels))}
	for _, r := range rels {
		t.waiting[r] = struct{}{}
	}
	return t
}

// Ack records a relation's acknowledgement and reports whether the status changed.
func (t *statusTracker) Ack(rel models.Relation) bool {
	if t.status != StatusConnecting {
		return false
	}
	delete(t.waiting, rel)
	if len(t.waiting) > 0 {
		return false
	}
	t.status = StatusConnected
	return true
}

// Fail moves to disconnected from any live state.
func (t *statusTracker) Fail() bool {
	if t.status == StatusDisconnected {
		return false
	}
	t.status = StatusDisconnected
	return true
}

// Timeout fails the view only if it is still connecting.
func (t *statusTracker) Timeout() bool {
	if t.status != StatusConnecting {
		return false
	}
	t.status = StatusDisconnected
	return true
}

func (t *statusTracker) Status() Status { return t.status }
