package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ScopeKind identifies which boundary a feed covers.
type ScopeKind string

const (
	ScopeCampus ScopeKind = "campus"
	ScopeCourse ScopeKind = "course"
	ScopeClub   ScopeKind = "club"
)

// Scope is the boundary (global campus, a course or a club) a feed view includes.
// ID is zero for the campus scope.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   uint      `json:"id,omitempty"`
}

// CampusScope is the global feed.
func CampusScope() Scope { return Scope{Kind: ScopeCampus} }

// CourseScope is the feed of a single course.
func CourseScope(id uint) Scope { return Scope{Kind: ScopeCourse, ID: id} }

// ClubScope is the feed of a single club.
func ClubScope(id uint) Scope { return Scope{Kind: ScopeClub, ID: id} }

// ScopeOf derives a scope from a row's course and club columns. The two are
// mutually exclusive; a row carrying neither belongs to the campus scope.
func ScopeOf(courseID, clubID *uint) Scope {
	switch {
	case courseID != nil:
		return CourseScope(*courseID)
	case clubID != nil:
		return ClubScope(*clubID)
	default:
		return CampusScope()
	}
}

// Matches reports whether a row with the given scope columns belongs to s.
func (s Scope) Matches(courseID, clubID *uint) bool {
	return ScopeOf(courseID, clubID) == s
}

func (s Scope) String() string {
	if s.Kind == ScopeCampus || s.Kind == "" {
		return string(ScopeCampus)
	}
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// ParseScope parses "campus", "course:12" or "club:3".
func ParseScope(raw string) (Scope, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == string(ScopeCampus) {
		return CampusScope(), nil
	}
	kind, idRaw, ok := strings.Cut(raw, ":")
	if !ok {
		return Scope{}, NewValidationError(fmt.Sprintf("invalid scope %q", raw))
	}
	id, err := strconv.ParseUint(idRaw, 10, 32)
	if err != nil || id == 0 {
		return Scope{}, NewValidationError(fmt.Sprintf("invalid scope id in %q", raw))
	}
	switch ScopeKind(kind) {
	case ScopeCourse:
		return CourseScope(uint(id)), nil
	case ScopeClub:
		return ClubScope(uint(id)), nil
	}
	return Scope{}, NewValidationError(fmt.Sprintf("unknown scope kind %q", kind))
}
