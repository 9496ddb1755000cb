package models

import (
	"fmt"
	"time"
)

// TargetType is the kind of entity a like points at.
type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
)

// Target identifies a likeable entity.
type Target struct {
	Type TargetType `json:"target_type"`
	ID   uint       `json:"target_id"`
}

// PostTarget returns the like target for a post.
func PostTarget(id uint) Target { return Target{Type: TargetPost, ID: id} }

// CommentTarget returns the like target for a comment.
func CommentTarget(id uint) Target { return Target{Type: TargetComment, ID: id} }

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Type, t.ID)
}

// Valid reports whether the target names a known type and a non-zero id.
func (t Target) Valid() bool {
	return (t.Type == TargetPost || t.Type == TargetComment) && t.ID != 0
}

// Like is a (user, target) edge. At most one exists per pair.
type Like struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;uniqueIndex:idx_likes_user_target" json:"user_id"`
	TargetType TargetType `gorm:"type:varchar(16);not null;uniqueIndex:idx_likes_user_target;index:idx_likes_target" json:"target_type"`
	TargetID   uint       `gorm:"not null;uniqueIndex:idx_likes_user_target;index:idx_likes_target" json:"target_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Target returns the liked entity.
func (l *Like) Target() Target {
	return Target{Type: l.TargetType, ID: l.TargetID}
}
