package models

import (
	"time"

	"gorm.io/gorm"
)

// Comment is a comment on a post, or a reply to a top-level comment.
// Only one level of nesting exists: a reply's parent never has a parent.
type Comment struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PostID      uint   `gorm:"not null;index" json:"post_id"`
	ParentID    *uint  `gorm:"index" json:"parent_comment_id,omitempty"`
	UserID      uint   `gorm:"not null;index" json:"user_id"`
	User        User   `gorm:"foreignKey:UserID" json:"user"`
	Content     string `gorm:"type:text;not null" json:"content"`
	IsAnonymous bool   `gorm:"not null;default:false" json:"is_anonymous"`
	IsEdited    bool   `gorm:"not null;default:false" json:"is_edited"`
	// LikeCount is not persisted; computed at query time
	LikeCount int `gorm:"->;-:migration" json:"like_count"`
	// Liked indicates whether the current requesting user liked this comment (computed)
	Liked     bool           `gorm:"->;-:migration" json:"liked"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsReply reports whether the comment hangs off another comment.
func (c *Comment) IsReply() bool {
	return c.ParentID != nil
}
