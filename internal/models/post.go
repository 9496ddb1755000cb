// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Post represents a post in a campus, course or club feed.
type Post struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Title       string `gorm:"not null" json:"title"`
	Content     string `gorm:"type:text;not null" json:"content"`
	UserID      uint   `gorm:"not null;index" json:"user_id"`
	User        User   `gorm:"foreignKey:UserID" json:"user"`
	CourseID    *uint  `gorm:"index" json:"course_id,omitempty"`
	ClubID      *uint  `gorm:"index" json:"club_id,omitempty"`
	IsAnonymous bool   `gorm:"not null;default:false" json:"is_anonymous"`
	ImagePath   string `json:"image_path,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	Poll        *Poll  `gorm:"foreignKey:PostID" json:"poll,omitempty"`
	IsEdited    bool   `gorm:"not null;default:false" json:"is_edited"`
	// LikeCount is not persisted; computed at query time
	LikeCount int `gorm:"->;-:migration" json:"like_count"`
	// CommentCount is not persisted; computed at query time
	CommentCount int `gorm:"->;-:migration" json:"comment_count"`
	// CommentIDs are the comments behind CommentCount when the read carried
	// them; nil when unknown.
	CommentIDs []uint `gorm:"-" json:"-"`
	// Liked indicates whether the current requesting user liked this post (computed)
	Liked     bool           `gorm:"->;-:migration" json:"liked"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Scope returns the feed scope the post belongs to.
func (p *Post) Scope() Scope {
	return ScopeOf(p.CourseID, p.ClubID)
}

// Clone returns a deep copy so view state never aliases store results.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	out := *p
	out.CourseID = cloneID(p.CourseID)
	out.ClubID = cloneID(p.ClubID)
	if p.EditedAt != nil {
		t := *p.EditedAt
		out.EditedAt = &t
	}
	out.Poll = p.Poll.Clone()
	if p.CommentIDs != nil {
		out.CommentIDs = append(make([]uint, 0, len(p.CommentIDs)), p.CommentIDs...)
	}
	return &out
}

func cloneID(id *uint) *uint {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
