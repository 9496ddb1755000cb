package models

import "time"

// Poll is embedded in a post (1:1). A user may vote once; the first vote is final.
type Poll struct {
	ID       uint         `gorm:"primaryKey" json:"id"`
	PostID   uint         `gorm:"not null;uniqueIndex" json:"post_id"`
	Question string       `gorm:"not null" json:"question"`
	Options  []PollOption `gorm:"foreignKey:PollID" json:"options"`
	// TotalVotes and UserChoice are filled in by EnrichWithResults
	TotalVotes int       `gorm:"-" json:"total_votes"`
	UserChoice *uint     `gorm:"-" json:"user_choice,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PollOption is one choice of a poll, kept in Position order.
type PollOption struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PollID    uint   `gorm:"not null;index" json:"poll_id"`
	Label     string `gorm:"not null" json:"label"`
	Position  int    `gorm:"not null;default:0" json:"position"`
	VoteCount int    `gorm:"-" json:"vote_count"`
}

// PollVote records a user's single choice on a poll.
type PollVote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;uniqueIndex:idx_poll_votes_poll_user" json:"poll_id"`
	OptionID  uint      `gorm:"not null;index" json:"option_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_poll_votes_poll_user" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the poll.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	out := *p
	out.Options = append([]PollOption(nil), p.Options...)
	out.UserChoice = cloneID(p.UserChoice)
	return &out
}

// Option returns the option with the given id, or nil.
func (p *Poll) Option(optionID uint) *PollOption {
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			return &p.Options[i]
		}
	}
	return nil
}
