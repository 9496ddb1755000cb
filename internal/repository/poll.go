package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// PollRepository manages poll votes and results.
type PollRepository interface {
	FindVote(ctx context.Context, pollID, userID uint) (*models.PollVote, error)
	CastVote(ctx context.Context, pollID, optionID, userID uint) (*models.PollVote, error)
	EnrichWithResults(ctx context.Context, posts []*models.Post, viewerID uint) error
}

type pollRepository struct {
	db *gorm.DB
}

// NewPollRepository creates a new PollRepository
func NewPollRepository(db *gorm.DB) PollRepository {
	return &pollRepository{db: db}
}

// FindVote returns the user's vote, or nil when the user has not voted.
func (r *pollRepository) FindVote(ctx context.Context, pollID, userID uint) (*models.PollVote, error) {
	defer observability.TrackQuery("get", "poll_votes")()
	var vote models.PollVote
	err := r.db.WithContext(ctx).Where("poll_id = ? AND user_id = ?", pollID, userID).First(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStoreReadError("poll vote", err)
	}
	return &vote, nil
}

// CastVote records the user's first and only vote on a poll.
func (r *pollRepository) CastVote(ctx context.Context, pollID, optionID, userID uint) (*models.PollVote, error) {
	defer observability.TrackQuery("create", "poll_votes")()
	var option models.PollOption
	err := r.db.WithContext(ctx).Where("id = ? AND poll_id = ?", optionID, pollID).First(&option).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewValidationError("option does not belong to poll")
	}
	if err != nil {
		return nil, models.NewStoreReadError("poll option", err)
	}

	vote := &models.PollVote{PollID: pollID, OptionID: optionID, UserID: userID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(vote)
	if res.Error != nil {
		return nil, models.NewStoreWriteError("cast vote", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewValidationError("user has already voted on this poll")
	}
	return vote, nil
}

type optionTally struct {
	OptionID uint
	Votes    int
}

// EnrichWithResults fills option counts, totals and the viewer's choice for every post with a poll.
func (r *pollRepository) EnrichWithResults(ctx context.Context, posts []*models.Post, viewerID uint) error {
	pollIDs := make([]uint, 0, len(posts))
	for _, p := range posts {
		if p.Poll != nil {
			pollIDs = append(pollIDs, p.Poll.ID)
		}
	}
	if len(pollIDs) == 0 {
		return nil
	}
	defer observability.TrackQuery("tally", "poll_votes")()

	var tallies []optionTally
	if err := r.db.WithContext(ctx).Model(&models.PollVote{}).
		Select("option_id, COUNT(*) AS votes").
		Where("poll_id IN ?", pollIDs).
		Group("option_id").
		Scan(&tallies).Error; err != nil {
		return models.NewStoreReadError("poll results", err)
	}
	counts := make(map[uint]int, len(tallies))
	for _, t := range tallies {
		counts[t.OptionID] = t.Votes
	}

	choices := map[uint]uint{}
	if viewerID != 0 {
		var votes []models.PollVote
		if err := r.db.WithContext(ctx).Where("poll_id IN ? AND user_id = ?", pollIDs, viewerID).Find(&votes).Error; err != nil {
			return models.NewStoreReadError("poll votes", err)
		}
		for _, v := range votes {
			choices[v.PollID] = v.OptionID
		}
	}

	for _, p := range posts {
		if p.Poll == nil {
			continue
		}
		p.Poll.TotalVotes = 0
		for i := range p.Poll.Options {
			p.Poll.Options[i].VoteCount = counts[p.Poll.Options[i].ID]
			p.Poll.TotalVotes += p.Poll.Options[i].VoteCount
		}
		p.Poll.UserChoice = nil
		if choice, ok := choices[p.Poll.ID]; ok {
			c := choice
			p.Poll.UserChoice = &c
		}
	}
	return nil
}
