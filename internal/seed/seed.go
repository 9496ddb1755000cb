// Package seed fills a database with demo users, posts, polls, comments and
// likes. It writes through the feed store, so open feeds see the data arrive
// as change notifications. Intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"
)

// Options sizes a seeding run.
type Options struct {
	Users   int
	Posts   int
	Courses int
	Clubs   int
	// MaxComments bounds the comments generated per post.
	MaxComments int
	// PollEvery attaches a poll to every n-th post; zero disables polls.
	PollEvery int
	// MaxDays spreads post creation times over the past n days.
	MaxDays int
	// Seed makes the run reproducible; zero picks a random seed.
	Seed int64
}

// DefaultOptions is a small campus: a few courses and clubs, a busy feed.
func DefaultOptions() Options {
	return Options{
		Users:       25,
		Posts:       120,
		Courses:     4,
		Clubs:       3,
		MaxComments: 6,
		PollEvery:   5,
		MaxDays:     30,
	}
}

// Result counts what a run created.
type Result struct {
	Users    int
	Posts    int
	Polls    int
	Comments int
	Likes    int
	Votes    int
	Edits    int
}

// Seeder generates demo data through a FeedStore.
type Seeder struct {
	store *repository.FeedStore
	faker *gofakeit.Faker
	opts  Options
}

// NewSeeder creates a seeder writing through store.
func NewSeeder(store *repository.FeedStore, opts Options) *Seeder {
	return &Seeder{store: store, faker: gofakeit.New(opts.Seed), opts: opts}
}

// Run creates users first, then posts with their polls, comments, likes and votes.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	var res Result

	users := make([]*models.User, 0, s.opts.Users)
	for i := 0; i < s.opts.Users; i++ {
		u := &models.User{
			Username:    fmt.Sprintf("%s%d", s.faker.Username(), i),
			DisplayName: s.faker.Name(),
			AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID()),
		}
		if err := s.store.Users.Create(ctx, u); err != nil {
			return res, fmt.Errorf("create user: %w", err)
		}
		users = append(users, u)
		res.Users++
	}
	if len(users) == 0 {
		return res, nil
	}

	for i := 0; i < s.opts.Posts; i++ {
		post := s.buildPost(i, s.pick(users))
		if err := s.store.CreatePost(ctx, post); err != nil {
			return res, fmt.Errorf("create post: %w", err)
		}
		res.Posts++
		if s.faker.Number(1, 8) == 1 {
			if _, err := s.store.EditPost(ctx, post.UserID, post.ID, post.Title, post.Content+"\n\n"+s.faker.Sentence(8)); err != nil {
				return res, fmt.Errorf("edit post: %w", err)
			}
			res.Edits++
		}

		n, edits, err := s.comments(ctx, post, users)
		res.Edits += edits
		res.Comments += n
		if err != nil {
			return res, err
		}
		n, err = s.likes(ctx, post, users)
		res.Likes += n
		if err != nil {
			return res, err
		}
		if post.Poll != nil {
			res.Polls++
			n, err = s.votes(ctx, post, users)
			res.Votes += n
			if err != nil {
				return res, err
			}
		}
	}

	observability.GlobalLogger.InfoContext(ctx, "seeding complete",
		slog.Int("users", res.Users),
		slog.Int("posts", res.Posts),
		slog.Int("polls", res.Polls),
		slog.Int("comments", res.Comments),
		slog.Int("likes", res.Likes),
		slog.Int("votes", res.Votes),
		slog.Int("edits", res.Edits),
	)
	return res, nil
}

func (s *Seeder) buildPost(i int, author *models.User) *models.Post {
	post := &models.Post{
		Title:       s.faker.Sentence(6),
		Content:     s.faker.Paragraph(1, 3, 12, "\n"),
		UserID:      author.ID,
		IsAnonymous: s.faker.Number(1, 10) == 1,
	}

	// A third each: campus, course, club.
	switch s.faker.Number(0, 2) {
	case 1:
		if s.opts.Courses > 0 {
			id := uint(s.faker.Number(1, s.opts.Courses))
			post.CourseID = &id
		}
	case 2:
		if s.opts.Clubs > 0 {
			id := uint(s.faker.Number(1, s.opts.Clubs))
			post.ClubID = &id
		}
	}

	if s.faker.Bool() {
		post.ImagePath = fmt.Sprintf("https://picsum.photos/seed/%s/800/600", s.faker.UUID())
	}

	if s.opts.MaxDays > 0 {
		back := time.Duration(s.faker.Number(0, s.opts.MaxDays*24*60)) * time.Minute
		post.CreatedAt = time.Now().Add(-back)
	}

	if s.opts.PollEvery > 0 && i%s.opts.PollEvery == 0 {
		options := make([]models.PollOption, s.faker.Number(2, 4))
		for j := range options {
			options[j] = models.PollOption{Label: s.faker.BuzzWord(), Position: j}
		}
		post.Poll = &models.Poll{Question: s.faker.Question(), Options: options}
	}
	return post
}

// comments adds top-level comments and replies; replies to replies are
// re-parented by the store. A few comments are edited afterwards.
func (s *Seeder) comments(ctx context.Context, post *models.Post, users []*models.User) (int, int, error) {
	if s.opts.MaxComments <= 0 {
		return 0, 0, nil
	}
	var created []*models.Comment
	edits := 0
	for j := s.faker.Number(0, s.opts.MaxComments); j > 0; j-- {
		c := &models.Comment{
			PostID:      post.ID,
			UserID:      s.pick(users).ID,
			Content:     s.faker.Sentence(s.faker.Number(4, 16)),
			IsAnonymous: s.faker.Number(1, 8) == 1,
		}
		if len(created) > 0 && s.faker.Bool() {
			parent := created[s.faker.Number(0, len(created)-1)]
			c.ParentID = &parent.ID
		}
		if err := s.store.CreateComment(ctx, c); err != nil {
			return len(created), edits, fmt.Errorf("create comment: %w", err)
		}
		created = append(created, c)

		if s.faker.Number(1, 6) == 1 {
			if _, err := s.store.EditComment(ctx, c.UserID, c.ID, c.Content+" "+s.faker.Sentence(3)); err != nil {
				return len(created), edits, fmt.Errorf("edit comment: %w", err)
			}
			edits++
		}
	}
	return len(created), edits, nil
}

func (s *Seeder) likes(ctx context.Context, post *models.Post, users []*models.User) (int, error) {
	n := 0
	for _, u := range users {
		if s.faker.Number(1, 4) != 1 {
			continue
		}
		if err := s.store.Like(ctx, u.ID, models.PostTarget(post.ID)); err != nil {
			return n, fmt.Errorf("like post: %w", err)
		}
		n++
	}
	return n, nil
}

func (s *Seeder) votes(ctx context.Context, post *models.Post, users []*models.User) (int, error) {
	options := post.Poll.Options
	n := 0
	for _, u := range users {
		if !s.faker.Bool() {
			continue
		}
		option := options[s.faker.Number(0, len(options)-1)]
		if _, err := s.store.CastVote(ctx, post.Poll.ID, option.ID, u.ID); err != nil {
			return n, fmt.Errorf("cast vote: %w", err)
		}
		n++
	}
	return n, nil
}

func (s *Seeder) pick(users []*models.User) *models.User {
	return users[s.faker.Number(0, len(users)-1)]
}

// Clear deletes every feed row, children first.
func Clear(ctx context.Context, db *gorm.DB) error {
	tables := []any{
		&models.PollVote{},
		&models.PollOption{},
		&models.Poll{},
		&models.Like{},
		&models.Comment{},
		&models.Post{},
		&models.User{},
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range tables {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}
