// Command seed fills the configured database with demo feed data.
package main

import (
	"context"
	"flag"
	"log"

	"campusfeed/internal/cache"
	"campusfeed/internal/config"
	"campusfeed/internal/database"
	"campusfeed/internal/notifications"
	"campusfeed/internal/repository"
	"campusfeed/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	users := flag.Int("users", defaults.Users, "Number of users to create")
	posts := flag.Int("posts", defaults.Posts, "Number of posts to create")
	courses := flag.Int("courses", defaults.Courses, "Number of course scopes to spread posts over")
	clubs := flag.Int("clubs", defaults.Clubs, "Number of club scopes to spread posts over")
	comments := flag.Int("comments", defaults.MaxComments, "Maximum comments per post")
	pollEvery := flag.Int("poll-every", defaults.PollEvery, "Attach a poll to every n-th post (0 disables)")
	randSeed := flag.Int64("seed", 0, "Random seed (0 picks one)")
	shouldClean := flag.Bool("clean", false, "Delete existing feed data before seeding")
	publish := flag.Bool("publish", false, "Announce seeded rows to open feeds over Redis")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	var publisher repository.ChangePublisher
	if *publish {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		publisher = notifications.NewNotifier(rdb)
	}

	if *shouldClean {
		if err := seed.Clear(ctx, db); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	opts := seed.Options{
		Users:       *users,
		Posts:       *posts,
		Courses:     *courses,
		Clubs:       *clubs,
		MaxComments: *comments,
		PollEvery:   *pollEvery,
		MaxDays:     defaults.MaxDays,
		Seed:        *randSeed,
	}
	res, err := seed.NewSeeder(repository.NewFeedStore(db, nil, publisher), opts).Run(ctx)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %d users, %d posts (%d polls), %d comments, %d likes, %d votes, %d edits",
		res.Users, res.Posts, res.Polls, res.Comments, res.Likes, res.Votes, res.Edits)
}
