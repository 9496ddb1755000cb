package server

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"campusfeed/internal/config"
	"campusfeed/internal/database"
	"campusfeed/internal/models"
)

const (
	testSecret = "test-secret-key-12345678901234567890123456789012"
	waitFor    = 2 * time.Second
	tick       = 5 * time.Millisecond
)

var dbSeq atomic.Int64

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:              testSecret,
		Port:                   "0",
		DBDriver:               "sqlite",
		AllowedOrigins:         "http://localhost:5173",
		FeatureFlags:           "feed_virtualization=on",
		RefetchDebounceMS:      20,
		ConnectTimeoutSeconds:  5,
		MutationTimeoutSeconds: 5,
		ViewportOverscan:       2,
		ViewportRowHeight:      100,
		VirtualizeThreshold:    5,
		FeedPageSize:           50,
	}
}

// newTestServer returns a server over an isolated sqlite database and, when
// withRedis is set, a miniredis broker.
func newTestServer(t *testing.T, withRedis bool) *Server {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1)))
	require.NoError(t, err)

	var rdb *redis.Client
	if withRedis {
		mr := miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	s, err := NewServerWithDeps(testConfig(), db, rdb)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func createUser(t *testing.T, s *Server, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username}
	require.NoError(t, s.store.Users.Create(context.Background(), u))
	return u
}

func createPost(t *testing.T, s *Server, author *models.User, title string, poll *models.Poll) *models.Post {
	t.Helper()
	p := &models.Post{Title: title, Content: "body", UserID: author.ID, Poll: poll}
	require.NoError(t, s.store.CreatePost(context.Background(), p))
	return p
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	token, err := NewToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}
