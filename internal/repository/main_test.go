package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"campusfeed/internal/database"
	"campusfeed/internal/models"
)

var dbSeq atomic.Int64

// setupTestDB returns an isolated, migrated in-memory sqlite database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	return gormDB, mock
}

type publishedChange struct {
	Relation models.Relation
	Op       models.ChangeOp
	Row      any
	ActorID  *uint
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []publishedChange
}

func (p *recordingPublisher) PublishChange(_ context.Context, rel models.Relation, op models.ChangeOp, row any, actorID *uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, publishedChange{Relation: rel, Op: op, Row: row, ActorID: actorID})
	return nil
}

func (p *recordingPublisher) all() []publishedChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedChange(nil), p.changes...)
}

type fixture struct {
	db     *gorm.DB
	store  *FeedStore
	pub    *recordingPublisher
	alice  *models.User
	bob    *models.User
	course uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	f := &fixture{db: db, store: NewFeedStore(db, nil, pub), pub: pub, course: 7}

	f.alice = &models.User{Username: "alice", DisplayName: "Alice"}
	f.bob = &models.User{Username: "bob"}
	require.NoError(t, f.store.Users.Create(context.Background(), f.alice))
	require.NoError(t, f.store.Users.Create(context.Background(), f.bob))
	return f
}

func (f *fixture) post(t *testing.T, author *models.User, courseID *uint, poll *models.Poll) *models.Post {
	t.Helper()
	p := &models.Post{Title: "t", Content: "c", UserID: author.ID, CourseID: courseID, Poll: poll}
	require.NoError(t, f.store.Posts.Create(context.Background(), p))
	return p
}

func (f *fixture) comment(t *testing.T, author *models.User, postID uint, parentID *uint) *models.Comment {
	t.Helper()
	c := &models.Comment{PostID: postID, ParentID: parentID, UserID: author.ID, Content: "hello"}
	require.NoError(t, f.store.Comments.Create(context.Background(), c))
	return c
}
