package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusfeed/internal/models"
)

func TestPostRepository_ListByScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.course
	club := uint(3)

	campus := f.post(t, f.alice, nil, nil)
	inCourse := f.post(t, f.bob, &course, nil)
	clubPost := &models.Post{Title: "c", Content: "c", UserID: f.bob.ID, ClubID: &club}
	require.NoError(t, f.store.Posts.Create(ctx, clubPost))

	posts, err := f.store.ListPosts(ctx, models.CampusScope(), f.alice.ID, 50)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, campus.ID, posts[0].ID)
	assert.Equal(t, "alice", posts[0].User.Username)

	posts, err = f.store.ListPosts(ctx, models.CourseScope(course), f.alice.ID, 50)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, inCourse.ID, posts[0].ID)

	posts, err = f.store.ListPosts(ctx, models.ClubScope(club), 0, 50)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, clubPost.ID, posts[0].ID)
}

func TestPostRepository_CountsAndLiked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.post(t, f.alice, nil, nil)
	f.comment(t, f.bob, post.ID, nil)
	f.comment(t, f.alice, post.ID, nil)
	require.NoError(t, f.store.Like(ctx, f.bob.ID, models.PostTarget(post.ID)))

	got, err := f.store.Posts.GetByID(ctx, post.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CommentCount)
	assert.Equal(t, 1, got.LikeCount)
	assert.True(t, got.Liked)

	got, err = f.store.Posts.GetByID(ctx, post.ID, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, got.Liked)
}

func TestPostRepository_NewestFirstAndLimit(t *testing.T) {
	f := newFixture(t)
	var ids []uint
	for i := 0; i < 3; i++ {
		ids = append(ids, f.post(t, f.alice, nil, nil).ID)
	}

	posts, err := f.store.ListPosts(context.Background(), models.CampusScope(), 0, 2)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, ids[2], posts[0].ID)
	assert.Equal(t, ids[1], posts[1].ID)
}

func TestPostRepository_RejectsDoubleScope(t *testing.T) {
	f := newFixture(t)
	course, club := uint(1), uint(2)
	err := f.store.Posts.Create(context.Background(), &models.Post{Title: "t", Content: "c", UserID: f.alice.ID, CourseID: &course, ClubID: &club})
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestFeedStore_PostLifecycleAnnounces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.course

	post := &models.Post{Title: "t", Content: "c", UserID: f.alice.ID, CourseID: &course}
	require.NoError(t, f.store.CreatePost(ctx, post))
	f.comment(t, f.bob, post.ID, nil)

	edited, err := f.store.EditPost(ctx, f.alice.ID, post.ID, "t2", "c2")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)

	require.NoError(t, f.store.DeletePost(ctx, f.alice.ID, post.ID))
	_, err = f.store.Posts.GetByID(ctx, post.ID, 0)
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))

	changes := f.pub.all()
	require.Len(t, changes, 3)
	assert.Equal(t, []models.ChangeOp{models.OpInsert, models.OpUpdate, models.OpDelete},
		[]models.ChangeOp{changes[0].Op, changes[1].Op, changes[2].Op})
	deleted, ok := changes[2].Row.(*models.Post)
	require.True(t, ok)
	require.NotNil(t, deleted.CourseID)
	assert.Equal(t, course, *deleted.CourseID)
}

func TestPostRepository_ListCarriesCommentIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	busy := f.post(t, f.alice, nil, nil)
	quiet := f.post(t, f.bob, nil, nil)
	gone := f.comment(t, f.bob, busy.ID, nil)
	keep := f.comment(t, f.alice, busy.ID, nil)
	require.NoError(t, f.store.DeleteComment(ctx, f.bob.ID, gone.ID))

	posts, err := f.store.ListPosts(ctx, models.CampusScope(), f.alice.ID, 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	byID := map[uint]*models.Post{posts[0].ID: posts[0], posts[1].ID: posts[1]}
	assert.Equal(t, 1, byID[busy.ID].CommentCount)
	assert.Equal(t, []uint{keep.ID}, byID[busy.ID].CommentIDs)
	assert.NotNil(t, byID[quiet.ID].CommentIDs, "an empty list is still exact")
	assert.Empty(t, byID[quiet.ID].CommentIDs)
}
