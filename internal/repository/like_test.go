package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusfeed/internal/models"
)

func TestFeedStore_LikeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.post(t, f.alice, nil, nil)
	target := models.PostTarget(post.ID)

	require.NoError(t, f.store.Like(ctx, f.bob.ID, target))
	require.NoError(t, f.store.Like(ctx, f.bob.ID, target))

	var count int64
	require.NoError(t, f.db.Model(&models.Like{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, f.pub.all(), 1, "a no-op insert is not announced")

	liked, err := f.store.HasLiked(ctx, f.bob.ID, target)
	require.NoError(t, err)
	assert.True(t, liked)

	require.NoError(t, f.store.Unlike(ctx, f.bob.ID, target))
	require.NoError(t, f.store.Unlike(ctx, f.bob.ID, target))
	liked, err = f.store.HasLiked(ctx, f.bob.ID, target)
	require.NoError(t, err)
	assert.False(t, liked)

	changes := f.pub.all()
	require.Len(t, changes, 2)
	assert.Equal(t, models.OpDelete, changes[1].Op)
	like, ok := changes[1].Row.(*models.Like)
	require.True(t, ok)
	assert.Equal(t, target, like.Target())
}

func TestFeedStore_LikeRejectsInvalidTarget(t *testing.T) {
	f := newFixture(t)
	err := f.store.Like(context.Background(), f.bob.ID, models.Target{Type: "poll", ID: 1})
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
	assert.Empty(t, f.pub.all())
}

func TestLikeRepository_WriteFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	pub := &recordingPublisher{}
	store := NewFeedStore(db, nil, pub)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "likes"`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Like(context.Background(), 1, models.PostTarget(2))
	require.Error(t, err)
	assert.Equal(t, models.CodeStoreWriteFailure, models.ErrorCode(err))
	assert.Empty(t, pub.all())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLikeRepository_ExistsReadFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewLikeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "likes"`)).
		WillReturnError(errors.New("timeout"))

	_, err := repo.Exists(context.Background(), 1, models.CommentTarget(3))
	assert.Equal(t, models.CodeStoreReadFailure, models.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
