package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusfeed/internal/cache"
	"campusfeed/internal/models"
)

func TestUserRepository_GetByIDUsesCache(t *testing.T) {
	db := setupTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	repo := NewUserRepository(db, cache.New(rdb))
	ctx := context.Background()
	user := &models.User{Username: "carol", DisplayName: "Carol"}
	require.NoError(t, repo.Create(ctx, user))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carol", got.Name())
	assert.True(t, mr.Exists(cache.UserKey(user.ID)))

	// Served from Redis even after the row changes underneath.
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Update("display_name", "Changed").Error)
	got, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carol", got.DisplayName)

	_, err = repo.GetByID(ctx, 9999)
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}
