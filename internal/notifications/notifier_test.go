package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusfeed/internal/models"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

type recorder struct {
	mu       sync.Mutex
	events   []models.ChangeEvent
	statuses []error
}

func (r *recorder) onEvent(e models.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) onStatus(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, err)
}

func (r *recorder) snapshot() ([]models.ChangeEvent, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChangeEvent(nil), r.events...), append([]error(nil), r.statuses...)
}

func setupNotifier(t *testing.T) (*Notifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewNotifier(rdb), mr
}

func TestChangeChannel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "changes:likes", ChangeChannel(models.RelationLikes))
	assert.Equal(t, "changes:poll_votes", ChangeChannel(models.RelationPollVotes))
}

func TestNotifier_PublishChangeWithoutRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishChange(context.Background(), models.RelationPosts, models.OpInsert, models.Post{ID: 1}, nil))

	_, err := n.Subscribe(context.Background(), models.RelationPosts, func(models.ChangeEvent) {}, func(error) {})
	assert.ErrorIs(t, err, ErrNoBroker)
}

func TestNotifier_SubscribeAcksThenDelivers(t *testing.T) {
	n, _ := setupNotifier(t)
	rec := &recorder{}

	sub, err := n.Subscribe(context.Background(), models.RelationLikes, rec.onEvent, rec.onStatus)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		_, statuses := rec.snapshot()
		return len(statuses) == 1
	}, testEventuallyTimeout, testPollInterval)
	_, statuses := rec.snapshot()
	assert.NoError(t, statuses[0])

	actor := uint(42)
	like := models.Like{ID: 3, UserID: 42, TargetType: models.TargetPost, TargetID: 9}
	require.NoError(t, n.PublishChange(context.Background(), models.RelationLikes, models.OpInsert, like, &actor))

	require.Eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 1
	}, testEventuallyTimeout, testPollInterval)

	events, _ := rec.snapshot()
	assert.Equal(t, models.OpInsert, events[0].Operation)
	assert.Equal(t, models.RelationLikes, events[0].Relation)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, uint(42), *events[0].ActorID)

	var got models.Like
	require.NoError(t, events[0].DecodeRow(&got))
	assert.Equal(t, models.PostTarget(9), got.Target())
}

func TestNotifier_CloseStopsDeliveryWithoutFailure(t *testing.T) {
	n, _ := setupNotifier(t)
	rec := &recorder{}

	sub, err := n.Subscribe(context.Background(), models.RelationPosts, rec.onEvent, rec.onStatus)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, statuses := rec.snapshot()
		return len(statuses) == 1
	}, testEventuallyTimeout, testPollInterval)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, n.PublishChange(context.Background(), models.RelationPosts, models.OpInsert, models.Post{ID: 1}, nil))
	assert.Never(t, func() bool {
		events, statuses := rec.snapshot()
		return len(events) > 0 || len(statuses) > 1
	}, 100*time.Millisecond, testPollInterval)
}

func TestNotifier_BrokerLossReportsFailure(t *testing.T) {
	n, mr := setupNotifier(t)
	rec := &recorder{}

	sub, err := n.Subscribe(context.Background(), models.RelationComments, rec.onEvent, rec.onStatus)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool {
		_, statuses := rec.snapshot()
		return len(statuses) == 1
	}, testEventuallyTimeout, testPollInterval)

	mr.Close()

	require.Eventually(t, func() bool {
		_, statuses := rec.snapshot()
		return len(statuses) == 2
	}, testEventuallyTimeout, testPollInterval)
	_, statuses := rec.snapshot()
	require.Error(t, statuses[1])
	assert.Equal(t, models.CodeSubscriptionFailure, models.ErrorCode(statuses[1]))
}

func TestNotifier_MalformedPayloadIsSkipped(t *testing.T) {
	n, mr := setupNotifier(t)
	rec := &recorder{}

	sub, err := n.Subscribe(context.Background(), models.RelationPosts, rec.onEvent, rec.onStatus)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool {
		_, statuses := rec.snapshot()
		return len(statuses) == 1
	}, testEventuallyTimeout, testPollInterval)

	mr.Publish(ChangeChannel(models.RelationPosts), "{not json")
	require.NoError(t, n.PublishChange(context.Background(), models.RelationPosts, models.OpDelete, models.Post{ID: 5}, nil))

	require.Eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 1
	}, testEventuallyTimeout, testPollInterval)
	events, statuses := rec.snapshot()
	assert.Equal(t, models.OpDelete, events[0].Operation)
	assert.Nil(t, events[0].ActorID)
	assert.Len(t, statuses, 1)
}
