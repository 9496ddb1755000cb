// Package notifications publishes and subscribes to per-row change notifications over Redis.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// ErrNoBroker is returned by Subscribe when the notifier has no Redis client.
var ErrNoBroker = errors.New("change notifications unavailable: no redis client")

// ChangeChannel derives the Redis channel name for a relation.
func ChangeChannel(rel models.Relation) string {
	return "changes:" + string(rel)
}

// Notifier publishes change events into Redis channels and subscribes to them.
type Notifier struct {
	rdb redis.UniversalClient
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb redis.UniversalClient) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishChange sends a change event for row on the relation's channel.
// A notifier without Redis is a no-op.
func (n *Notifier) PublishChange(
	ctx context.Context, rel models.Relation, op models.ChangeOp, row any, actorID *uint,
) error {
	if n.rdb == nil {
		return nil
	}
	event, err := models.NewChangeEvent(rel, op, row, actorID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	ctx, span := observability.StartRedisSpan(ctx, "publish")
	err = n.rdb.Publish(ctx, ChangeChannel(rel), payload).Err()
	observability.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("publish %s change: %w", rel, err)
	}
	observability.ChangeEventsPublished.WithLabelValues(string(rel), string(op)).Inc()
	return nil
}

// Subscribe starts listening on the relation's channel. It returns immediately;
// onStatus(nil) reports the broker's acknowledgement and onStatus(err) reports
// a terminal failure. After a failure no further events are delivered. Closing
// the returned subscription never reports a failure.
func (n *Notifier) Subscribe(
	ctx context.Context,
	rel models.Relation,
	onEvent func(models.ChangeEvent),
	onStatus func(error),
) (io.Closer, error) {
	if n.rdb == nil {
		return nil, ErrNoBroker
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pubsub: n.rdb.Subscribe(ctx, ChangeChannel(rel)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(ctx, rel, onEvent, onStatus)
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// Close stops delivery and waits for the receive loop to exit.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

func (s *subscription) report(onStatus func(error), err error) {
	if s.closed.Load() {
		return
	}
	safeCall("status", func() { onStatus(err) })
}

func (s *subscription) run(
	ctx context.Context, rel models.Relation, onEvent func(models.ChangeEvent), onStatus func(error),
) {
	defer close(s.done)

	// The first reply on a fresh subscription is the subscribe confirmation.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		observability.RedisErrorRate.WithLabelValues("subscribe").Inc()
		s.report(onStatus, models.NewSubscriptionError(rel, err))
		return
	}
	s.report(onStatus, nil)

	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				observability.RedisErrorRate.WithLabelValues("receive").Inc()
			}
			s.report(onStatus, models.NewSubscriptionError(rel, err))
			return
		}

		var event models.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			observability.GlobalLogger.Warn("dropping malformed change event",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.closed.Load() {
			return
		}
		safeCall("event", func() { onEvent(event) })
	}
}

func safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.Error("PANIC in change subscriber",
				slog.String("callback", kind),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
