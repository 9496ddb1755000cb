package server

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"campusfeed/internal/featureflags"
	"campusfeed/internal/feed"
	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

const (
	defaultViewportHeight = 900
	// initialLoadWait bounds how long the snapshot waits for the first feed load.
	initialLoadWait = 3 * time.Second
)

// upgradeRequired validates the upgrade request and stashes its parameters
// for the websocket handler.
func (s *Server) upgradeRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		scope, err := models.ParseScope(c.Query("scope"))
		if err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest, err)
		}
		height := defaultViewportHeight
		if raw := c.Query("height"); raw != "" {
			h, err := strconv.Atoi(raw)
			if err != nil || h <= 0 {
				return models.RespondWithError(c, fiber.StatusBadRequest,
					models.NewValidationError("height must be a positive integer"))
			}
			height = h
		}
		c.Locals("scope", scope)
		c.Locals("height", height)
		c.Locals("correlationID", observability.ExtractCorrelationID(c.UserContext()))
		return c.Next()
	}
}

// FeedSocket serves one feed view per connection.
func (s *Server) FeedSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)
		scope, _ := conn.Locals("scope").(models.Scope)
		height, _ := conn.Locals("height").(int)
		correlationID, _ := conn.Locals("correlationID").(string)
		s.serveFeed(conn, userID, scope, height, correlationID)
	})
}

func (s *Server) serveFeed(conn wsConn, userID uint, scope models.Scope, height int, correlationID string) {
	s.sessions.Add(1)
	defer s.sessions.Done()

	ctx := observability.WithCorrelationID(s.shutdownCtx, correlationID)
	virtualized := s.flags.Enabled(featureflags.FeedVirtualization, userID)
	sess := newSession(userID, scope, s.config.ViewportConfig(), height, virtualized)
	sess.allow = func(ctx context.Context, resource string) bool {
		return s.allow(ctx, resource, userID, commentLimit)
	}

	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		rejectConn(conn, err)
		return
	}

	view, err := feed.Open(ctx, feed.Config{
		Store:     s.store,
		Source:    s.notifier,
		Viewer:    *user,
		Scope:     scope,
		Options:   s.config.FeedOptions(),
		Callbacks: sess.callbacks(),
	})
	if err != nil {
		rejectConn(conn, err)
		return
	}
	defer view.Close()
	sess.view = view

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writePump(ctx, conn)
	}()
	defer func() {
		close(sess.done)
		<-writerDone
	}()
	// Shutdown unblocks the reader by closing the socket.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-writerDone:
		}
	}()

	observability.WebSocketConnectionsTotal.Inc()
	defer observability.WebSocketConnectionsTotal.Dec()
	sess.log.LogConnect(ctx, userID, scope.String())

	loadCtx, cancel := context.WithTimeout(ctx, initialLoadWait)
	_ = view.Idle(loadCtx)
	cancel()
	sess.snapshot(ctx, *user)

	sess.readPump(ctx, conn)
	sess.log.LogDisconnect(ctx, userID, scope.String(), "client closed")
}

// rejectConn reports a setup failure and closes the connection.
func rejectConn(conn wsConn, err error) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, encodeFrame(Frame{Type: frameError, Payload: errorPayload(err)}))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
	_ = conn.Close()
}
