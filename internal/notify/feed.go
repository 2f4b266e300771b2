// Package notify buffers wallet notifications for the presentation layer.
package notify

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"go.uber.org/zap"
)

// DefaultCapacity bounds the feed when no size is configured.
const DefaultCapacity = 100

// Feed keeps the most recent notifications in memory, oldest dropped first.
type Feed struct {
	mu       sync.Mutex
	logger   *zap.Logger
	capacity int
	entries  []wallet.Notification
}

// NewFeed returns a Feed holding at most capacity notifications.
func NewFeed(logger *zap.Logger, capacity int) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{logger: logger, capacity: capacity, entries: make([]wallet.Notification, 0, capacity)}
}

// Notify implements wallet.Notifier.
func (feed *Feed) Notify(_ context.Context, notification wallet.Notification) {
	feed.logger.Debug("wallet notification",
		zap.String("kind", string(notification.Kind)),
		zap.String("user_id", notification.UserID.String()),
		zap.String("message", notification.Message),
	)
	feed.mu.Lock()
	defer feed.mu.Unlock()
	if len(feed.entries) == feed.capacity {
		copy(feed.entries, feed.entries[1:])
		feed.entries = feed.entries[:len(feed.entries)-1]
	}
	feed.entries = append(feed.entries, notification)
}

// Recent returns up to limit notifications for userID, newest first.
// A non-positive limit returns everything buffered for the user.
func (feed *Feed) Recent(userID wallet.UserID, limit int) []wallet.Notification {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	recent := make([]wallet.Notification, 0)
	for index := len(feed.entries) - 1; index >= 0; index-- {
		if feed.entries[index].UserID != userID {
			continue
		}
		recent = append(recent, feed.entries[index])
		if limit > 0 && len(recent) == limit {
			break
		}
	}
	return recent
}

// Fanout forwards each notification to every wrapped notifier in order.
type Fanout []wallet.Notifier

// Notify implements wallet.Notifier.
func (fanout Fanout) Notify(ctx context.Context, notification wallet.Notification) {
	for _, notifier := range fanout {
		if notifier != nil {
			notifier.Notify(ctx, notification)
		}
	}
}
