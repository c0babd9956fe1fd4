package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"btplive/internal/metrics"
	"btplive/internal/models"
)

var ErrInvalidNotification = errors.New("invalid notification")

type NotificationStore interface {
	CreateNotification(userID string, n models.Notification) (models.Notification, error)
	ListNotifications(userID string, limit int) ([]models.Notification, error)
	UnreadCount(userID string) (int, error)
	MarkRead(userID, id string) error
	MarkAllRead(userID string) (int, error)
	UpsertSubscription(userID string, sub models.PushSubscription) error
	DeleteSubscription(userID, endpoint string) error
}

type UserDirectory interface {
	GetUserByID(id string) (models.User, error)
}

// SocketNotifier delivers to live websockets.
type SocketNotifier interface {
	Notify(userID string, n models.Notification) bool
}

// Pusher delivers to web push subscriptions.
type Pusher interface {
	Send(ctx context.Context, userID string, n models.Notification) (int, error)
}

// Notifier stores a notification and delivers it on the best channel
// available: the user's open sockets, else web push.
type Notifier struct {
	store   NotificationStore
	users   UserDirectory
	sockets SocketNotifier
	pusher  Pusher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNotifier builds a notifier. pusher may be nil when web push is not
// configured.
func NewNotifier(store NotificationStore, users UserDirectory, sockets SocketNotifier, pusher Pusher, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	if m == nil {
		m = metrics.Discard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		store:   store,
		users:   users,
		sockets: sockets,
		pusher:  pusher,
		metrics: m,
		logger:  logger,
	}
}

func (n *Notifier) Publish(ctx context.Context, req models.CreateNotificationRequest) (models.Notification, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.UserID == "":
		return models.Notification{}, fmt.Errorf("%w: userId is required", ErrInvalidNotification)
	case req.Title == "":
		return models.Notification{}, fmt.Errorf("%w: titre is required", ErrInvalidNotification)
	case req.Message == "":
		return models.Notification{}, fmt.Errorf("%w: message is required", ErrInvalidNotification)
	}

	if _, err := n.users.GetUserByID(req.UserID); err != nil {
		return models.Notification{}, err
	}

	stored, err := n.store.CreateNotification(req.UserID, models.Notification{
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
		Link:    req.Link,
	})
	if err != nil {
		return models.Notification{}, fmt.Errorf("failed to store notification: %w", err)
	}
	n.metrics.NotificationsDelivered.WithLabelValues(metrics.ChannelStored).Inc()

	if n.sockets.Notify(req.UserID, stored) {
		n.metrics.NotificationsDelivered.WithLabelValues(metrics.ChannelSocket).Inc()
		return stored, nil
	}

	if n.pusher == nil {
		return stored, nil
	}
	delivered, err := n.pusher.Send(ctx, req.UserID, stored)
	if err != nil {
		// the notification is stored and will show up on next load
		n.logger.Warn("web push failed", "user_id", req.UserID, "notification_id", stored.ID, "error", err)
		return stored, nil
	}
	if delivered > 0 {
		n.metrics.NotificationsDelivered.WithLabelValues(metrics.ChannelWebPush).Add(float64(delivered))
	}
	return stored, nil
}
