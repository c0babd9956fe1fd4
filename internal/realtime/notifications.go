package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"btplive/internal/models"
)

// DefaultRequestTimeout bounds every REST call made by the notification
// channel.
const DefaultRequestTimeout = 10 * time.Second

var ErrNotificationNotFound = errors.New("realtime: notification not found")

// NotificationAPI is the REST side of notifications.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

type NotificationsConfig struct {
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NotificationSnapshot is what listeners receive on every change.
type NotificationSnapshot struct {
	Items  []models.Notification
	Unread int
}

// Notifications reconciles the REST snapshot with pushed notifications and
// applies read transitions optimistically, rolling back on server failure.
//
// The unread counter is kept separately from the list: it is incremented on
// push, decremented on read and periodically replaced by the server count.
type Notifications struct {
	api     NotificationAPI
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	items  []models.Notification
	unread int
	// countGen changes whenever a server count replaces unread. Rollbacks
	// only restore their delta while it is unchanged.
	countGen uint64
	// loads counts Load calls in flight; pushed records pushes received
	// meanwhile so the snapshot cannot drop them.
	loads     int
	pushed    []models.Notification
	listeners []func(NotificationSnapshot)
}

func NewNotifications(api NotificationAPI, config NotificationsConfig) *Notifications {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Notifications{
		api:     api,
		timeout: config.RequestTimeout,
		logger:  config.Logger,
	}
}

func (n *Notifications) Attach(m *Manager) {
	m.On(models.EventNotificationReceive, func(data json.RawMessage) {
		var notif models.Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			n.logger.Warn("invalid notification payload", "error", err)
			return
		}
		n.OnPush(notif)
	})
}

// Load replaces local state with the server snapshot. Pushes accepted while
// the fetch was running are kept on top of it.
func (n *Notifications) Load(ctx context.Context) error {
	n.mu.Lock()
	n.loads++
	since := len(n.pushed)
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.loads--
		if n.loads == 0 {
			n.pushed = nil
		}
		n.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var (
		items []models.Notification
		count int
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = n.api.ListNotifications(gCtx)
		if err != nil {
			return fmt.Errorf("failed to fetch notifications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		count, err = n.api.UnreadCount(gCtx)
		if err != nil {
			return fmt.Errorf("failed to fetch unread count: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	n.mu.Lock()
	unread := max(count, 0)
	// pushes that raced the fetch stay on top, newest first
	var missed []models.Notification
	for _, p := range n.pushed[since:] {
		if containsNotification(items, p.ID) || containsNotification(missed, p.ID) {
			continue
		}
		if i := n.indexLocked(p.ID); i >= 0 {
			p = n.items[i]
		}
		missed = append([]models.Notification{p}, missed...)
		if !p.IsRead {
			unread++
		}
	}
	n.items = append(missed, items...)
	n.unread = unread
	n.countGen++
	n.mu.Unlock()

	n.notify()
	return nil
}

func containsNotification(items []models.Notification, id string) bool {
	for i := range items {
		if items[i].ID == id {
			return true
		}
	}
	return false
}

// Reconcile replaces the local unread counter with the authoritative one.
func (n *Notifications) Reconcile(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	count, err := n.api.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch unread count: %w", err)
	}

	n.mu.Lock()
	changed := n.unread != count
	n.unread = max(count, 0)
	n.countGen++
	n.mu.Unlock()

	if changed {
		n.notify()
	}
	return nil
}

// Run reconciles the counter every interval until ctx ends.
func (n *Notifications) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.Reconcile(ctx); err != nil && ctx.Err() == nil {
				n.logger.Warn("unread count reconciliation failed", "error", err)
			}
		}
	}
}

// OnPush prepends a pushed notification. Delivery is at-most-once: nothing
// is acknowledged and a missed push only shows up on the next Load.
func (n *Notifications) OnPush(notif models.Notification) {
	n.mu.Lock()
	for _, existing := range n.items {
		if existing.ID == notif.ID {
			n.mu.Unlock()
			return
		}
	}
	n.items = append([]models.Notification{notif}, n.items...)
	if !notif.IsRead {
		n.unread++
	}
	if n.loads > 0 {
		n.pushed = append(n.pushed, notif)
	}
	n.mu.Unlock()

	n.notify()
}

// MarkAsRead flips the flag and decrements the counter, then confirms with
// the server. On failure both are restored and the error returned; a server
// count fetched in the meantime is kept as is.
func (n *Notifications) MarkAsRead(ctx context.Context, id string) error {
	n.mu.Lock()
	idx := n.indexLocked(id)
	if idx < 0 {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	if n.items[idx].IsRead {
		n.mu.Unlock()
		return nil
	}
	n.items[idx].IsRead = true
	decremented := 0
	if n.unread > 0 {
		n.unread--
		decremented = 1
	}
	gen := n.countGen
	n.mu.Unlock()
	n.notify()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.api.MarkRead(ctx, id); err != nil {
		n.mu.Lock()
		if i := n.indexLocked(id); i >= 0 {
			n.items[i].IsRead = false
		}
		if n.countGen == gen {
			n.unread += decremented
		}
		n.mu.Unlock()
		n.notify()

		n.logger.Warn("mark as read rolled back", "notification_id", id, "error", err)
		return fmt.Errorf("failed to mark notification %s as read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead flips every notification and zeroes the counter as one
// optimistic unit; a server failure restores exactly what was changed.
func (n *Notifications) MarkAllAsRead(ctx context.Context) error {
	n.mu.Lock()
	var flipped []string
	for i := range n.items {
		if !n.items[i].IsRead {
			n.items[i].IsRead = true
			flipped = append(flipped, n.items[i].ID)
		}
	}
	cleared := n.unread
	n.unread = 0
	gen := n.countGen
	n.mu.Unlock()
	n.notify()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.api.MarkAllRead(ctx); err != nil {
		n.mu.Lock()
		for _, id := range flipped {
			if i := n.indexLocked(id); i >= 0 {
				n.items[i].IsRead = false
			}
		}
		if n.countGen == gen {
			n.unread += cleared
		}
		n.mu.Unlock()
		n.notify()

		n.logger.Warn("mark all as read rolled back", "count", len(flipped), "error", err)
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return nil
}

func (n *Notifications) indexLocked(id string) int {
	for i := range n.items {
		if n.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Notifications returns the list, newest first.
func (n *Notifications) Notifications() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Notification, len(n.items))
	copy(out, n.items)
	return out
}

func (n *Notifications) Get(id string) (models.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i := n.indexLocked(id); i >= 0 {
		return n.items[i], true
	}
	return models.Notification{}, false
}

func (n *Notifications) Unread() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unread
}

// BadgeLabel is the bell badge text: empty at zero, "9+" above nine.
func (n *Notifications) BadgeLabel() string {
	unread := n.Unread()
	switch {
	case unread <= 0:
		return ""
	case unread > 9:
		return "9+"
	default:
		return strconv.Itoa(unread)
	}
}

func (n *Notifications) OnChange(fn func(NotificationSnapshot)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *Notifications) notify() {
	n.mu.Lock()
	listeners := n.listeners
	if len(listeners) == 0 {
		n.mu.Unlock()
		return
	}
	snap := NotificationSnapshot{
		Items:  make([]models.Notification, len(n.items)),
		Unread: n.unread,
	}
	copy(snap.Items, n.items)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
