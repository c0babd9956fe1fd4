// Package push delivers notifications to users without a live socket
// through the Web Push protocol.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"btplive/internal/models"
)

const defaultTTL = 24 * 60 * 60

type SubscriptionStore interface {
	ListSubscriptions(userID string) ([]models.PushSubscription, error)
	DeleteSubscription(userID, endpoint string) error
}

type Config struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	// TTL in seconds the push service keeps an undelivered message.
	TTL        int
	HTTPClient webpush.HTTPClient
}

type Sender struct {
	store  SubscriptionStore
	config Config
	logger *slog.Logger
}

// Payload is what the service worker receives.
type Payload struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Type   string `json:"type"`
	Link   string `json:"link,omitempty"`
	Unread bool   `json:"unread"`
}

func NewSender(store SubscriptionStore, config Config, logger *slog.Logger) *Sender {
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{store: store, config: config, logger: logger}
}

// GenerateKeys returns a fresh VAPID key pair.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

// Send pushes n to every subscription of userID and returns how many were
// accepted by the push services. Subscriptions reported as gone are removed.
func (s *Sender) Send(ctx context.Context, userID string, n models.Notification) (int, error) {
	subs, err := s.store.ListSubscriptions(userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(Payload{
		ID:     n.ID,
		Title:  n.Title,
		Body:   n.Message,
		Type:   string(n.Type),
		Link:   n.Link,
		Unread: !n.IsRead,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode push payload: %w", err)
	}

	delivered := 0
	var lastErr error
	for _, sub := range subs {
		if err := s.sendOne(ctx, userID, sub, payload); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return 0, lastErr
	}
	return delivered, nil
}

func (s *Sender) sendOne(ctx context.Context, userID string, sub models.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.config.HTTPClient,
		Subscriber:      s.config.Subject,
		VAPIDPublicKey:  s.config.PublicKey,
		VAPIDPrivateKey: s.config.PrivateKey,
		TTL:             s.config.TTL,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("failed to push to %s: %w", sub.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		s.logger.Info("push subscription expired", "user_id", userID, "endpoint", sub.Endpoint)
		if err := s.store.DeleteSubscription(userID, sub.Endpoint); err != nil {
			s.logger.Error("failed to delete expired subscription", "user_id", userID, "error", err)
		}
		return fmt.Errorf("subscription %s is gone", sub.Endpoint)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
