package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Identity struct {
	UserID      string
	DisplayName string
}

type SessionConfig struct {
	Identity   Identity
	Credential string
	Manager    *Manager
	API        NotificationAPI

	LocalEcho         bool
	TypingTimeout     time.Duration
	ReconcileInterval time.Duration
	RequestTimeout    time.Duration
	Logger            *slog.Logger
}

// Session is one authenticated client: it owns the connection manager and
// the components attached to it. It is created after login and closed on
// logout.
type Session struct {
	Identity Identity

	Manager       *Manager
	Presence      *Presence
	Typing        *TypingIndicator
	TypingEmitter *TypingEmitter
	Messages      *Messages
	Notifications *Notifications

	credential        string
	reconcileInterval time.Duration
	logger            *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSession(config SessionConfig) (*Session, error) {
	if config.Manager == nil {
		return nil, errors.New("session requires a connection manager")
	}
	if config.Credential == "" {
		return nil, errors.New("session requires a credential")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("user_id", config.Identity.UserID)

	s := &Session{
		Identity:          config.Identity,
		Manager:           config.Manager,
		Presence:          NewPresence(logger),
		Typing:            NewTypingIndicator(config.Identity.UserID, config.TypingTimeout, logger),
		TypingEmitter:     NewTypingEmitter(config.Manager, config.TypingTimeout),
		credential:        config.Credential,
		reconcileInterval: config.ReconcileInterval,
		logger:            logger,
	}
	s.Messages = NewMessages(config.Manager, s.TypingEmitter, MessagesConfig{
		SelfID:    config.Identity.UserID,
		SelfName:  config.Identity.DisplayName,
		LocalEcho: config.LocalEcho,
		Logger:    logger,
	})

	s.Presence.Attach(config.Manager)
	s.Typing.Attach(config.Manager)
	s.TypingEmitter.Attach(config.Manager)
	s.Messages.Attach(config.Manager)

	if config.API != nil {
		s.Notifications = NewNotifications(config.API, NotificationsConfig{
			RequestTimeout: config.RequestTimeout,
			Logger:         logger,
		})
		s.Notifications.Attach(config.Manager)
	}

	return s, nil
}

// Start connects and loads the notification baseline. An auth rejection is
// returned as is so the caller can send the user back to login; other
// connection errors are left to the manager's reconnection.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Manager.Connect(ctx, s.credential); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		s.logger.Warn("realtime connection not established yet", "error", err)
	}

	if s.Notifications == nil {
		return nil
	}
	if err := s.Notifications.Load(ctx); err != nil {
		return fmt.Errorf("failed to load notifications: %w", err)
	}

	if s.reconcileInterval > 0 {
		runCtx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.cancel = cancel
		s.mu.Unlock()
		go s.Notifications.Run(runCtx, s.reconcileInterval)
	}
	return nil
}

// Close ends the session: stops background reconciliation and disconnects.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.TypingEmitter.Stop()
	s.Manager.Disconnect()
}
