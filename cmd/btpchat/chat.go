package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"btplive/internal/config"
	"btplive/internal/models"
	"btplive/internal/realtime"
	"btplive/internal/restclient"
	"btplive/internal/retry"
)

const historySize = 20

func newChatCmd(opts *rootOptions) *cobra.Command {
	var noEcho bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the conversation",
		Long: `Join the shared conversation. Each line typed is sent as a message.
Type /quit or press Ctrl-D to leave, /who to list online users.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, client, err := opts.authenticated()
			if err != nil {
				return err
			}
			if noEcho {
				p.LocalEcho = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runChat(ctx, p, client, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&noEcho, "no-echo", false, "Wait for the server copy instead of showing messages immediately")
	return cmd
}

// printer serializes output from the input loop and the realtime handlers.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) println(s string) {
	if s == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, s)
}

func newSession(p *config.Profile, client *restclient.Client) (*realtime.Session, error) {
	url, err := chatURL(p.Server)
	if err != nil {
		return nil, err
	}

	manager := realtime.NewManager(realtime.Config{
		URL: url,
		Reconnect: retry.Config{
			MaxAttempts:  p.Reconnect.Attempts,
			InitialDelay: p.Reconnect.InitialDelay,
			MaxDelay:     p.Reconnect.MaxDelay,
			Factor:       2.0,
			DelayFirst:   true,
		},
	})

	return realtime.NewSession(realtime.SessionConfig{
		Identity:          realtime.Identity{UserID: p.UserID, DisplayName: p.Name},
		Credential:        p.Token,
		Manager:           manager,
		API:               client,
		LocalEcho:         p.LocalEcho,
		ReconcileInterval: time.Minute,
	})
}

func runChat(ctx context.Context, p *config.Profile, client *restclient.Client, in io.Reader, out io.Writer) error {
	session, err := newSession(p, client)
	if err != nil {
		return err
	}
	defer session.Close()

	pr := &printer{out: out}
	names := func(ids []string) []string {
		roster := session.Presence.Roster()
		result := make([]string, 0, len(ids))
		for _, id := range ids {
			name := id
			for _, peer := range roster {
				if peer.UserID == id {
					name = peer.UserName
					break
				}
			}
			result = append(result, name)
		}
		return result
	}

	if history, err := client.History(ctx, historySize); err != nil {
		slog.Warn("failed to load history", "error", err)
	} else {
		for _, msg := range history {
			pr.println(renderMessage(msg, p.UserID))
		}
	}

	session.Messages.OnMessage(func(msg models.Message) {
		// our own server copies replace the echo silently
		pr.println(renderMessage(msg, p.UserID))
	})
	session.Presence.OnChange(func(roster []models.PresenceEntry) {
		pr.println(renderRoster(roster))
	})
	session.Typing.OnChange(func(ids []string) {
		pr.println(renderTyping(names(ids)))
	})
	if session.Notifications != nil {
		session.Notifications.OnChange(func(realtime.NotificationSnapshot) {
			pr.println(headerStyle.Render("Notifications") + " " + renderBadge(session.Notifications.BadgeLabel()))
		})
	}

	failed := make(chan error, 1)
	session.Manager.OnStateChange(func(s realtime.Status) {
		switch s.State {
		case realtime.StateConnected:
			pr.println(statusStyle.Render("connecté"))
		case realtime.StateReconnecting:
			pr.println(statusStyle.Render(fmt.Sprintf("reconnexion (tentative %d)…", s.Attempt)))
		case realtime.StateDisconnected:
			if s.Err != nil {
				select {
				case failed <- s.Err:
				default:
				}
			}
		}
	})

	if err := session.Start(ctx); err != nil {
		if errors.Is(err, realtime.ErrUnauthorized) {
			return fmt.Errorf("session expired, run btpchat login again: %w", err)
		}
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				return nil
			case "/who":
				pr.println(renderRoster(session.Presence.Roster()))
				continue
			}
			session.Messages.SetDraft(line)
			if !session.Messages.Submit() && strings.TrimSpace(line) != "" {
				pr.println(statusStyle.Render("message non envoyé: hors ligne"))
			}
		}
	}
}
