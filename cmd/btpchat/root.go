package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"btplive/internal/config"
	"btplive/internal/restclient"
)

type rootOptions struct {
	profilePath string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "btpchat",
		Short: "Terminal client for the BTP realtime chat",
		Long: `btpchat connects to the BTP platform chat and notification bell.

Quick Start:
  btpchat login --email you@btp.fr     # store a token in ~/.btpchat.yaml
  btpchat chat                         # join the conversation
  btpchat notifications                # list notifications`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.profilePath, "profile", config.DefaultProfilePath(), "Path to the profile file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(
		newLoginCmd(opts),
		newChatCmd(opts),
		newNotificationsCmd(opts),
	)
	return cmd
}

func (o *rootOptions) profile() (*config.Profile, error) {
	return config.LoadProfile(o.profilePath)
}

// authenticated loads the profile and fails when there is no token yet.
func (o *rootOptions) authenticated() (*config.Profile, *restclient.Client, error) {
	p, err := o.profile()
	if err != nil {
		return nil, nil, err
	}
	if p.Token == "" {
		return nil, nil, fmt.Errorf("not logged in, run btpchat login first")
	}
	return p, restclient.New(p.Server, p.Token), nil
}

// chatURL maps the REST base URL to the websocket endpoint.
func chatURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat"
	return u.String(), nil
}
