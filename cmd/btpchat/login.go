package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"btplive/internal/restclient"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		email    string
		password string
		server   string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token in the profile",
		Long: `Log in with email and password. The bearer token is saved in the profile
file (owner-only permissions) and used by the other commands.

When --password is omitted it is read from the first line of stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.profile()
			if err != nil {
				return err
			}
			if server != "" {
				p.Server = server
			}
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if password == "" {
				cmd.PrintErr("Mot de passe: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			resp, err := restclient.New(p.Server, "").Login(ctx, email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			p.Token = resp.Token
			p.UserID = resp.User.ID
			p.Name = resp.User.DisplayName
			if err := p.Save(opts.profilePath); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render(fmt.Sprintf("Connecté en tant que %s (%s)", resp.User.DisplayName, resp.User.Role)))
			fmt.Fprintf(cmd.OutOrStdout(), "Session valide jusqu'au %s\n", time.Unix(resp.TokenExpiry, 0).Format("02/01/2006 15:04"))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when empty)")
	cmd.Flags().StringVar(&server, "server", "", "Server base URL, saved in the profile")
	return cmd
}
