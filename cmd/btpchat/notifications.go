package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"btplive/internal/realtime"
)

func newNotificationsCmd(opts *rootOptions) *cobra.Command {
	var markAll bool

	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notifs"},
		Short:   "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := opts.authenticated()
			if err != nil {
				return err
			}

			n := realtime.NewNotifications(client, realtime.NotificationsConfig{})
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := n.Load(ctx); err != nil {
				return err
			}

			if markAll {
				if err := n.MarkAllAsRead(ctx); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("Notifications") + " " + renderBadge(n.BadgeLabel()))
			items := n.Notifications()
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), statusStyle.Render("Aucune notification"))
			}
			for _, item := range items {
				fmt.Fprintln(cmd.OutOrStdout(), renderNotification(item))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markAll, "mark-all-read", false, "Mark every notification as read")

	cmd.AddCommand(&cobra.Command{
		Use:   "read <id>",
		Short: "Mark one notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := opts.authenticated()
			if err != nil {
				return err
			}

			n := realtime.NewNotifications(client, realtime.NotificationsConfig{})
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := n.Load(ctx); err != nil {
				return err
			}
			if err := n.MarkAsRead(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderBadge(n.BadgeLabel()))
			return nil
		},
	})
	return cmd
}
