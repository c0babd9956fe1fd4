package commands

import (
	"fmt"
	"io"
	"net/http"

	"btplive/internal/config"
	"btplive/internal/models"
)

// Notify publishes a notification to a user through the admin API.
func Notify(req models.CreateNotificationRequest, cfg *config.Config, out io.Writer) error {
	var n models.Notification
	if err := postAdmin(cfg, "/admin/notifications", req, &n, http.StatusCreated); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Notification %s sent to %s\n", n.ID, req.UserID)
	return nil
}
