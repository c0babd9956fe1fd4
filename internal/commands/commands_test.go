package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"btplive/internal/api"
	"btplive/internal/config"
	"btplive/internal/models"
)

func TestCommands(t *testing.T) {
	var gotUser api.AddUserRequest
	var gotNotification models.CreateNotificationRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotUser))
		if gotUser.Email == "taken@btp.fr" {
			http.Error(w, "user already exists", http.StatusConflict)
			return
		}
		_ = json.NewEncoder(w).Encode(api.AddUserResponse{
			Success:  true,
			User:     models.User{ID: "u1", Email: gotUser.Email, Role: gotUser.Role},
			Password: "generated-secret",
		})
	})
	mux.HandleFunc("POST /admin/notifications", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotNotification))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Notification{ID: "n1", Title: gotNotification.Title})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}

	t.Run("add user", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, AddUser("formateur@btp.fr", "Claire", models.RoleTrainer, cfg, &out))
		require.Equal(t, models.RoleTrainer, gotUser.Role)
		require.Contains(t, out.String(), "generated-secret")
		require.Contains(t, out.String(), "FORMATEUR")
	})

	t.Run("add user conflict", func(t *testing.T) {
		err := AddUser("taken@btp.fr", "", models.RoleClient, cfg, &bytes.Buffer{})
		require.ErrorContains(t, err, "409")
	})

	t.Run("notify", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, Notify(models.CreateNotificationRequest{
			UserID: "u1", Title: "Nouveau devis", Message: "Devis #42", Type: models.NotificationDevis,
		}, cfg, &out))
		require.Equal(t, models.NotificationDevis, gotNotification.Type)
		require.Contains(t, out.String(), "Notification n1 sent to u1")
	})
}
