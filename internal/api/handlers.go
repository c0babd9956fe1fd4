package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"btplive/internal/auth"
	"btplive/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type MarkAllReadResponse struct {
	Updated int `json:"updated"`
}

type VAPIDKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// HistorySource serves recent chat messages.
type HistorySource interface {
	History(limit int) []models.Message
}

type API struct {
	auth           *auth.AuthService
	store          NotificationStore
	notifier       *Notifier
	history        HistorySource
	vapidPublicKey string
	logger         *slog.Logger
}

type Config struct {
	Auth     *auth.AuthService
	Store    NotificationStore
	Notifier *Notifier
	History  HistorySource
	// VAPIDPublicKey is handed to browsers subscribing to web push. Empty
	// when web push is disabled.
	VAPIDPublicKey string
	Logger         *slog.Logger
}

func New(config Config) *API {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &API{
		auth:           config.Auth,
		store:          config.Store,
		notifier:       config.Notifier,
		history:        config.History,
		vapidPublicKey: config.VAPIDPublicKey,
		logger:         config.Logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIResponse{Success: false, Message: message})
}

func limitParam(r *http.Request, fallback, maximum int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	return min(limit, maximum)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := a.auth.Login(req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	case err != nil:
		a.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

func (a *API) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	items, err := a.store.ListNotifications(user.ID, limitParam(r, defaultListLimit, maxListLimit))
	if err != nil {
		a.logger.Error("failed to list notifications", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	count, err := a.store.UnreadCount(user.ID)
	if err != nil {
		a.logger.Error("failed to count notifications", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, models.UnreadCount{Count: count})
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Notification id is required")
		return
	}

	if err := a.store.MarkRead(user.ID, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Notification not found")
			return
		}
		a.logger.Error("failed to mark notification read", "user_id", user.ID, "notification_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	updated, err := a.store.MarkAllRead(user.ID)
	if err != nil {
		a.logger.Error("failed to mark notifications read", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, MarkAllReadResponse{Updated: updated})
}

// CreateNotificationHandler lets administrators and trainers notify a user.
func (a *API) CreateNotificationHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	if !user.Role.CanPublishNotifications() {
		writeError(w, http.StatusForbidden, "Not allowed to publish notifications")
		return
	}

	var req models.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	publishNotification(w, r, a.notifier, req)
}

func publishNotification(w http.ResponseWriter, r *http.Request, notifier *Notifier, req models.CreateNotificationRequest) {
	n, err := notifier.Publish(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidNotification):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Recipient not found")
	case err != nil:
		slog.Error("failed to publish notification", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to publish notification")
	default:
		writeJSON(w, http.StatusCreated, n)
	}
}

func (a *API) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validEndpoint(sub.Endpoint) || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "Invalid push subscription")
		return
	}

	if err := a.store.UpsertSubscription(user.ID, sub); err != nil {
		a.logger.Error("failed to store subscription", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store subscription")
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true})
}

func (a *API) UnsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := a.store.DeleteSubscription(user.ID, sub.Endpoint); err != nil {
		a.logger.Error("failed to delete subscription", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) VAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	if a.vapidPublicKey == "" {
		writeError(w, http.StatusNotFound, "Web push is disabled")
		return
	}
	writeJSON(w, http.StatusOK, VAPIDKeyResponse{PublicKey: a.vapidPublicKey})
}

// HistoryHandler returns the most recent chat messages, oldest first.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.history.History(limitParam(r, defaultListLimit, maxListLimit)))
}

func validEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
