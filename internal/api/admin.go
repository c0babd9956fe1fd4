package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"btplive/internal/auth"
	"btplive/internal/models"
)

type AdminHandler struct {
	authService *auth.AuthService
	notifier    *Notifier
}

func NewAdminHandler(authService *auth.AuthService, notifier *Notifier) *AdminHandler {
	return &AdminHandler{authService: authService, notifier: notifier}
}

type AddUserRequest struct {
	Email       string      `json:"email"`
	DisplayName string      `json:"displayName,omitempty"`
	Password    string      `json:"password,omitempty"`
	Role        models.Role `json:"role"`
}

type AddUserResponse struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	User     models.User `json:"user"`
	Password string      `json:"password,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Email
	}

	// the generated password is only ever shown in this response
	generated := ""
	if req.Password == "" {
		generated = rand.Text()
		req.Password = generated
	}

	user, err := h.authService.AddUser(req.Email, displayName, req.Password, req.Role)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		User:     user,
		Password: generated,
	})
}

// NotifyHandler publishes a notification on behalf of the platform.
func (h *AdminHandler) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	publishNotification(w, r, h.notifier, req)
}
