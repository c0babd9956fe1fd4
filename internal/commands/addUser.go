package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"btplive/internal/api"
	"btplive/internal/config"
	"btplive/internal/models"
)

// AddUser asks the running server to create a user and prints the
// generated password.
func AddUser(email, displayName string, role models.Role, cfg *config.Config, out io.Writer) error {
	var result api.AddUserResponse
	if err := postAdmin(cfg, "/admin/users", api.AddUserRequest{
		Email:       email,
		DisplayName: displayName,
		Role:        role,
	}, &result, http.StatusOK); err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	_, _ = fmt.Fprintf(out, "\nUser Created Successfully!\n")
	_, _ = fmt.Fprintf(out, "ID:        %s\n", result.User.ID)
	_, _ = fmt.Fprintf(out, "Email:     %s\n", result.User.Email)
	_, _ = fmt.Fprintf(out, "Role:      %s\n", result.User.Role)
	_, _ = fmt.Fprintf(out, "Password:  %s\n\n", result.Password)
	_, _ = fmt.Fprintln(out, "Please share the password with the user over a secure channel.")
	return nil
}

func postAdmin(cfg *config.Config, path string, body, out any, wantStatus int) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.AdminAddr, path)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
