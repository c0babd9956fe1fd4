package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"btplive/internal/models"
)

type memStore struct {
	creds map[string]UserCredentials
}

func (m *memStore) UpsertCredentials(c UserCredentials) error {
	m.creds[c.ID] = c
	return nil
}

func (m *memStore) ListCredentials() ([]UserCredentials, error) {
	out := make([]UserCredentials, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	return out, nil
}

func TestAuthService(t *testing.T) {
	const t0Unix = 1700000000

	createService := func(t *testing.T, store CredentialStore) (*AuthService, *time.Time) {
		cfg := Config{
			Secret:      base64.StdEncoding.EncodeToString([]byte("server-secret")),
			TokenExpiry: time.Hour,
			BcryptCost:  bcrypt.MinCost,
		}

		svc, err := NewAuthService(context.Background(), cfg, store)
		if err != nil {
			t.Fatalf("Failed to create service: %v", err)
		}

		currentTime := time.Unix(t0Unix, 0)
		svc.now = func() time.Time {
			return currentTime
		}

		return svc, &currentTime
	}

	t.Run("AddUser", func(t *testing.T) {
		svc, _ := createService(t, nil)

		u1, err := svc.AddUser("Alice@BTP.fr", "Alice Martin", "password1", models.RoleTrainer)
		if err != nil {
			t.Fatalf("Failed to add user: %v", err)
		}
		if u1.Email != "alice@btp.fr" {
			t.Errorf("Expected normalized email, got %s", u1.Email)
		}
		if u1.ID == "" {
			t.Error("Expected generated user id")
		}

		_, err = svc.AddUser("alice@btp.fr", "Other", "password2", models.RoleClient)
		if !errors.Is(err, ErrUserExists) {
			t.Errorf("Expected ErrUserExists, got %v", err)
		}
	})

	t.Run("AddUser_Validation", func(t *testing.T) {
		svc, _ := createService(t, nil)
		tests := []struct {
			name, email, display, password string
		}{
			{"no email", "", "Bob", "password1"},
			{"bad email", "bob", "Bob", "password1"},
			{"empty name", "bob@btp.fr", "", "password1"},
			{"html name", "bob@btp.fr", "<b>Bob</b>", "password1"},
			{"short password", "bob@btp.fr", "Bob", "short"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := svc.AddUser(tt.email, tt.display, tt.password, models.RoleClient); err == nil {
					t.Error("Expected validation error")
				}
			})
		}
	})

	t.Run("Login_Success", func(t *testing.T) {
		svc, now := createService(t, nil)
		created, err := svc.AddUser("alice@btp.fr", "Alice", "password1", models.RoleAdmin)
		if err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}

		resp, err := svc.Login("alice@btp.fr", "password1")
		if err != nil {
			t.Fatalf("Expected login success, got %v", err)
		}
		if resp.Token == "" {
			t.Fatal("Expected token")
		}
		if resp.TokenExpiry != now.Add(time.Hour).Unix() {
			t.Errorf("Unexpected expiry %d", resp.TokenExpiry)
		}
		if resp.User.ID != created.ID || resp.User.Role != models.RoleAdmin {
			t.Errorf("Unexpected user in response: %+v", resp.User)
		}

		user, err := svc.GetUser(resp.Token)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if user.DisplayName != "Alice" {
			t.Errorf("Expected Alice, got %s", user.DisplayName)
		}
	})

	t.Run("Login_Failures", func(t *testing.T) {
		svc, _ := createService(t, nil)
		if _, err := svc.AddUser("alice@btp.fr", "Alice", "password1", models.RoleClient); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}

		tests := []struct {
			name     string
			email    string
			password string
		}{
			{"Wrong Password", "alice@btp.fr", "wrong-password"},
			{"Unknown User", "nobody@btp.fr", "password1"},
			{"Empty Password", "alice@btp.fr", ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := svc.Login(tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
					t.Errorf("Expected ErrInvalidCredentials, got %v", err)
				}
			})
		}
	})

	t.Run("Security_Throttling", func(t *testing.T) {
		svc, now := createService(t, nil)
		if _, err := svc.AddUser("alice@btp.fr", "Alice", "password1", models.RoleClient); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}

		for i := 0; i < 4; i++ {
			_, _ = svc.Login("alice@btp.fr", "bad-password")
		}

		// correct password is refused while throttled
		if _, err := svc.Login("alice@btp.fr", "password1"); !errors.Is(err, ErrTooManyAttempts) {
			t.Fatalf("Expected ErrTooManyAttempts, got %v", err)
		}

		// 4 failures -> 30*16 seconds of backoff
		*now = now.Add(481 * time.Second)
		if _, err := svc.Login("alice@btp.fr", "password1"); err != nil {
			t.Fatalf("Expected login after backoff, got %v", err)
		}
	})

	t.Run("Logoff", func(t *testing.T) {
		svc, _ := createService(t, nil)
		if _, err := svc.AddUser("alice@btp.fr", "Alice", "password1", models.RoleClient); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}
		resp, err := svc.Login("alice@btp.fr", "password1")
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		other, err := svc.Login("alice@btp.fr", "password1")
		if err != nil {
			t.Fatalf("second login failed: %v", err)
		}

		if err := svc.Logoff(resp.Token); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}
		if _, err := svc.GetUser(resp.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected revoked token to be rejected, got %v", err)
		}
		if _, err := svc.GetUser(other.Token); err != nil {
			t.Errorf("Other session must survive logoff, got %v", err)
		}
	})

	t.Run("Token_Expiry", func(t *testing.T) {
		svc, now := createService(t, nil)
		if _, err := svc.AddUser("alice@btp.fr", "Alice", "password1", models.RoleClient); err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}
		resp, err := svc.Login("alice@btp.fr", "password1")
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}

		*now = now.Add(2 * time.Hour)
		if _, err := svc.GetUser(resp.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected expired token to be rejected, got %v", err)
		}
	})

	t.Run("Token_Tampered", func(t *testing.T) {
		svc, _ := createService(t, nil)
		if _, err := svc.GetUser("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
		if _, err := svc.GetUser(""); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken for empty token, got %v", err)
		}

		foreign, _ := createService(t, nil)
		foreign.Secret = base64.StdEncoding.EncodeToString([]byte("other-secret"))
		if err := foreign.Validate(); err != nil {
			t.Fatal(err)
		}
		if _, err := foreign.AddUser("alice@btp.fr", "Alice", "password1", models.RoleClient); err != nil {
			t.Fatal(err)
		}
		resp, err := foreign.Login("alice@btp.fr", "password1")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetUser(resp.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected token signed with another secret to be rejected, got %v", err)
		}
	})

	t.Run("Persistence", func(t *testing.T) {
		store := &memStore{creds: make(map[string]UserCredentials)}
		svc, _ := createService(t, store)
		created, err := svc.AddUser("alice@btp.fr", "Alice", "password1", models.RoleStudent)
		if err != nil {
			t.Fatalf("failed to add user: %v", err)
		}
		if len(store.creds) != 1 {
			t.Fatalf("Expected user to be stored, got %d", len(store.creds))
		}

		reloaded, _ := createService(t, store)
		resp, err := reloaded.Login("alice@btp.fr", "password1")
		if err != nil {
			t.Fatalf("login on reloaded service failed: %v", err)
		}
		if resp.User.ID != created.ID {
			t.Errorf("Expected id %s, got %s", created.ID, resp.User.ID)
		}
		user, err := reloaded.GetUserByID(created.ID)
		if err != nil || user.Role != models.RoleStudent {
			t.Errorf("GetUserByID = %+v, %v", user, err)
		}
	})
}
