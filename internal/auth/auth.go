package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"btplive/internal/content"
	"btplive/internal/models"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	// Failed attempts allowed before the login backoff kicks in.
	freeLoginAttempts = 3
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrInvalidToken       = errors.New("invalid token")
)

type UserCredentials struct {
	models.User
	PasswordHash string
	// Consecutive failed login attempts, used to throttle brute force.
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// CredentialStore persists user credentials across restarts.
type CredentialStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
	BcryptCost  int           `json:"-"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}

	return nil
}

type claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type AuthService struct {
	Config
	store CredentialStore
	// keyed by lower-cased email
	users *geche.Locker[string, *UserCredentials]
	// user id -> email
	emails geche.Geche[string, string]
	// revoked token ids, kept until the token would have expired anyway
	revoked geche.Geche[string, string]
	now     func() time.Time
}

// NewAuthService loads the known users from store. store may be nil, in
// which case users only live in memory.
func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	as := &AuthService{
		Config:  config,
		store:   store,
		users:   geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		emails:  geche.NewMapCache[string, string](),
		revoked: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:     time.Now,
	}

	if store == nil {
		return as, nil
	}
	creds, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	tx := as.users.Lock()
	for i := range creds {
		c := creds[i]
		key := normalizeEmail(c.Email)
		tx.Set(key, &c)
		as.emails.Set(c.ID, key)
	}
	tx.Unlock()

	return as, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (as *AuthService) AddUser(email, displayName, password string, role models.Role) (models.User, error) {
	key := normalizeEmail(email)
	if key == "" || !strings.Contains(key, "@") {
		return models.User{}, fmt.Errorf("invalid email %q", email)
	}
	if err := content.ValidateDisplayName(displayName); err != nil {
		return models.User{}, err
	}
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), as.BcryptCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(key); err == nil {
		return models.User{}, ErrUserExists
	}

	creds := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			Email:       key,
			DisplayName: strings.TrimSpace(displayName),
			Role:        role,
		},
		PasswordHash: string(hash),
	}
	if as.store != nil {
		if err := as.store.UpsertCredentials(*creds); err != nil {
			return models.User{}, fmt.Errorf("failed to store user: %w", err)
		}
	}
	tx.Set(key, creds)
	as.emails.Set(creds.ID, key)

	return creds.User, nil
}

// Login checks the password and issues a bearer token.
func (as *AuthService) Login(email, password string) (models.LoginResponse, error) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()

	user, err := tx.Get(normalizeEmail(email))
	if err != nil {
		return models.LoginResponse{}, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > freeLoginAttempts {
		failed := user.FailedLoginAttempts
		nextAttempt := user.LastAttemptTime + 30*(failed*failed)
		if now.Unix() < nextAttempt {
			return models.LoginResponse{}, fmt.Errorf("%w: next attempt in %d seconds", ErrTooManyAttempts, nextAttempt-now.Unix())
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.IncrementFailedLoginAttempts(now)
		return models.LoginResponse{}, ErrInvalidCredentials
	}

	token, expiry, err := as.generateToken(user.User, now)
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return models.LoginResponse{}, err
	}
	user.ResetFailedLoginAttempts(now)

	return models.LoginResponse{
		Token:       token,
		TokenExpiry: expiry.Unix(),
		User:        user.User,
	}, nil
}

// Logoff revokes the token until its natural expiry.
func (as *AuthService) Logoff(token string) error {
	c, err := as.parse(token)
	if err != nil {
		return err
	}
	as.revoked.Set(c.ID, c.Subject)
	return nil
}

// GetUser resolves a bearer token to the current user record.
func (as *AuthService) GetUser(token string) (models.User, error) {
	c, err := as.parse(token)
	if err != nil {
		return models.User{}, err
	}
	if _, err := as.revoked.Get(c.ID); err == nil {
		return models.User{}, ErrInvalidToken
	}
	user, err := as.GetUserByID(c.Subject)
	if err != nil {
		return models.User{}, ErrInvalidToken
	}
	return user, nil
}

func (as *AuthService) GetUserID(token string) (string, error) {
	user, err := as.GetUser(token)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (as *AuthService) GetUserByID(id string) (models.User, error) {
	email, err := as.emails.Get(id)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	creds, err := tx.Get(email)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	return creds.User, nil
}

func (as *AuthService) generateToken(user models.User, now time.Time) (string, time.Time, error) {
	expiry := now.Add(as.TokenExpiry)
	c := claims{
		Name: user.DisplayName,
		Role: user.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(as.secretBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiry, nil
}

func (as *AuthService) parse(token string) (*claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return as.secretBytes, nil
	}, jwt.WithTimeFunc(as.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" || c.ID == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}
