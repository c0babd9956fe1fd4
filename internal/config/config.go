package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBFile      string
	AdminAddr   string
	APIAddr     string
	AuthSecret  string
	TokenExpiry time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:          getEnv("BTP_DB", "btplive.db"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		AuthSecret:      os.Getenv("AUTH_SECRET"),
		TokenExpiry:     tokenExpiry,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@btp.local"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

// WebPushEnabled reports whether VAPID keys were configured.
func (c *Config) WebPushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Profile is the client side configuration of btpchat, read from a YAML
// file and overlaid by BTP_SERVER and BTP_TOKEN.
type Profile struct {
	Server    string           `yaml:"server"`
	Token     string           `yaml:"token,omitempty"`
	UserID    string           `yaml:"userId,omitempty"`
	Name      string           `yaml:"name,omitempty"`
	LocalEcho bool             `yaml:"localEcho"`
	Reconnect ReconnectProfile `yaml:"reconnect"`
}

type ReconnectProfile struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

func DefaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btpchat.yaml"
	}
	return filepath.Join(home, ".btpchat.yaml")
}

// LoadProfile reads the profile at path. A missing file yields the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := &Profile{
		Server:    "http://localhost:8080",
		LocalEcho: true,
		Reconnect: ReconnectProfile{
			Attempts:     5,
			InitialDelay: time.Second,
			MaxDelay:     5 * time.Second,
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read profile: %w", err)
	default:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
		}
	}

	p.Server = getEnv("BTP_SERVER", p.Server)
	p.Token = getEnv("BTP_TOKEN", p.Token)
	if v, ok := os.LookupEnv("BTP_LOCAL_ECHO"); ok {
		echo, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("BTP_LOCAL_ECHO: %w", err)
		}
		p.LocalEcho = echo
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) Validate() error {
	if p.Server == "" {
		return fmt.Errorf("server is required")
	}
	if p.Reconnect.Attempts < 0 {
		return fmt.Errorf("reconnect attempts must not be negative")
	}
	if p.Reconnect.InitialDelay < 0 || p.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	return nil
}

// Save writes the profile with owner-only permissions since it holds the
// bearer token.
func (p *Profile) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
