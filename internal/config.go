package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// EnvPrefix is the prefix of environment variables overriding the config file.
const EnvPrefix = "DUETOLOGY_"

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `koanf:"app"`
	SQLite SQLiteConfig      `koanf:"sqlite"`
	Auth   AuthConfig        `koanf:"auth"`
	Guard  GuardConfig       `koanf:"guard"`
	Events EventsConfig      `koanf:"events"`
	Client ClientConfig      `koanf:"client"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Guard.Validate(); err != nil {
		return err
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}
	return c.Client.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `koanf:"log_level"`
	HTTP     HTTPConfig `koanf:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `koanf:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `koanf:"mode"`
	Token string `koanf:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// GuardConfig bounds the store round trips of a vote.
type GuardConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Validate validates the guard configuration.
func (c *GuardConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(100*time.Millisecond), validation.Max(time.Minute)),
	)
}

// EventsConfig tunes the SSE snapshot feed.
type EventsConfig struct {
	Buffer    int           `koanf:"buffer"`
	KeepAlive time.Duration `koanf:"keep_alive"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Buffer, validation.Required, validation.Min(1), validation.Max(1024)),
		validation.Field(&c.KeepAlive, validation.Required, validation.Min(time.Second)),
	)
}

// ClientConfig is used by the client commands talking to a running server.
type ClientConfig struct {
	Server   string `koanf:"server"`
	Token    string `koanf:"token"`
	StateDir string `koanf:"state_dir"`
	// Atomic makes votes use the server-side increment.
	Atomic bool `koanf:"atomic"`
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.Required, is.URL),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./duetology.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Guard: GuardConfig{
			Timeout: 3 * time.Second,
		},
		Events: EventsConfig{
			Buffer:    64,
			KeepAlive: 15 * time.Second,
		},
		Client: ClientConfig{
			Server: "http://localhost:8080",
		},
	}
}
