package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Vault  VaultConfig       `yaml:"vault"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Engine EngineConfig      `yaml:"engine"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
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

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// EngineConfig tunes the synchronization engine. Windows are expressed in
// milliseconds, the way they appear in config files.
type EngineConfig struct {
	// DebounceMS is the per-path quiet period before a filesystem event
	// burst is forwarded to the engine.
	DebounceMS int `yaml:"debounce_ms"`
	// SettleWindowMS is how long a finished write of our own may still
	// echo back from the watcher and be ignored.
	SettleWindowMS int `yaml:"settle_window_ms"`
	// WriteCeilingMS caps how long an in-flight write suppresses events
	// for its path.
	WriteCeilingMS int `yaml:"write_ceiling_ms"`
	// RenameWindowMS is how long a removed file waits for a write
	// carrying the same note id before the removal counts as a delete.
	RenameWindowMS int `yaml:"rename_window_ms"`
	// OpenNoteTTLMS caps how long a note stays in the open-note registry
	// without a refresh.
	OpenNoteTTLMS int `yaml:"open_note_ttl_ms"`
	// ReconcileWorkers is the number of parallel file readers during a
	// reconciliation pass.
	ReconcileWorkers int `yaml:"reconcile_workers"`
	// GraphThrottleMS limits how often graph.updated events reach SSE
	// subscribers.
	GraphThrottleMS int `yaml:"graph_throttle_ms"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceMS, validation.Required, validation.Min(1)),
		validation.Field(&c.SettleWindowMS, validation.Required, validation.Min(1)),
		validation.Field(&c.WriteCeilingMS, validation.Required, validation.Min(1)),
		validation.Field(&c.RenameWindowMS, validation.Required, validation.Min(1)),
		validation.Field(&c.OpenNoteTTLMS, validation.Required, validation.Min(1)),
		validation.Field(&c.ReconcileWorkers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.GraphThrottleMS, validation.Required, validation.Min(1)),
	)
}

// Debounce returns the watcher debounce as a duration.
func (c *EngineConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// SettleWindow returns the settle window as a duration.
func (c *EngineConfig) SettleWindow() time.Duration {
	return time.Duration(c.SettleWindowMS) * time.Millisecond
}

// WriteCeiling returns the write ceiling as a duration.
func (c *EngineConfig) WriteCeiling() time.Duration {
	return time.Duration(c.WriteCeilingMS) * time.Millisecond
}

// RenameWindow returns the rename correlation window as a duration.
func (c *EngineConfig) RenameWindow() time.Duration {
	return time.Duration(c.RenameWindowMS) * time.Millisecond
}

// OpenNoteTTL returns the open-note registry TTL as a duration.
func (c *EngineConfig) OpenNoteTTL() time.Duration {
	return time.Duration(c.OpenNoteTTLMS) * time.Millisecond
}

// GraphThrottle returns the SSE graph throttle as a duration.
func (c *EngineConfig) GraphThrottle() time.Duration {
	return time.Duration(c.GraphThrottleMS) * time.Millisecond
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./othala.db",
		},
		Engine: EngineConfig{
			DebounceMS:       100,
			SettleWindowMS:   2000,
			WriteCeilingMS:   3000,
			RenameWindowMS:   1000,
			OpenNoteTTLMS:    1800000, // 30 minutes
			ReconcileWorkers: 8,
			GraphThrottleMS:  2000,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
