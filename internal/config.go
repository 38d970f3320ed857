package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var ruleIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Rules     RulesConfig       `yaml:"rules"`
	Inventory InventoryConfig   `yaml:"inventory"`
	Remote    RemoteConfig      `yaml:"remote"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if err := c.Inventory.Validate(); err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// SSEThrottle is the minimum interval between progress events sent to
	// SSE clients.
	SSEThrottle time.Duration `yaml:"sse_throttle"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.SSEThrottle < 0 {
		return errors.New("app: sse_throttle must not be negative")
	}
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

// RulesConfig holds the rules directory and view settings.
type RulesConfig struct {
	Dir string `yaml:"dir"`
	// InitialRuleID is selected until the user picks another rule.
	InitialRuleID string `yaml:"initial_rule_id"`
	// Keyword restricts the published view to matching rules.
	Keyword string `yaml:"keyword"`
	// Watch re-indexes and refreshes when rule documents or the inventory
	// file change on disk.
	Watch bool `yaml:"watch"`
}

// Validate validates the rules configuration.
func (c *RulesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.InitialRuleID, validation.Match(ruleIDRe)),
	)
}

// InventoryConfig points at the installed-app inventory file.
type InventoryConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the inventory configuration.
func (c *InventoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RemoteConfig configures the remote rule bundle. An empty URL disables
// downloading; sync then only re-indexes the rules directory.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether a remote bundle is configured.
func (c *RemoteConfig) Enabled() bool {
	return c.URL != ""
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.By(httpURL)),
		validation.Field(&c.Timeout,
			validation.When(c.Enabled(), validation.Required, validation.Min(time.Duration(0)))),
	)
}

func httpURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
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
			SSEThrottle: 250 * time.Millisecond,
		},
		Rules: RulesConfig{
			Dir:   "./rules",
			Watch: true,
		},
		Inventory: InventoryConfig{
			Path: "./apps.yaml",
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "./generalrules.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
