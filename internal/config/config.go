package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for the workspace configuration.
const DefaultPath = "sortie.yml"

// MaxNamespaceLength is the maximum length of a deployment namespace (DNS-compatible)
const MaxNamespaceLength = 63

// NamespacePattern: lowercase alphanumeric, hyphens allowed but not at start/end
var NamespacePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// EconomyConfig sets the XP amounts applied at mission completion
type EconomyConfig struct {
	TaskXP            *int `yaml:"task_xp,omitempty"`             // Per done task, default 50
	BountyXP          *int `yaml:"bounty_xp,omitempty"`           // Per completed bounty, default 100
	CompletionBonusXP *int `yaml:"completion_bonus_xp,omitempty"` // Flat per member, default 100
}

// TypingConfig tunes the typing indicator
type TypingConfig struct {
	TTL time.Duration `yaml:"ttl,omitempty"` // Default 3s
}

// CountdownConfig tunes the mission countdown display
type CountdownConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"` // Default 1s
}

// PresenceConfig tunes transport-level presence liveness
type PresenceConfig struct {
	TTL time.Duration `yaml:"ttl,omitempty"` // Default 30s
}

// APIConfig configures the HTTP server started by `sortie serve` and sortied
type APIConfig struct {
	Addr           string   `yaml:"addr,omitempty"`            // Default ":8080"
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"` // Default ["*"]
	GinMode        string   `yaml:"gin_mode,omitempty"`        // debug, release or test; default release
}

// SortieConfig represents the top-level sortie.yml configuration
type SortieConfig struct {
	Version   string           `yaml:"version"`
	RedisURL  string           `yaml:"redis_url"`
	Namespace string           `yaml:"namespace"`
	Team      string           `yaml:"team,omitempty"`   // Current team ID, written by `team create|join`
	Member    string           `yaml:"member,omitempty"` // Current member ID, written by `team create|join`
	Economy   *EconomyConfig   `yaml:"economy,omitempty"`
	Typing    *TypingConfig    `yaml:"typing,omitempty"`
	Countdown *CountdownConfig `yaml:"countdown,omitempty"`
	Presence  *PresenceConfig  `yaml:"presence,omitempty"`
	API       *APIConfig       `yaml:"api,omitempty"`
}

// Default returns a validated configuration pointing at a local Redis.
func Default() *SortieConfig {
	cfg := &SortieConfig{
		Version:   "1.0",
		RedisURL:  "redis://localhost:6379/0",
		Namespace: "default",
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate performs strict validation on the configuration and fills in defaults for
// every omitted section.
func (c *SortieConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}
	if _, err := redis.ParseURL(c.RedisURL); err != nil {
		return fmt.Errorf("invalid redis_url: %w", err)
	}

	if err := ValidateNamespace(c.Namespace); err != nil {
		return err
	}

	if c.Team != "" {
		if _, err := uuid.Parse(c.Team); err != nil {
			return fmt.Errorf("invalid team: not a valid UUID")
		}
	}
	if c.Member != "" {
		if _, err := uuid.Parse(c.Member); err != nil {
			return fmt.Errorf("invalid member: not a valid UUID")
		}
	}

	if c.Economy == nil {
		c.Economy = &EconomyConfig{}
	}
	for name, field := range map[string]**int{
		"task_xp":             &c.Economy.TaskXP,
		"bounty_xp":           &c.Economy.BountyXP,
		"completion_bonus_xp": &c.Economy.CompletionBonusXP,
	} {
		if *field == nil {
			v := defaultEconomy[name]
			*field = &v
		}
		if **field < 0 {
			return fmt.Errorf("economy.%s must be >= 0, got %d", name, **field)
		}
	}

	if c.Typing == nil {
		c.Typing = &TypingConfig{}
	}
	if c.Typing.TTL == 0 {
		c.Typing.TTL = 3 * time.Second
	}
	if c.Typing.TTL < 0 {
		return fmt.Errorf("typing.ttl must be positive, got %s", c.Typing.TTL)
	}

	if c.Countdown == nil {
		c.Countdown = &CountdownConfig{}
	}
	if c.Countdown.Interval == 0 {
		c.Countdown.Interval = time.Second
	}
	if c.Countdown.Interval < 0 {
		return fmt.Errorf("countdown.interval must be positive, got %s", c.Countdown.Interval)
	}

	if c.Presence == nil {
		c.Presence = &PresenceConfig{}
	}
	if c.Presence.TTL == 0 {
		c.Presence.TTL = 30 * time.Second
	}
	if c.Presence.TTL < 3*time.Second {
		return fmt.Errorf("presence.ttl must be at least 3s, got %s", c.Presence.TTL)
	}

	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	switch c.API.GinMode {
	case "":
		c.API.GinMode = "release"
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid api.gin_mode: %s (must be 'debug', 'release' or 'test')", c.API.GinMode)
	}

	return nil
}

var defaultEconomy = map[string]int{
	"task_xp":             50,
	"bounty_xp":           100,
	"completion_bonus_xp": 100,
}

// ValidateNamespace checks a deployment namespace against DNS naming rules.
func ValidateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if len(name) > MaxNamespaceLength {
		return fmt.Errorf("namespace too long: %d characters (max: %d)", len(name), MaxNamespaceLength)
	}
	if !NamespacePattern.MatchString(name) {
		return fmt.Errorf("invalid namespace '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// RedisOptions parses redis_url into client options.
func (c *SortieConfig) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis_url: %w", err)
	}
	return opts, nil
}

// Load reads and validates sortie.yml from the specified path
func Load(path string) (*SortieConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config SortieConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*SortieConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes the configuration as YAML.
func (c *SortieConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
