package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sortie.yml")

	validConfig := `version: "1.0"
redis_url: "redis://localhost:6379/2"
namespace: "hackathon"
team: "4f9c2c3e-4e8b-4b7a-9d2f-1f2e3d4c5b6a"
economy:
  task_xp: 25
typing:
  ttl: 5s
api:
  addr: ":9090"
  allowed_origins: ["http://localhost:5173"]
`
	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "hackathon", config.Namespace)
	assert.Equal(t, 25, *config.Economy.TaskXP)
	assert.Equal(t, 100, *config.Economy.BountyXP, "omitted economy fields get defaults")
	assert.Equal(t, 5*time.Second, config.Typing.TTL)
	assert.Equal(t, time.Second, config.Countdown.Interval)
	assert.Equal(t, ":9090", config.API.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, config.API.AllowedOrigins)

	opts, err := config.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/sortie.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sortie.yml")

	invalidYAML := `version: "1.0"
economy:
  - this is invalid
    yaml syntax
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate(t *testing.T) {
	valid := func() *SortieConfig {
		return &SortieConfig{Version: "1.0", RedisURL: "redis://localhost:6379", Namespace: "default"}
	}
	negative := -1

	tests := []struct {
		name    string
		mutate  func(c *SortieConfig)
		wantErr string
	}{
		{"unsupported version", func(c *SortieConfig) { c.Version = "2.0" }, "unsupported version: 2.0"},
		{"missing redis url", func(c *SortieConfig) { c.RedisURL = "" }, "redis_url is required"},
		{"bad redis url", func(c *SortieConfig) { c.RedisURL = "http://nope" }, "invalid redis_url"},
		{"uppercase namespace", func(c *SortieConfig) { c.Namespace = "Prod" }, "invalid namespace"},
		{"empty namespace", func(c *SortieConfig) { c.Namespace = "" }, "namespace cannot be empty"},
		{"bad team", func(c *SortieConfig) { c.Team = "team-1" }, "invalid team"},
		{"bad member", func(c *SortieConfig) { c.Member = "me" }, "invalid member"},
		{"negative xp", func(c *SortieConfig) { c.Economy = &EconomyConfig{BountyXP: &negative} }, "economy.bounty_xp must be >= 0"},
		{"negative typing ttl", func(c *SortieConfig) { c.Typing = &TypingConfig{TTL: -time.Second} }, "typing.ttl must be positive"},
		{"tiny presence ttl", func(c *SortieConfig) { c.Presence = &PresenceConfig{TTL: time.Second} }, "presence.ttl must be at least 3s"},
		{"bad gin mode", func(c *SortieConfig) { c.API = &APIConfig{GinMode: "loud"} }, "invalid api.gin_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "default", c.Namespace)
	assert.Equal(t, 50, *c.Economy.TaskXP)
	assert.Equal(t, 100, *c.Economy.CompletionBonusXP)
	assert.Equal(t, 3*time.Second, c.Typing.TTL)
	assert.Equal(t, 30*time.Second, c.Presence.TTL)
	assert.Equal(t, ":8080", c.API.Addr)
	assert.Equal(t, []string{"*"}, c.API.AllowedOrigins)
	assert.Equal(t, "release", c.API.GinMode)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sortie.yml")
	c := Default()
	c.Team = "4f9c2c3e-4e8b-4b7a-9d2f-1f2e3d4c5b6a"
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Team, loaded.Team)
	assert.Equal(t, c.Typing.TTL, loaded.Typing.TTL)
}

func TestLoadOrDefault(t *testing.T) {
	c, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SORTIE_NAMESPACE=from-dotenv\nSORTIE_API_ADDR=:7000\n"), 0644))

	t.Setenv(EnvNamespace, "")
	t.Setenv(EnvAPIAddr, "")
	os.Unsetenv(EnvNamespace)
	os.Unsetenv(EnvAPIAddr)
	t.Setenv(EnvAllowedOrigins, "https://a.example, https://b.example")
	t.Setenv(EnvRedisURL, "redis://cache:6380/1")

	LoadDotEnv(envPath)
	LoadDotEnv(filepath.Join(dir, "missing.env"))

	c := Default()
	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, "from-dotenv", c.Namespace)
	assert.Equal(t, ":7000", c.API.Addr)
	assert.Equal(t, "redis://cache:6380/1", c.RedisURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.API.AllowedOrigins)

	t.Setenv(EnvNamespace, "Bad Name")
	assert.Error(t, Default().ApplyEnv())
}
