package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables overlaid on top of sortie.yml.
const (
	EnvConfig         = "SORTIE_CONFIG" // read by sortied only
	EnvRedisURL       = "SORTIE_REDIS_URL"
	EnvNamespace      = "SORTIE_NAMESPACE"
	EnvTeam           = "SORTIE_TEAM"
	EnvMember         = "SORTIE_MEMBER"
	EnvAPIAddr        = "SORTIE_API_ADDR"
	EnvAllowedOrigins = "SORTIE_ALLOWED_ORIGINS"
	EnvGinMode        = "GIN_MODE"
)

// LoadDotEnv loads variables from a .env file into the process environment. Variables
// already set win. A missing file is not an error.
func LoadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Config] Failed to load %s: %v", path, err)
	}
}

// ApplyEnv overrides configuration fields from the environment and re-validates.
func (c *SortieConfig) ApplyEnv() error {
	c.RedisURL = getEnv(EnvRedisURL, c.RedisURL)
	c.Namespace = getEnv(EnvNamespace, c.Namespace)
	c.Team = getEnv(EnvTeam, c.Team)
	c.Member = getEnv(EnvMember, c.Member)

	if c.API == nil {
		c.API = &APIConfig{}
	}
	c.API.Addr = getEnv(EnvAPIAddr, c.API.Addr)
	c.API.AllowedOrigins = getEnvFields(EnvAllowedOrigins, c.API.AllowedOrigins)
	c.API.GinMode = getEnv(EnvGinMode, c.API.GinMode)

	return c.Validate()
}

func getEnv(env, fallback string) string {
	if value, exists := os.LookupEnv(env); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvFields(env string, fallback []string) []string {
	value, exists := os.LookupEnv(env)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}

	var fields []string
	for _, f := range strings.Split(value, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
