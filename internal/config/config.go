package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string   `json:"serverAddress"`
	DatabasePath  string   `json:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl"`
	Sync          Sync     `json:"sync"`
	Security      Security `json:"security"`
	Push          Push     `json:"push"`
}

// Sync configuration for the terminal protocol
type Sync struct {
	LivenessWindowSeconds int `json:"livenessWindowSeconds"`
	ErrorLogLimit         int `json:"errorLogLimit"`
	TokenExpiresInSeconds int `json:"tokenExpiresInSeconds"`
}

// Security configuration
type Security struct {
	TokenHeader    string `json:"tokenHeader"`
	ManagerPinHash string `json:"managerPinHash"`
}

// Push configures Firebase wake-ups for terminals that registered a device
// token. An empty CredentialsPath disables them.
type Push struct {
	CredentialsPath string `json:"credentialsPath"`
}

// Enabled reports whether device pushes are configured
func (p Push) Enabled() bool {
	return p.CredentialsPath != ""
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// LivenessWindow is the age after which a terminal is reported OFFLINE
func (s Sync) LivenessWindow() time.Duration {
	return time.Duration(s.LivenessWindowSeconds) * time.Second
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "tillsync.db",
		Sync: Sync{
			LivenessWindowSeconds: 120,
			ErrorLogLimit:         100,
			TokenExpiresInSeconds: 86400,
		},
		Security: Security{
			TokenHeader: "X-Sync-Token",
		},
	}
}

// Default returns the built-in configuration without reading files or environment
func Default() *Config {
	return defaultConfig()
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if header := os.Getenv("SYNC_TOKEN_HEADER"); header != "" {
		cfg.Security.TokenHeader = header
	}
	if pinHash := os.Getenv("MANAGER_PIN_HASH"); pinHash != "" {
		cfg.Security.ManagerPinHash = pinHash
	}

	if creds := os.Getenv("FIREBASE_CREDENTIALS_PATH"); creds != "" {
		cfg.Push.CredentialsPath = creds
	}

	if window := os.Getenv("LIVENESS_WINDOW_SECONDS"); window != "" {
		if secs, err := strconv.Atoi(window); err == nil && secs > 0 {
			cfg.Sync.LivenessWindowSeconds = secs
		}
	}
	if limit := os.Getenv("ERROR_LOG_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Sync.ErrorLogLimit = n
		}
	}
	if expires := os.Getenv("TOKEN_EXPIRES_IN_SECONDS"); expires != "" {
		if secs, err := strconv.Atoi(expires); err == nil && secs > 0 {
			cfg.Sync.TokenExpiresInSeconds = secs
		}
	}

	return cfg, nil
}
