package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string   `json:"serverAddress"`
	DatabasePath  string   `json:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl"`
	Auth          Auth     `json:"auth"`
	Pairing       Pairing  `json:"pairing"`
	Realtime      Realtime `json:"realtime"`
	Cleanup       Cleanup  `json:"cleanup"`
	Push          Push     `json:"push"`
}

// Auth configures token issuing and session expiry
type Auth struct {
	JWTSecret         string `json:"jwtSecret"`
	AccessTTLMinutes  int    `json:"accessTtlMinutes"`
	RefreshTTLDays    int    `json:"refreshTtlDays"`
	SessionTimeoutMin int    `json:"sessionTimeoutMinutes"`
}

// Pairing configures the device pairing handshake
type Pairing struct {
	TokenTTLMinutes int `json:"tokenTtlMinutes"`
}

// Realtime configures the WebSocket broadcast layer
type Realtime struct {
	HeartbeatSeconds int `json:"heartbeatSeconds"`
	SendBufferSize   int `json:"sendBufferSize"`
}

// Cleanup configures the background reconciliation sweeps
type Cleanup struct {
	IntervalMinutes      int `json:"intervalMinutes"`
	KeyRetentionDays     int `json:"keyRetentionDays"`
	IdleDeviceDays       int `json:"idleDeviceDays"`
	OrphanMinAgeMinutes  int `json:"orphanMinAgeMinutes"`
}

// Push configures the downstream push-notification sink
type Push struct {
	Enabled         bool   `json:"enabled"`
	CredentialsPath string `json:"credentialsPath"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Auth.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTTLDays) * 24 * time.Hour
}

// SessionTimeout returns the inactivity window after which non-anonymous
// sessions are invalidated.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Auth.SessionTimeoutMin) * time.Minute
}

// PairingTTL returns the pairing token expiry window.
func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.Pairing.TokenTTLMinutes) * time.Minute
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "phonelink.db",
		Auth: Auth{
			JWTSecret:         "CHANGE_THIS_TO_A_SECURE_SIGNING_SECRET_AT_LEAST_32_CHARS",
			AccessTTLMinutes:  60,
			RefreshTTLDays:    30,
			SessionTimeoutMin: 30,
		},
		Pairing: Pairing{
			TokenTTLMinutes: 5,
		},
		Realtime: Realtime{
			HeartbeatSeconds: 30,
			SendBufferSize:   256,
		},
		Cleanup: Cleanup{
			IntervalMinutes:     60,
			KeyRetentionDays:    7,
			IdleDeviceDays:      90,
			OrphanMinAgeMinutes: 30,
		},
		Push: Push{
			Enabled: false,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if timeout := os.Getenv("SESSION_TIMEOUT_MINUTES"); timeout != "" {
		if minutes, err := strconv.Atoi(timeout); err == nil && minutes > 0 {
			cfg.Auth.SessionTimeoutMin = minutes
		}
	}
	if ttl := os.Getenv("PAIRING_TTL_MINUTES"); ttl != "" {
		if minutes, err := strconv.Atoi(ttl); err == nil && minutes > 0 {
			cfg.Pairing.TokenTTLMinutes = minutes
		}
	}
	if creds := os.Getenv("FCM_CREDENTIALS_PATH"); creds != "" {
		cfg.Push.CredentialsPath = creds
		cfg.Push.Enabled = true
	}

	return cfg, nil
}
