// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable knob the gateway recognizes.
type Config struct {
	// ListenAddr is the address the upgrade endpoint binds to.
	ListenAddr string

	// WSMaxMessageSize caps an SSH-subchannel frame in bytes.
	WSMaxMessageSize int64
	// MaxUploadSize caps a single SFTP upload in bytes.
	MaxUploadSize int64

	// EncryptionKey is the hex-encoded 32-byte default key for the handover cipher.
	EncryptionKey string

	LogLevel string

	LogDirectory      string
	LogMaxFileSize    int64
	LogMaxBackupFiles int
	LogMaxAgeDays     int
	LogEnableFile     bool
	LogEnableConsole  bool

	// DetachTTL controls how long a session survives after its client channel
	// drops before the registry tears it down. See DESIGN.md Open Questions:
	// the source's "24h effectively permanent" comment is replaced by this
	// configurable, shorter default.
	DetachTTL time.Duration
	// PendingConnectionTTL controls how long a C4 pending-connection record
	// survives without a following authenticate.
	PendingConnectionTTL time.Duration
	// PendingSweepInterval is how often the pending-connection table is swept.
	PendingSweepInterval time.Duration
}

const (
	defaultListenAddr           = ":8080"
	defaultWSMaxMessageSize     = 150 << 20 // 150 MB
	defaultMaxUploadSize        = 100 << 20 // 100 MB
	defaultDetachTTL            = 10 * time.Minute
	defaultPendingConnectionTTL = 30 * time.Minute
	defaultPendingSweepInterval = 15 * time.Minute
)

// Load reads a .env file if present, then resolves Config from the process
// environment, applying defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:           getEnv("GATEWAY_LISTEN_ADDR", defaultListenAddr),
		WSMaxMessageSize:     getEnvAsInt64("WS_MAX_MESSAGE_SIZE", defaultWSMaxMessageSize),
		MaxUploadSize:        getEnvAsInt64("MAX_UPLOAD_SIZE", defaultMaxUploadSize),
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogDirectory:         getEnv("LOG_DIRECTORY", ""),
		LogMaxFileSize:       getEnvAsInt64("LOG_MAX_FILE_SIZE", 10<<20),
		LogMaxBackupFiles:    getEnvAsInt("LOG_MAX_BACKUP_FILES", 5),
		LogMaxAgeDays:        getEnvAsInt("LOG_MAX_AGE_DAYS", 14),
		LogEnableFile:        getEnvAsBool("LOG_ENABLE_FILE", false),
		LogEnableConsole:     getEnvAsBool("LOG_ENABLE_CONSOLE", true),
		DetachTTL:            getEnvAsDuration("GATEWAY_DETACH_TTL", defaultDetachTTL),
		PendingConnectionTTL: getEnvAsDuration("GATEWAY_PENDING_TTL", defaultPendingConnectionTTL),
		PendingSweepInterval: getEnvAsDuration("GATEWAY_PENDING_SWEEP_INTERVAL", defaultPendingSweepInterval),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	v := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if v == "" {
		return defaultValue
	}
	return v == "1" || v == "true" || v == "yes"
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

// Validate reports configuration errors that should abort startup.
func (c *Config) Validate() error {
	if c.WSMaxMessageSize <= 0 {
		return fmt.Errorf("config: WS_MAX_MESSAGE_SIZE must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_SIZE must be positive")
	}
	return nil
}
