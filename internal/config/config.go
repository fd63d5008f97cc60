package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the presence server listens on.
	DefaultAddr = ":2053"
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 256 << 10
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 4096

	// DefaultFlushInterval is the cadence of the broadcast queue flush.
	DefaultFlushInterval = 5 * time.Second
	// DefaultIdleTimeout evicts sessions with no inbound activity for this long.
	DefaultIdleTimeout = 10 * time.Minute
	// DefaultCredentialTTL bounds how long decrypted token payloads may be reused.
	DefaultCredentialTTL = 5 * time.Minute
	// DefaultQueueLimit caps the number of messages staged between flushes.
	DefaultQueueLimit = 4096

	// DefaultAuthNetwork selects the transport used to reach the identity service.
	DefaultAuthNetwork = "tcp"
	// DefaultAuthAddr is where the identity service accepts line-delimited requests.
	DefaultAuthAddr = "127.0.0.1:2083"
	// DefaultAuthTimeout bounds a single identity decryption round trip.
	DefaultAuthTimeout = 10 * time.Second

	// DefaultConnectWindow is the sliding window for connection-attempt throttling.
	DefaultConnectWindow = time.Minute
	// DefaultConnectBurst is how many connection attempts fit in one window. Zero disables.
	DefaultConnectBurst = 240

	// DefaultLogLevel controls verbosity for presence server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "presence.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the presence server.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TLSCertPath     string
	TLSKeyPath      string

	FlushInterval time.Duration
	IdleTimeout   time.Duration
	CredentialTTL time.Duration
	QueueLimit    int

	AuthNetwork string
	AuthAddr    string
	AuthTimeout time.Duration

	ConnectWindow time.Duration
	ConnectBurst  int
	AdminToken    string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SummaryRefreshInterval derives the presence summary cadence from the flush cadence.
func (c *Config) SummaryRefreshInterval() time.Duration {
	if c == nil || c.FlushInterval <= 0 {
		return 2 * DefaultFlushInterval
	}
	return 2 * c.FlushInterval
}

// Load reads the presence server configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("PRESENCE_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("PRESENCE_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		TLSCertPath:     strings.TrimSpace(os.Getenv("PRESENCE_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("PRESENCE_TLS_KEY")),
		FlushInterval:   DefaultFlushInterval,
		IdleTimeout:     DefaultIdleTimeout,
		CredentialTTL:   DefaultCredentialTTL,
		QueueLimit:      DefaultQueueLimit,
		AuthNetwork:     getString("PRESENCE_AUTH_NETWORK", DefaultAuthNetwork),
		AuthAddr:        getString("PRESENCE_AUTH_ADDR", DefaultAuthAddr),
		AuthTimeout:     DefaultAuthTimeout,
		ConnectWindow:   DefaultConnectWindow,
		ConnectBurst:    DefaultConnectBurst,
		AdminToken:      strings.TrimSpace(os.Getenv("PRESENCE_ADMIN_TOKEN")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("PRESENCE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("PRESENCE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_FLUSH_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_FLUSH_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.FlushInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_IDLE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_IDLE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.IdleTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_CREDENTIAL_TTL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_CREDENTIAL_TTL must be a positive duration, got %q", raw))
		} else {
			cfg.CredentialTTL = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_QUEUE_LIMIT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_QUEUE_LIMIT must be a positive integer, got %q", raw))
		} else {
			cfg.QueueLimit = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_AUTH_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_AUTH_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.AuthTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_CONNECT_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_CONNECT_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.ConnectWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_CONNECT_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_CONNECT_BURST must be a non-negative integer, got %q", raw))
		} else {
			cfg.ConnectBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PRESENCE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PRESENCE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("PRESENCE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	switch cfg.AuthNetwork {
	case "tcp", "unix":
	default:
		problems = append(problems, fmt.Sprintf("PRESENCE_AUTH_NETWORK must be tcp or unix, got %q", cfg.AuthNetwork))
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "PRESENCE_TLS_CERT and PRESENCE_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
