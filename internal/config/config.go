package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Worker     WorkerConfig
	Sources    SourcesConfig
	DB         DatabaseConfig
	Logging    LoggingConfig
	Policy     PolicyConfig
	Escalation EscalationConfig
	Dispatch   DispatchConfig
	Channels   ChannelsConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type SourcesConfig struct {
	USGSEnabled       bool
	USGSURL           string
	USGSPollInterval  time.Duration
	GDACSEnabled      bool
	GDACSURL          string
	GDACSPollInterval time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

type PolicyConfig struct {
	// Path to the channel/escalation policy YAML. Empty means built-in
	// defaults.
	Path string
}

type EscalationConfig struct {
	SweepInterval time.Duration
	// BroadcastSeverity is the minimum severity that raises a global
	// broadcast alert when no tracked asset is in range.
	BroadcastSeverity int
}

type DispatchConfig struct {
	Workers     int
	BufferSize  int
	MaxAttempts int
	BackoffBase time.Duration
}

type ChannelsConfig struct {
	EmailEndpoint  string
	SMSEndpoint    string
	VoiceEndpoint  string
	VoiceCancelURL string
	GatewayAPIKey  string
	SlackToken     string
	SlackChannel   string
	RequestTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Sources: SourcesConfig{
			USGSEnabled:       getEnvBool("USGS_ENABLED", true),
			USGSURL:           getEnv("USGS_URL", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"),
			USGSPollInterval:  getEnvDuration("USGS_POLL_INTERVAL", 5*time.Minute),
			GDACSEnabled:      getEnvBool("GDACS_ENABLED", true),
			GDACSURL:          getEnv("GDACS_URL", "https://www.gdacs.org/xml/rss.xml"),
			GDACSPollInterval: getEnvDuration("GDACS_POLL_INTERVAL", 10*time.Minute),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/hazard-alerts.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Policy: PolicyConfig{
			Path: getEnv("POLICY_PATH", ""),
		},
		Escalation: EscalationConfig{
			SweepInterval:     getEnvDuration("ESCALATION_SWEEP_INTERVAL", 15*time.Second),
			BroadcastSeverity: getEnvInt("BROADCAST_SEVERITY", 5),
		},
		Dispatch: DispatchConfig{
			Workers:     getEnvInt("DISPATCH_WORKERS", 4),
			BufferSize:  getEnvInt("DISPATCH_BUFFER_SIZE", 100),
			MaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvDuration("DISPATCH_BACKOFF_BASE", 2*time.Second),
		},
		Channels: ChannelsConfig{
			EmailEndpoint:  getEnv("EMAIL_GATEWAY_URL", "http://localhost:9201/send"),
			SMSEndpoint:    getEnv("SMS_GATEWAY_URL", "http://localhost:9202/send"),
			VoiceEndpoint:  getEnv("VOICE_GATEWAY_URL", "http://localhost:9203/call"),
			VoiceCancelURL: getEnv("VOICE_CANCEL_URL", "http://localhost:9203/call"),
			GatewayAPIKey:  getEnv("GATEWAY_API_KEY", ""),
			SlackToken:     getEnv("SLACK_TOKEN", ""),
			SlackChannel:   getEnv("SLACK_CHANNEL", ""),
			RequestTimeout: getEnvDuration("CHANNEL_REQUEST_TIMEOUT", 15*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Sources.USGSPollInterval < time.Minute {
		return fmt.Errorf("USGS poll interval must be at least 1 minute")
	}
	if c.Sources.GDACSPollInterval < time.Minute {
		return fmt.Errorf("GDACS poll interval must be at least 1 minute")
	}

	if c.Escalation.SweepInterval < time.Second {
		return fmt.Errorf("escalation sweep interval must be at least 1 second")
	}
	if c.Escalation.BroadcastSeverity < 1 || c.Escalation.BroadcastSeverity > 5 {
		return fmt.Errorf("broadcast severity must be 1-5, got %d", c.Escalation.BroadcastSeverity)
	}

	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch max attempts must be at least 1")
	}
	if c.Dispatch.BackoffBase <= 0 {
		return fmt.Errorf("dispatch backoff base must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
