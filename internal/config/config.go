// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds a lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// ProximityConfig engine behaviour.
type ProximityConfig struct {
	DwellInterval    time.Duration // dwell ticker period
	Timezone         string        // where trigger time restrictions are evaluated
	SmoothingWindow  int
	SmoothingAlpha   float64
	TxPower          int     // RSSI at one meter
	PathLossExponent float64 // log-distance exponent

	StateKeyPrefix string // Redis key prefix for runtime snapshots
	StateTTL       time.Duration
	EventStream    string // Redis stream for domain events
	EventTopic     string // MQTT topic prefix, user id appended
	LocationTopic  string
	ProximityTopic string
	ReminderQueue  string // Redis sorted set of pending reminders
	ReminderTopic  string
	ReminderPoll   time.Duration
}

// AssistantConfig assistant platform API.
type AssistantConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	SystemPrompt string
}

// Config service configuration.
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	Proximity ProximityConfig
	Assistant AssistantConfig

	Webhook struct {
		Timeout time.Duration
	}

	Tools struct {
		Allowed []string
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration. Malformed numeric or duration values are errors.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	if cfg.Database.Port, err = getEnvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "sentinel")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	if cfg.Redis.DB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "sentinel-proximity")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	qos, err := getEnvInt("MQTT_QOS", 1)
	if err != nil {
		return nil, err
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}
	cfg.MQTT.QoS = byte(qos)

	p := &cfg.Proximity
	if p.DwellInterval, err = getEnvDuration("PROXIMITY_DWELL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	p.Timezone = getEnv("PROXIMITY_TIMEZONE", "UTC")
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return nil, fmt.Errorf("invalid PROXIMITY_TIMEZONE %q: %w", p.Timezone, err)
	}
	if p.SmoothingWindow, err = getEnvInt("PROXIMITY_SMOOTHING_WINDOW", 5); err != nil {
		return nil, err
	}
	if p.SmoothingAlpha, err = getEnvFloat("PROXIMITY_SMOOTHING_ALPHA", 0.3); err != nil {
		return nil, err
	}
	if p.TxPower, err = getEnvInt("PROXIMITY_TX_POWER", -59); err != nil {
		return nil, err
	}
	if p.PathLossExponent, err = getEnvFloat("PROXIMITY_PATH_LOSS_EXPONENT", 2.5); err != nil {
		return nil, err
	}
	p.StateKeyPrefix = getEnv("PROXIMITY_STATE_PREFIX", "proximity:state:")
	if p.StateTTL, err = getEnvDuration("PROXIMITY_STATE_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	p.EventStream = getEnv("PROXIMITY_EVENT_STREAM", "proximity:events:stream")
	p.EventTopic = getEnv("PROXIMITY_EVENT_TOPIC", "sentinel/events/")
	p.LocationTopic = getEnv("PROXIMITY_LOCATION_TOPIC", "sentinel/location/+")
	p.ProximityTopic = getEnv("PROXIMITY_SAMPLE_TOPIC", "sentinel/proximity/+")
	p.ReminderQueue = getEnv("PROXIMITY_REMINDER_QUEUE", "proximity:reminders")
	p.ReminderTopic = getEnv("PROXIMITY_REMINDER_TOPIC", "sentinel/reminders/")
	if p.ReminderPoll, err = getEnvDuration("PROXIMITY_REMINDER_POLL", 5*time.Second); err != nil {
		return nil, err
	}

	cfg.Assistant.BaseURL = strings.TrimRight(getEnv("OPENSENTINEL_URL", "http://localhost:8030"), "/")
	cfg.Assistant.APIKey = getEnv("OPENSENTINEL_API_KEY", "")
	if cfg.Assistant.Timeout, err = getEnvDuration("OPENSENTINEL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	cfg.Assistant.SystemPrompt = getEnv("OPENSENTINEL_SYSTEM_PROMPT", "")

	if cfg.Webhook.Timeout, err = getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.Tools.Allowed = splitList(getEnv("TOOLS_ALLOWED", ""))

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Location the time restriction location.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Proximity.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
