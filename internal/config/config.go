package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Realtime fan-out modes.
const (
	FanoutLocal = "local"
	FanoutRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Log      LogConfig
	Auth     AuthConfig
	Dispatch DispatchConfig
	Realtime RealtimeConfig
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig
	Events   EventsConfig
	Store    StoreConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string
}

// AuthConfig holds the shared secret used to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string
}

// DispatchConfig holds matching and ride lifecycle settings.
type DispatchConfig struct {
	RadiusKm float64
	// PendingTTL of zero disables automatic expiry of requested rides.
	PendingTTL           time.Duration
	ExpiryInterval       time.Duration
	LocationPushInterval time.Duration
}

// RealtimeConfig holds WebSocket gateway settings.
type RealtimeConfig struct {
	Fanout       string
	WriteTimeout time.Duration
	PongWait     time.Duration
	SendBuffer   int
}

// KafkaConfig holds Kafka settings. No brokers disables both the ride event
// stream and location ingest.
type KafkaConfig struct {
	Brokers         []string
	RideEventsTopic string
	LocationTopic   string
	Group           string
}

// RabbitMQConfig holds the notification exchange settings. An empty URL
// disables the sink.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// EventsConfig bounds the queue in front of the durable event sinks.
type EventsConfig struct {
	QueueSize int
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Backend string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			ReadTimeout: getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "dispatch-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Dispatch: DispatchConfig{
			RadiusKm:             getFloatEnv("DISPATCH_RADIUS_KM", 5),
			PendingTTL:           getDurationEnv("DISPATCH_PENDING_TTL", 0),
			ExpiryInterval:       getDurationEnv("DISPATCH_EXPIRY_INTERVAL", 30*time.Second),
			LocationPushInterval: getDurationEnv("DISPATCH_LOCATION_PUSH_INTERVAL", 15*time.Second),
		},
		Realtime: RealtimeConfig{
			Fanout:       strings.ToLower(getEnv("REALTIME_FANOUT", FanoutLocal)),
			WriteTimeout: getDurationEnv("REALTIME_WRITE_TIMEOUT", 10*time.Second),
			PongWait:     getDurationEnv("REALTIME_PONG_WAIT", 60*time.Second),
			SendBuffer:   getIntEnv("REALTIME_SEND_BUFFER", 64),
		},
		Kafka: KafkaConfig{
			Brokers:         getListEnv("KAFKA_BROKERS", nil),
			RideEventsTopic: getEnv("KAFKA_RIDE_EVENTS_TOPIC", "ride-events"),
			LocationTopic:   getEnv("KAFKA_LOCATION_TOPIC", "driver-locations"),
			Group:           getEnv("KAFKA_GROUP", "dispatch-location-consumer"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "ride_topic"),
		},
		Events: EventsConfig{
			QueueSize: getIntEnv("EVENTS_QUEUE_SIZE", 1024),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StorePostgres)),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.Dispatch.RadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_KM must be positive, got %v", c.Dispatch.RadiusKm))
	}
	if c.Dispatch.PendingTTL < 0 {
		errs = append(errs, errors.New("DISPATCH_PENDING_TTL must not be negative"))
	}
	if c.Dispatch.PendingTTL > 0 && c.Dispatch.ExpiryInterval <= 0 {
		errs = append(errs, errors.New("DISPATCH_EXPIRY_INTERVAL must be positive when expiry is enabled"))
	}
	if c.Dispatch.LocationPushInterval <= 0 {
		errs = append(errs, errors.New("DISPATCH_LOCATION_PUSH_INTERVAL must be positive"))
	}

	switch c.Store.Backend {
	case StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Realtime.Fanout {
	case FanoutLocal:
	case FanoutRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REALTIME_FANOUT=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REALTIME_FANOUT %q", c.Realtime.Fanout))
	}
	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, errors.New("REALTIME_SEND_BUFFER must be positive"))
	}

	if c.Events.QueueSize <= 0 {
		errs = append(errs, errors.New("EVENTS_QUEUE_SIZE must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.RideEventsTopic == "" {
		errs = append(errs, errors.New("KAFKA_RIDE_EVENTS_TOPIC is required when KAFKA_BROKERS is set"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping blanks.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
