package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig holds settings specific to the HTTP API server.
type APIServerConfig struct {
	Host          string     `mapstructure:"HOST"`
	Port          string     `mapstructure:"PORT"`
	PublicBaseURL string     `mapstructure:"PUBLIC_BASE_URL"`
	CORS          CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName      string             `mapstructure:"APP_NAME"`
	AppVersion   string             `mapstructure:"APP_VERSION"`
	LogLevel     string             `mapstructure:"LOG_LEVEL"`
	Server       ServerConfig       `mapstructure:"SERVER"` // chat server
	APIServer    APIServerConfig    `mapstructure:"API_SERVER"`
	Kafka        KafkaConfig        `mapstructure:"KAFKA"`
	Database     DatabaseConfig     `mapstructure:"DATABASE"`
	ProfileStore ProfileStoreConfig `mapstructure:"PROFILE_STORE"`
	Storage      StorageConfig      `mapstructure:"STORAGE"`
	Auth         AuthConfig         `mapstructure:"AUTH"`
	WebSocket    WebSocketConfig    `mapstructure:"WEBSOCKET"`
	Redis        RedisConfig        `mapstructure:"REDIS"`
	Repair       RepairConfig       `mapstructure:"REPAIR"`
	Sentry       SentryConfig       `mapstructure:"SENTRY"`
	Metrics      MetricsConfig      `mapstructure:"METRICS"`
}

// ServerConfig holds configuration for the chat server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"BROKERS"`
	ClientID      string   `mapstructure:"CLIENT_ID"`
	RealtimeTopic string   `mapstructure:"REALTIME_TOPIC"` // server -> websocket clients
	ConsumerGroup string   `mapstructure:"CONSUMER_GROUP"`
	Protocol      string   `mapstructure:"PROTOCOL"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
	LogLevel string `mapstructure:"LOG_LEVEL"` // silent, error, warn, info
}

// ProfileStoreConfig selects the backend holding user profiles.
type ProfileStoreConfig struct {
	Type       string `mapstructure:"TYPE"` // "postgres" or "badger"
	BadgerPath string `mapstructure:"BADGER_PATH"`
	PageSize   int    `mapstructure:"PAGE_SIZE"`
}

// StorageConfig holds configuration for blob storage.
type StorageConfig struct {
	Type          string        `mapstructure:"TYPE"` // "local", "gcs"
	LocalPath     string        `mapstructure:"LOCAL_PATH"`
	MaxFileSizeMB int64         `mapstructure:"MAX_FILE_SIZE_MB"`
	SignedURLTTL  time.Duration `mapstructure:"SIGNED_URL_TTL"`
	GCS           GCSConfig     `mapstructure:"GCS"`
}

// GCSConfig holds configuration for Google Cloud Storage.
type GCSConfig struct {
	Bucket          string `mapstructure:"BUCKET"`
	CredentialsFile string `mapstructure:"CREDENTIALS_FILE"`
	SignerEmail     string `mapstructure:"SIGNER_EMAIL"`
}

// AuthConfig holds configuration for bearer tokens.
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
	Issuer       string        `mapstructure:"ISSUER"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
}

// RepairConfig tunes the reference purge scan.
type RepairConfig struct {
	ScanPageSize      int     `mapstructure:"SCAN_PAGE_SIZE"`
	UpdateConcurrency int     `mapstructure:"UPDATE_CONCURRENCY"`
	UpdatesPerSecond  float64 `mapstructure:"UPDATES_PER_SECOND"`
}

// SentryConfig holds error tracking settings. An empty DSN disables reporting.
type SentryConfig struct {
	DSN         string `mapstructure:"DSN"`
	Environment string `mapstructure:"ENVIRONMENT"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"ENABLED"`
	Path    string `mapstructure:"PATH"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "studybuddy")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")

	// Chat server
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.PUBLIC_BASE_URL", "http://localhost:8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300)

	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "studybuddy")
	v.SetDefault("KAFKA.REALTIME_TOPIC", "studybuddy-realtime")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "studybuddy-chat-server")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "studybuddy")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")

	v.SetDefault("PROFILE_STORE.TYPE", "postgres")
	v.SetDefault("PROFILE_STORE.BADGER_PATH", "./data/profiles")
	v.SetDefault("PROFILE_STORE.PAGE_SIZE", 10)

	v.SetDefault("STORAGE.TYPE", "local")
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 10)
	v.SetDefault("STORAGE.SIGNED_URL_TTL", 15*time.Minute)

	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 60*time.Minute)
	v.SetDefault("AUTH.ISSUER", "studybuddy")

	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)

	v.SetDefault("REPAIR.SCAN_PAGE_SIZE", 100)
	v.SetDefault("REPAIR.UPDATE_CONCURRENCY", 8)
	v.SetDefault("REPAIR.UPDATES_PER_SECOND", 50.0)

	v.SetDefault("SENTRY.DSN", "")
	v.SetDefault("SENTRY.ENVIRONMENT", "development")

	v.SetDefault("METRICS.ENABLED", true)
	v.SetDefault("METRICS.PATH", "/metrics")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// SERVER_PORT overrides Server.Port; nested keys use underscores.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// defaults are enough to run locally
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
