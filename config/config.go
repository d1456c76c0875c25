package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port    string `envconfig:"PORT" default:"3001"`
	NodeEnv string `envconfig:"NODE_ENV" default:"production"`

	MongoURI       string `envconfig:"MONGODB_URI"`
	MongoDatabase  string `envconfig:"MONGODB_DATABASE" default:"chat"`
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:"file:chatbridge.db?_pragma=busy_timeout(5000)"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	AppDomain      string   `envconfig:"APP_DOMAIN" default:"http://localhost:3000"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	BucketName string `envconfig:"CLOUDFLARE_BUCKET_NAME"`
	S3Endpoint string `envconfig:"S3_ENDPOINT"`
	S3Region   string `envconfig:"S3_REGION" default:"auto"`
	AccessKey  string `envconfig:"CLOUDFLARE_ACCESS_KEY_ID"`
	SecretKey  string `envconfig:"CLOUDFLARE_SECRET_ACCESS_KEY"`
	CDNURL     string `envconfig:"CLOUDFLARE_CDN_URL"`

	RabbitURL            string   `envconfig:"RABBITMQ_URL"`
	RabbitQueue          string   `envconfig:"RABBITMQ_QUEUE" default:"chat_events"`
	RabbitQueuePrefix    string   `envconfig:"RABBITMQ_QUEUE_PREFIX" default:"chatbridge"`
	RabbitSpecificEvents []string `envconfig:"AMQP_SPECIFIC_EVENTS"`
	EventsWebhookURL     string   `envconfig:"EVENTS_WEBHOOK_URL"`

	WatiWebhookSecret string        `envconfig:"WATI_WEBHOOK_SECRET"`
	WatiDedupeWindow  time.Duration `envconfig:"WATI_DEDUPE_WINDOW" default:"10m"`

	PingInterval    time.Duration `envconfig:"SOCKET_PING_INTERVAL" default:"25s"`
	PingTimeout     time.Duration `envconfig:"SOCKET_PING_TIMEOUT" default:"20s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Development reports whether NODE_ENV widens CORS to local origins.
func (c *Config) Development() bool {
	return strings.EqualFold(c.NodeEnv, "development")
}

// UseMongo reports whether the Mongo gateway is selected.
func (c *Config) UseMongo() bool {
	return c.MongoURI != ""
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if _, err := url.Parse(c.AppDomain); err != nil {
		return errors.Wrap(err, "APP_DOMAIN is not a valid URL")
	}
	if c.PingInterval <= 0 || c.PingTimeout <= 0 {
		return errors.New("SOCKET_PING_INTERVAL and SOCKET_PING_TIMEOUT must be positive")
	}
	return nil
}

// LoadConfig loads configuration from environment variables. A .env file is
// read first when present; variables already set take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to read .env file")
		}
		log.Debug().Msg("No .env file found, relying on environment variables")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
