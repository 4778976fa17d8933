package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	RabbitMQ   RabbitMQConfig
	Providers  ProviderSecrets
	Dispatcher DispatcherConfig
	DLQ        DLQConfig
	Sweep      SweepConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string

	DeliveryExchange   string
	DeliveryQueue      string
	DeliveryRoutingKey string
	PrefetchCount      int
}

// ProviderSecrets holds the per-provider webhook secrets.
// An empty secret means the provider is discoverable but not configured.
type ProviderSecrets struct {
	Typeform string
	Stripe   string
}

// Secret returns the secret for a provider name, or "" if unknown/unset.
func (p ProviderSecrets) Secret(provider string) string {
	switch provider {
	case "typeform":
		return p.Typeform
	case "stripe":
		return p.Stripe
	}
	return ""
}

type DispatcherConfig struct {
	JourneyServiceURL string
	ServiceToken      string
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	AttemptTimeout    time.Duration
}

type DLQConfig struct {
	MaxRetries int
}

type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      os.Getenv("RABBITMQ_URL"),
			Host:     get("RABBITMQ_HOST"),
			Port:     get("RABBITMQ_PORT"),
			User:     get("RABBITMQ_USER"),
			Password: get("RABBITMQ_PASSWORD"),
			VHost:    get("RABBITMQ_VHOST"),

			DeliveryExchange:   getDefault("RABBITMQ_DELIVERY_EXCHANGE", "webhooks"),
			DeliveryQueue:      getDefault("RABBITMQ_DELIVERY_QUEUE", "webhook.delivery"),
			DeliveryRoutingKey: getDefault("RABBITMQ_DELIVERY_ROUTING_KEY", "webhook.delivery"),
			PrefetchCount:      getInt("RABBITMQ_PREFETCH_COUNT", 8),
		},
		Providers: ProviderSecrets{
			Typeform: os.Getenv("WEBHOOK_TYPEFORM_SECRET"),
			Stripe:   os.Getenv("WEBHOOK_STRIPE_SECRET"),
		},
		Dispatcher: DispatcherConfig{
			JourneyServiceURL: get("JOURNEY_SERVICE_URL"),
			ServiceToken:      get("SERVICE_TO_SERVICE_TOKEN"),
			MaxAttempts:       getInt("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay:      getDuration("RETRY_INITIAL_DELAY", 1*time.Second),
			MaxDelay:          getDuration("RETRY_MAX_DELAY", 60*time.Second),
			AttemptTimeout:    getDuration("DISPATCH_TIMEOUT", 10*time.Second),
		},
		DLQ: DLQConfig{
			MaxRetries: getInt("DLQ_MAX_RETRIES", 3),
		},
		Sweep: SweepConfig{
			Interval:   getDuration("SWEEP_INTERVAL", 5*time.Minute),
			StaleAfter: getDuration("SWEEP_STALE_AFTER", 10*time.Minute),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func getDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns a postgres:// URL for golang-migrate
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
