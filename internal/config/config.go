package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	RegistryFirestore = "firestore"
	RegistryPostgres  = "postgres"
)

// Config holds push service configuration loaded from the environment.
type Config struct {
	AppName            string   `env:"APP_NAME"             envDefault:"admin_push"`
	LogLevel           string   `env:"LOG_LEVEL"            envDefault:"info"`
	LogFormat          string   `env:"LOG_FORMAT"           envDefault:"text"`
	HTTPPort           string   `env:"HTTP_PORT"            envDefault:"3000"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"            envSeparator:","`

	ServiceAccountFile string        `env:"SERVICE_ACCOUNT_FILE" envDefault:"./service-account.json"`
	AuthTimeout        time.Duration `env:"AUTH_TIMEOUT"         envDefault:"10s"`
	TokenCache         bool          `env:"TOKEN_CACHE"          envDefault:"true"`

	FCMEndpoint         string        `env:"FCM_ENDPOINT"         envDefault:"https://fcm.googleapis.com"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT"     envDefault:"10s"`
	DeliveryConcurrency int           `env:"DELIVERY_CONCURRENCY" envDefault:"4"`
	NotificationTitle   string        `env:"NOTIFICATION_TITLE"`
	NotificationBody    string        `env:"NOTIFICATION_BODY"`

	RegistryBackend      string        `env:"REGISTRY_BACKEND"      envDefault:"firestore"`
	RegistryTimeout      time.Duration `env:"REGISTRY_TIMEOUT"      envDefault:"10s"`
	AdminRole            string        `env:"ADMIN_ROLE"            envDefault:"admin"`
	SubscriberCollection string        `env:"SUBSCRIBER_COLLECTION" envDefault:"users"`
	AddressField         string        `env:"ADDRESS_FIELD"         envDefault:"fcmToken"`
	DatabaseURL          string        `env:"DATABASE_URL"`
	SubscriberTable      string        `env:"SUBSCRIBER_TABLE"      envDefault:"subscribers"`
	RegistryAutoMigrate  bool          `env:"REGISTRY_AUTO_MIGRATE" envDefault:"false"`

	RedisURL       string        `env:"REDIS_URL"`
	SuppressionTTL time.Duration `env:"SUPPRESSION_TTL" envDefault:"24h"`

	RabbitURL       string `env:"RABBITMQ_URL"`
	OrderExchange   string `env:"ORDER_EXCHANGE"    envDefault:"orders.events"`
	OrderRoutingKey string `env:"ORDER_ROUTING_KEY" envDefault:"order.created"`
	OrderQueue      string `env:"ORDER_QUEUE"       envDefault:"orders.new"`
	OrderDLQ        string `env:"ORDER_DLQ"`
	PrefetchCount   int    `env:"ORDER_PREFETCH"    envDefault:"20"`
	WorkerCount     int    `env:"WORKER_COUNT"      envDefault:"2"`

	ConnectMaxAttempts    int           `env:"CONNECT_MAX_ATTEMPTS"    envDefault:"5"`
	ConnectInitialBackoff time.Duration `env:"CONNECT_INITIAL_BACKOFF" envDefault:"1s"`
	ConnectMaxBackoff     time.Duration `env:"CONNECT_MAX_BACKOFF"     envDefault:"15s"`
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.ServiceAccountFile == "" {
		missing = append(missing, "SERVICE_ACCOUNT_FILE")
	}
	if c.RegistryBackend == RegistryPostgres && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch c.RegistryBackend {
	case RegistryFirestore, RegistryPostgres:
	default:
		return fmt.Errorf("invalid REGISTRY_BACKEND %q (valid options: %s, %s)", c.RegistryBackend, RegistryFirestore, RegistryPostgres)
	}
	if c.DeliveryConcurrency <= 0 {
		return fmt.Errorf("DELIVERY_CONCURRENCY must be positive, got %d", c.DeliveryConcurrency)
	}
	return nil
}
