package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Dhoini/Billing-microservice/internal/plans"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port     string `mapstructure:"port"`
		Env      string `mapstructure:"env"`
		LogLevel string `mapstructure:"logLevel"`
		BaseURL  string `mapstructure:"baseUrl"` // для success/cancel URL checkout
	} `mapstructure:"app"`
	Database struct {
		DSN             string        `mapstructure:"dsn"`
		MaxConns        int32         `mapstructure:"maxConns"`
		MinConns        int32         `mapstructure:"minConns"`
		MaxConnLifetime time.Duration `mapstructure:"maxConnLifetime"`
		MaxConnIdleTime time.Duration `mapstructure:"maxConnIdleTime"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		CacheTTL time.Duration `mapstructure:"cacheTtl"`
		LockTTL  time.Duration `mapstructure:"lockTtl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		// InvitationTopic - топик, который читает сервис рассылки писем
		InvitationTopic string `mapstructure:"invitationTopic"`
		Partitions      int    `mapstructure:"partitions"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		// MaxRetryElapsed - сколько времени ретраить временные ошибки провайдера
		MaxRetryElapsed time.Duration `mapstructure:"maxRetryElapsed"`
	} `mapstructure:"stripe"`
	GRPC struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Auth struct {
		JWTSecret  string `mapstructure:"jwtSecret"`
		CookieName string `mapstructure:"cookieName"`
		AdminToken string `mapstructure:"adminToken"`
	} `mapstructure:"auth"`
	Billing struct {
		RecountOnStartup bool          `mapstructure:"recountOnStartup"`
		InvitationTTL    time.Duration `mapstructure:"invitationTtl"`
	} `mapstructure:"billing"`
	// Plans переопределяет тарифную сетку по умолчанию (например, тестовые цены Stripe)
	Plans []plans.Plan `mapstructure:"plans"`
}

// IsProduction - окружение production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Catalog возвращает каталог тарифов из конфига или каталог по умолчанию
func (c *Config) Catalog() (*plans.Catalog, error) {
	if len(c.Plans) == 0 {
		return plans.NewCatalog(plans.Default)
	}
	return plans.NewCatalog(c.Plans)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.baseUrl", "http://localhost:3000")

	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)
	v.SetDefault("database.maxConnLifetime", time.Hour)
	v.SetDefault("database.maxConnIdleTime", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.cacheTtl", 15*time.Minute)
	v.SetDefault("redis.lockTtl", 30*time.Second)

	v.SetDefault("kafka.topic", "billing-events")
	v.SetDefault("kafka.invitationTopic", "member-invitations")
	v.SetDefault("kafka.partitions", 3)

	v.SetDefault("stripe.maxRetryElapsed", 30*time.Second)

	v.SetDefault("grpc.port", "9090")

	v.SetDefault("auth.cookieName", "sb-access-token")

	v.SetDefault("billing.recountOnStartup", true)
	v.SetDefault("billing.invitationTtl", 7*24*time.Hour)
}

// LoadConfig загружает конфигурацию из config.yml (если есть), .env и
// переменных окружения. Переменные окружения имеют приоритет:
// app.port -> APP_PORT, stripe.apiKey -> STRIPE_APIKEY.
func LoadConfig(envPath string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" && envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // Чтение переменных окружения

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	// AutomaticEnv не видит ключи без дефолтов и без файла, привязываем явно
	for _, key := range []string{"database.dsn", "redis.password", "redis.db", "kafka.brokers", "stripe.apiKey", "stripe.webhookSecret", "auth.jwtSecret", "auth.adminToken"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// KAFKA_BROKERS приходит строкой через запятую
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "database.dsn")
	}
	if c.Stripe.APIKey == "" {
		missing = append(missing, "stripe.apiKey")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "stripe.webhookSecret")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwtSecret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
