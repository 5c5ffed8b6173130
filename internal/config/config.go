// Package config loads service settings from the environment and an optional .env
// file using viper.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	StoreJSONFile = "jsonfile"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"

	EventsNone     = "none"
	EventsKafka    = "kafka"
	EventsRabbitMQ = "rabbitmq"
)

// Config holds all settings for the server and the ledgerctl CLI.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	StoreBackend         string `mapstructure:"STORE_BACKEND"`
	DataFile             string `mapstructure:"DATA_FILE"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	DynamoDBTable        string `mapstructure:"DYNAMODB_TABLE"`
	DynamoDBPartitionKey string `mapstructure:"DYNAMODB_PARTITION_KEY"`
	AWSRegion            string `mapstructure:"AWS_REGION"`

	EventsBackend    string `mapstructure:"EVENTS_BACKEND"`
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	AdminJWTSecret      string `mapstructure:"ADMIN_JWT_SECRET"`
	AdminRoles          string `mapstructure:"ADMIN_ROLES"`
	CORSAllowedOrigins  string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	Categories       string `mapstructure:"CATEGORIES"`
	LedgerMaxRetries int    `mapstructure:"LEDGER_MAX_RETRIES"`

	BackupS3Bucket string `mapstructure:"BACKUP_S3_BUCKET"`
	BackupS3Prefix string `mapstructure:"BACKUP_S3_PREFIX"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// LoadConfig reads configuration from the environment, with an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_BACKEND", StoreJSONFile)
	viper.SetDefault("DATA_FILE", "data/donations.json")
	viper.SetDefault("DYNAMODB_PARTITION_KEY", "ledger")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("EVENTS_BACKEND", EventsNone)
	viper.SetDefault("RABBITMQ_EXCHANGE", "equipment_events")
	viper.SetDefault("ADMIN_ROLES", "admin")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("LEDGER_MAX_RETRIES", 3)
	viper.SetDefault("BACKUP_S3_PREFIX", "backups")
	viper.SetDefault("LOG_LEVEL", "info")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_BACKEND")
	_ = viper.BindEnv("DATA_FILE")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DYNAMODB_TABLE")
	_ = viper.BindEnv("DYNAMODB_PARTITION_KEY")
	_ = viper.BindEnv("AWS_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	_ = viper.BindEnv("EVENTS_BACKEND")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RABBITMQ_EXCHANGE")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("ADMIN_JWT_SECRET", "ADMIN_JWT_SECRET", "SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("ADMIN_ROLES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("CATEGORIES")
	_ = viper.BindEnv("LEDGER_MAX_RETRIES")
	_ = viper.BindEnv("BACKUP_S3_BUCKET")
	_ = viper.BindEnv("BACKUP_S3_PREFIX")
	_ = viper.BindEnv("LOG_LEVEL")

	// a missing .env is fine, the environment is enough
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "err", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	config.EventsBackend = strings.ToLower(strings.TrimSpace(config.EventsBackend))
	config.DataFile = strings.TrimSpace(config.DataFile)
	config.AdminJWTSecret = strings.TrimSpace(config.AdminJWTSecret)
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)

	if config.LedgerMaxRetries < 0 {
		slog.Warn("negative LEDGER_MAX_RETRIES; using 0", "component", "config", "value", config.LedgerMaxRetries)
		config.LedgerMaxRetries = 0
	}
	if config.EventsBackend == "" {
		config.EventsBackend = EventsNone
	}

	switch config.StoreBackend {
	case StoreJSONFile:
		if config.DataFile == "" {
			return config, fmt.Errorf("DATA_FILE is required when STORE_BACKEND=%s", StoreJSONFile)
		}
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(config.DatabaseURL) == "" {
			return config, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", StorePostgres)
		}
	case StoreDynamoDB:
		if strings.TrimSpace(config.DynamoDBTable) == "" {
			return config, fmt.Errorf("DYNAMODB_TABLE is required when STORE_BACKEND=%s", StoreDynamoDB)
		}
	default:
		return config, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend)
	}

	switch config.EventsBackend {
	case EventsNone:
	case EventsKafka:
		if len(config.KafkaBrokerList()) == 0 {
			return config, fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BACKEND=%s", EventsKafka)
		}
	case EventsRabbitMQ:
		if strings.TrimSpace(config.RabbitMQURL) == "" {
			return config, fmt.Errorf("RABBITMQ_URL is required when EVENTS_BACKEND=%s", EventsRabbitMQ)
		}
	default:
		return config, fmt.Errorf("unknown EVENTS_BACKEND %q", config.EventsBackend)
	}

	if config.AdminJWTSecret == "" {
		slog.Warn("ADMIN_JWT_SECRET is empty; admin routes will refuse requests", "component", "config")
	}
	if config.StripeWebhookSecret == "" {
		slog.Warn("STRIPE_WEBHOOK_SECRET is empty; webhook deliveries will be rejected", "component", "config")
	}

	return config, nil
}

func (c Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

func (c Config) AdminRoleList() []string {
	return splitList(c.AdminRoles)
}

func (c Config) CORSOriginList() []string {
	return splitList(c.CORSAllowedOrigins)
}

func (c Config) CategoryList() []string {
	return splitList(c.Categories)
}

// SlogLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
