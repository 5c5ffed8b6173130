// Package app builds the ledger and its collaborators from configuration. It is
// shared by the HTTP server and ledgerctl.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/config"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/events/rabbitmq"
	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/ledger"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage/dynamo"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage/jsonfile"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage/postgres"
)

// Closer releases whatever a constructor opened.
type Closer func()

func noop() {}

// UseNumericAmounts makes decimals encode as JSON numbers. Every process that
// writes the shared ledger document calls it before touching the store, so the
// server and ledgerctl produce the same format the front end reads.
func UseNumericAmounts() {
	decimal.MarshalJSONWithoutQuotes = true
}

// AWSConfig loads the default credential chain for the configured region.
func AWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// OpenStore returns the LedgerStore selected by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (interfaces.LedgerStore, Closer, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewMemoryLedgerStore(), noop, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)

		store := postgres.NewPostgresLedgerStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		logger.Info("database connection established")
		return store, func() { db.Close() }, nil

	case config.StoreDynamoDB:
		awsCfg, err := AWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)
		logger.Info("using DynamoDB store", "table", cfg.DynamoDBTable, "partition_key", cfg.DynamoDBPartitionKey)
		return dynamo.NewDynamoLedgerStore(client, cfg.DynamoDBTable, cfg.DynamoDBPartitionKey), noop, nil

	case config.StoreJSONFile:
		logger.Info("using JSON file store", "path", cfg.DataFile)
		return jsonfile.NewFileLedgerStore(cfg.DataFile), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// OpenPublisher returns the event publisher selected by EVENTS_BACKEND, or nil when
// events are disabled. A broker that cannot be reached at startup disables events
// instead of failing the service.
func OpenPublisher(cfg config.Config, logger *slog.Logger) (interfaces.EventPublisher, Closer) {
	switch cfg.EventsBackend {
	case config.EventsKafka:
		publisher := kafka.NewPublisher(cfg.KafkaBrokerList())
		return publisher, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka writer close failed", "err", err)
			}
		}

	case config.EventsRabbitMQ:
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, domain events disabled", "err", err)
			return nil, noop
		}
		return publisher, publisher.Close
	}
	return nil, noop
}

// NewLedger applies the ledger settings from cfg.
func NewLedger(store interfaces.LedgerStore, publisher interfaces.EventPublisher, cfg config.Config, logger *slog.Logger) *ledger.Ledger {
	l := ledger.NewLedger(store, publisher, logger)
	l.RestrictCategories(cfg.CategoryList())
	l.ConfigureRetries(cfg.LedgerMaxRetries, 0)
	return l
}
