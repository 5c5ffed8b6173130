package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

// DefaultPartitionKey is the key of the single item holding the collection.
const DefaultPartitionKey = "ledger"

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// record is the stored item. The collection is kept as one JSON document so
// decimals survive unchanged; version drives the conditional write.
// DynamoDB caps items at 400KB, which fits a city-scale ledger.
type record struct {
	PK       string `dynamodbav:"pk"`
	Version  int64  `dynamodbav:"version"`
	Document string `dynamodbav:"document"`
}

// DynamoLedgerStore implements LedgerStore on a single DynamoDB item
type DynamoLedgerStore struct {
	client       API
	tableName    string
	partitionKey string
}

// NewDynamoLedgerStore creates a new DynamoDB ledger store
func NewDynamoLedgerStore(client API, tableName, partitionKey string) *DynamoLedgerStore {
	if partitionKey == "" {
		partitionKey = DefaultPartitionKey
	}
	return &DynamoLedgerStore{
		client:       client,
		tableName:    tableName,
		partitionKey: partitionKey,
	}
}

// Load reads the collection item; a missing item is an empty collection
func (s *DynamoLedgerStore) Load(ctx context.Context) (models.Collection, error) {
	if s.client == nil {
		return models.Collection{}, storage.ReadFailure(errors.New("DynamoDB client not initialized"))
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]dynamodbtypes.AttributeValue{
			"pk": &dynamodbtypes.AttributeValueMemberS{Value: s.partitionKey},
		},
	})
	if err != nil {
		return models.Collection{}, storage.ReadFailure(fmt.Errorf("failed to get ledger item: %w", err))
	}
	if result.Item == nil {
		return models.NewCollection(), nil
	}

	var rec record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return models.Collection{}, storage.SerializationFailure(fmt.Errorf("failed to unmarshal ledger item: %w", err))
	}

	collection := models.NewCollection()
	if err := json.Unmarshal([]byte(rec.Document), &collection); err != nil {
		return models.Collection{}, storage.SerializationFailure(fmt.Errorf("failed to decode ledger document: %w", err))
	}
	collection.Version = rec.Version
	if collection.Equipment == nil {
		collection.Equipment = []models.EquipmentItem{}
	}
	if collection.Donations == nil {
		collection.Donations = []models.Donation{}
	}
	return collection, nil
}

// Save writes the collection only if the stored version still matches
func (s *DynamoLedgerStore) Save(ctx context.Context, collection models.Collection) error {
	if s.client == nil {
		return storage.WriteFailure(errors.New("DynamoDB client not initialized"))
	}

	next := collection.Clone()
	next.Version = collection.Version + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return storage.SerializationFailure(fmt.Errorf("failed to encode ledger document: %w", err))
	}

	item, err := attributevalue.MarshalMap(record{
		PK:       s.partitionKey,
		Version:  next.Version,
		Document: string(doc),
	})
	if err != nil {
		return storage.SerializationFailure(fmt.Errorf("failed to marshal ledger item: %w", err))
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if collection.Version == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		input.ConditionExpression = aws.String("#v = :expected")
		input.ExpressionAttributeNames = map[string]string{"#v": "version"}
		input.ExpressionAttributeValues = map[string]dynamodbtypes.AttributeValue{
			":expected": &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(collection.Version, 10)},
		}
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: expected version %d", storage.ErrConcurrencyConflict, collection.Version)
		}
		return storage.WriteFailure(fmt.Errorf("failed to save ledger item to DynamoDB: %w", err))
	}
	return nil
}

var _ interfaces.LedgerStore = (*DynamoLedgerStore)(nil)
