package dynamo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

// fakeTable understands the two condition expressions the store writes.
type fakeTable struct {
	mu     sync.Mutex
	items  map[string]map[string]dynamodbtypes.AttributeValue
	putErr error
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]dynamodbtypes.AttributeValue{}}
}

func keyOf(item map[string]dynamodbtypes.AttributeValue) string {
	if s, ok := item["pk"].(*dynamodbtypes.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeTable) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(params.Key)]}, nil
}

func (f *fakeTable) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}

	key := keyOf(params.Item)
	existing, exists := f.items[key]
	switch aws.ToString(params.ConditionExpression) {
	case "attribute_not_exists(pk)":
		if exists {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "#v = :expected":
		want := params.ExpressionAttributeValues[":expected"].(*dynamodbtypes.AttributeValueMemberN).Value
		have, ok := existing["version"].(*dynamodbtypes.AttributeValueMemberN)
		if !exists || !ok || have.Value != want {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("version mismatch")}
		}
	}
	f.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestLoadMissingItemIsEmpty(t *testing.T) {
	store := NewDynamoLedgerStore(newFakeTable(), "ledger", "")

	c, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Version != 0 || len(c.Equipment) != 0 || c.Donations == nil {
		t.Fatalf("expected empty collection, got %+v", c)
	}
}

func TestSaveLoadAndConditionalWrites(t *testing.T) {
	table := newFakeTable()
	store := NewDynamoLedgerStore(table, "ledger", "city-ledger")
	ctx := context.Background()

	c, _ := store.Load(ctx)
	stale, _ := store.Load(ctx)
	c.Equipment = append(c.Equipment, models.EquipmentItem{ID: "eq-1", Name: "Laptops", Target: decimal.RequireFromString("1200.99")})
	if err := store.Save(ctx, c); err != nil {
		t.Fatalf("first Save returned error: %v", err)
	}

	if err := store.Save(ctx, stale); !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict for second creator, got %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Version != 1 || len(loaded.Equipment) != 1 || !loaded.Equipment[0].Target.Equal(decimal.RequireFromString("1200.99")) {
		t.Fatalf("unexpected collection %+v", loaded)
	}

	loaded.Donations = append(loaded.Donations, models.Donation{ID: "d-1", EquipmentID: "eq-1", Amount: decimal.NewFromInt(10)})
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("update Save returned error: %v", err)
	}
	if err := store.Save(ctx, loaded); !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict when reusing version 1, got %v", err)
	}

	final, _ := store.Load(ctx)
	if final.Version != 2 || len(final.Donations) != 1 {
		t.Fatalf("expected version 2 with one donation, got %+v", final)
	}
}

func TestSaveClientFailureIsWriteFailure(t *testing.T) {
	table := newFakeTable()
	table.putErr = errors.New("throttled")
	store := NewDynamoLedgerStore(table, "ledger", "")

	err := store.Save(context.Background(), models.NewCollection())
	if !errors.Is(err, storage.ErrWriteFailure) {
		t.Fatalf("expected write failure, got %v", err)
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	table := newFakeTable()
	table.items[DefaultPartitionKey] = map[string]dynamodbtypes.AttributeValue{
		"pk":       &dynamodbtypes.AttributeValueMemberS{Value: DefaultPartitionKey},
		"version":  &dynamodbtypes.AttributeValueMemberN{Value: "3"},
		"document": &dynamodbtypes.AttributeValueMemberS{Value: "{broken"},
	}

	_, err := NewDynamoLedgerStore(table, "ledger", "").Load(context.Background())
	if !errors.Is(err, storage.ErrSerializationFailure) {
		t.Fatalf("expected serialization failure, got %v", err)
	}
}
