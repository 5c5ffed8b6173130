package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage/memory"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestSnapshot_UploadsCollection(t *testing.T) {
	store := memory.NewMemoryLedgerStore()
	c := models.NewCollection()
	c.Equipment = append(c.Equipment, models.EquipmentItem{ID: "eq-1", Name: "Laptops", Target: decimal.NewFromInt(1200)})
	if err := store.Save(context.Background(), c); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	client := &fakeS3{}
	b := NewS3Backup(client, "ledger-backups", "/nightly/")
	b.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	uri, err := b.Snapshot(context.Background(), store)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	wantKey := "nightly/donations-20260304T050607Z.json"
	if uri != "s3://ledger-backups/"+wantKey {
		t.Fatalf("unexpected uri %q", uri)
	}
	if aws.ToString(client.input.Bucket) != "ledger-backups" || aws.ToString(client.input.Key) != wantKey {
		t.Fatalf("unexpected target %s/%s", aws.ToString(client.input.Bucket), aws.ToString(client.input.Key))
	}

	var uploaded models.Collection
	if err := json.Unmarshal(client.body, &uploaded); err != nil {
		t.Fatalf("uploaded body is not a collection: %v", err)
	}
	if len(uploaded.Equipment) != 1 || uploaded.Equipment[0].ID != "eq-1" || uploaded.Version != 1 {
		t.Fatalf("unexpected uploaded collection %+v", uploaded)
	}
}

func TestSnapshot_Errors(t *testing.T) {
	store := memory.NewMemoryLedgerStore()

	if _, err := NewS3Backup(&fakeS3{}, "", "x").Snapshot(context.Background(), store); err == nil {
		t.Fatal("expected error without bucket")
	}

	_, err := NewS3Backup(&fakeS3{err: errors.New("access denied")}, "bucket", "").Snapshot(context.Background(), store)
	if err == nil {
		t.Fatal("expected upload error")
	}
}
