// Package backup uploads snapshots of the ledger collection to S3.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces"
)

// PutObjectAPI is the part of the S3 client a backup needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Backup struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

func NewS3Backup(client PutObjectAPI, bucket, prefix string) *S3Backup {
	return &S3Backup{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Snapshot loads the current collection from store and uploads it as indented JSON.
// It returns the s3:// URI of the object written.
func (b *S3Backup) Snapshot(ctx context.Context, store interfaces.LedgerStore) (string, error) {
	if b.bucket == "" {
		return "", errors.New("backup bucket is not configured")
	}

	collection, err := store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load collection: %w", err)
	}
	body, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode collection: %w", err)
	}

	key := fmt.Sprintf("donations-%s.json", b.now().UTC().Format("20060102T150405Z"))
	if b.prefix != "" {
		key = path.Join(b.prefix, key)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}
