package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/cartloom/capture-service/internal/awsx"
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client        awsx.DynamoDBAPI
	tableName     string
	processingTTL time.Duration // short window while an attempt is in flight
	processedTTL  time.Duration // long window once the event has completed
	nowFunc       func() time.Time
}

// NewStore returns a configured Store.
// processingTTL: e.g. 10*time.Minute; processedTTL: e.g. 24*time.Hour.
func NewStore(client awsx.DynamoDBAPI, tableName string, processingTTL, processedTTL time.Duration) *Store {
	return &Store{
		client:        client,
		tableName:     tableName,
		processingTTL: processingTTL,
		processedTTL:  processedTTL,
		nowFunc:       time.Now,
	}
}

// Acquire creates an idempotency record with status processing if the key
// does not exist.
// Returns (acquired=true, nil) if successfully created.
// Returns (acquired=false, nil) if the record already exists.
// Returns (acquired=false, err) on other errors.
func (s *Store) Acquire(ctx context.Context, key string) (bool, error) {
	now := s.nowFunc()
	rec := Record{
		Key:       key,
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.processingTTL).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
		// Only create when attribute_not_exists(idempotency_key)
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}

	return true, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	// The table's TTL sweep lags; treat an expired record as absent.
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= s.nowFunc().Unix() {
		return nil, nil
	}
	return &rec, nil
}

// MarkProcessed promotes the record to processed and extends its TTL to
// the long window.
func (s *Store) MarkProcessed(ctx context.Context, key string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: awsString("SET #s = :processed, expires_at = :exp, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processed": &types.AttributeValueMemberS{Value: StatusProcessed},
			":exp":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(s.processedTTL).Unix())},
			":ua":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item (mark processed): %w", err)
	}
	return nil
}

// ReleaseIfProcessing deletes the record only while it is still in the
// processing state. A record that finished concurrently (processed) is
// left alone so redelivery stays suppressed.
func (s *Store) ReleaseIfProcessing(ctx context.Context, key string) error {
	input := &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: awsString("#s = :processing"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
		},
	}
	_, err := s.client.DeleteItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return nil
		}
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Helper
func awsString(s string) *string { return &s }
