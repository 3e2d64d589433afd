package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cartloom/capture-service/internal/awsx"
	"github.com/cartloom/capture-service/internal/gateway"
	"github.com/cartloom/capture-service/internal/money"
)

// ErrLockDenied means the order's edit lock is held by another process.
// This is a normal skip condition for the capture worker, not a failure.
var ErrLockDenied = errors.New("orders: edit lock denied")

// ErrNotFound means no order exists for the given id.
var ErrNotFound = errors.New("orders: order not found")

// Store encapsulates operations on the orders table.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client awsx.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches an order by order_id. Returns ErrNotFound if missing.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Put writes an order unconditionally. Used by seeding and tests; the
// runtime paths go through the conditional updates below.
func (s *Store) Put(ctx context.Context, o *Order) error {
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// AcquireEditLock sets edit_status to locked_for_capture only if the order
// is not already locked (check-then-write). Returns ErrLockDenied when
// another process holds the lock. The lock has no TTL; callers must
// guarantee ReleaseEditLock on every exit path.
func (s *Store) AcquireEditLock(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET edit_status = :locked, edit_updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id) AND edit_status <> :locked"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":locked": &types.AttributeValueMemberS{Value: EditStatusLocked},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLockDenied
		}
		return fmt.Errorf("acquire edit lock: %w", err)
	}
	return nil
}

// ReleaseEditLock puts the order back to idle. Unconditional: release must
// succeed even if the item was mutated while we held the lock.
func (s *Store) ReleaseEditLock(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET edit_status = :idle, edit_updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":idle": &types.AttributeValueMemberS{Value: EditStatusIdle},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("release edit lock: %w", err)
	}
	return nil
}

// MarkCompleted transitions the order to completed unless it has been
// canceled in the meantime. A canceled order is left untouched and no
// error is returned; the worker has already decided not to capture it.
func (s *Store) MarkCompleted(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET #s = :completed, updated_at = :ua"),
		ConditionExpression: awsString("#s <> :canceled"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: StatusCompleted},
			":canceled":  &types.AttributeValueMemberS{Value: StatusCanceled},
			":ua":        &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// SaveHolds persists the order's authorization-hold set after the capture
// pass adjusted amounts or voided excess payments. Callers hold the edit
// lock, so the unconditional write cannot race an order edit.
func (s *Store) SaveHolds(ctx context.Context, orderID string, holds []gateway.Hold) error {
	now := s.nowFunc()
	holdsAV, err := attributevalue.Marshal(holds)
	if err != nil {
		return fmt.Errorf("marshal holds: %w", err)
	}
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET holds = :h, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h":  holdsAV,
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("save holds: %w", err)
	}
	return nil
}

// SetCapturedTotal records the total settled with the gateway, in minor
// units at the call site, stored back as major units.
func (s *Store) SetCapturedTotal(ctx context.Context, orderID string, capturedMinor int64) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET captured_total = :ct, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ct": &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", money.ToMajor(capturedMinor))},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("set captured total: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
