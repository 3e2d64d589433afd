package orders

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory mock supporting the GetItem/PutItem/
// UpdateItem calls the orders Store issues, including the conditional
// expressions used for the edit lock and completion transitions.
// Intentionally minimal, not production-grade.
type mockDynamo struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	updateCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keyAttr, ok := params.Item["order_id"]
	if !ok {
		return nil, errors.New("no primary key in put item")
	}
	pk := keyAttr.(*types.AttributeValueMemberS).Value
	m.table[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	delete(m.table, pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++

	pk := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, exists := m.table[pk]

	if params.ConditionExpression != nil {
		cond := *params.ConditionExpression
		if strings.Contains(cond, "attribute_exists(order_id)") && !exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if strings.Contains(cond, "edit_status <> :locked") {
			locked := params.ExpressionAttributeValues[":locked"].(*types.AttributeValueMemberS).Value
			if cur, ok := item["edit_status"]; ok {
				if cur.(*types.AttributeValueMemberS).Value == locked {
					return nil, &types.ConditionalCheckFailedException{}
				}
			}
		}
		if strings.Contains(cond, "#s <> :canceled") {
			canceled := params.ExpressionAttributeValues[":canceled"].(*types.AttributeValueMemberS).Value
			if cur, ok := item["status"]; ok {
				if cur.(*types.AttributeValueMemberS).Value == canceled {
					return nil, &types.ConditionalCheckFailedException{}
				}
			}
		}
	}

	if !exists {
		item = map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: pk},
		}
		m.table[pk] = item
	}

	// Apply the SET expression verbatim for the fields the store writes.
	expr := strings.TrimPrefix(*params.UpdateExpression, "SET ")
	for _, assign := range strings.Split(expr, ", ") {
		parts := strings.SplitN(assign, " = ", 2)
		if len(parts) != 2 {
			continue
		}
		field := parts[0]
		if field == "#s" {
			field = params.ExpressionAttributeNames["#s"]
		}
		if v, ok := params.ExpressionAttributeValues[parts[1]]; ok {
			item[field] = v
		}
	}

	return &dyn.UpdateItemOutput{}, nil
}
