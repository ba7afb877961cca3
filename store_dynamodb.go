package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DynamoDBClientInterface interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// table is expected to have a string partition key named "id"
type DynamoItemStore struct {
	client    DynamoDBClientInterface
	tableName string
}

func NewDynamoItemStore(awsConfig aws.Config, tableName string) *DynamoItemStore {
	return &DynamoItemStore{
		client:    dynamodb.NewFromConfig(awsConfig),
		tableName: tableName,
	}
}

func (d *DynamoItemStore) PutItem(ctx context.Context, item Item) error {
	av, err := attributevalue.MarshalMap(toAttributeNumbers(item))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	return err
}

func (d *DynamoItemStore) GetItem(ctx context.Context, id string) (Item, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	if len(out.Item) == 0 {
		return nil, ErrItemNotFound
	}

	var m map[string]any
	err = attributevalue.UnmarshalMapWithOptions(out.Item, &m, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}

	return Item(fromAttributeNumbers(m).(map[string]any)), nil
}

// the client is owned by the aws config, nothing to close here
func (d *DynamoItemStore) Close() error {
	return nil
}

// json.Number would otherwise be written as a string attribute
func toAttributeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		return attributevalue.Number(t)
	case Item:
		return toAttributeNumbers(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toAttributeNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toAttributeNumbers(val)
		}
		return out
	default:
		return v
	}
}

func fromAttributeNumbers(v any) any {
	switch t := v.(type) {
	case attributevalue.Number:
		return json.Number(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = fromAttributeNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = fromAttributeNumbers(val)
		}
		return out
	default:
		return v
	}
}
