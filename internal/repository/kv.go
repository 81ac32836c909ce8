package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// kvKey returns the primary key of a key-value record.
func kvKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key},
		"SK": &types.AttributeValueMemberS{Value: skKV},
	}
}

func validKey(op, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("repository: %s: key is required", op)
	}
	return nil
}

// Get returns the value stored under key. ok is false when no record exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validKey("Get", key); err != nil {
		return "", false, err
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            kvKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	val, err := strAttr(out.Item, "val")
	if err != nil {
		return "", false, fmt.Errorf("repository: Get decode: %w", err)
	}
	return val, true, nil
}

// Exists reports whether a record is stored under key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// SetIfAbsent writes value under key only when no record exists yet. The
// check and the write are one conditional PutItem, so concurrent callers
// across shards see exactly one winner.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	if err := validKey("SetIfAbsent", key); err != nil {
		return false, err
	}
	item := kvKey(key)
	item["val"] = &types.AttributeValueMemberS{Value: value}
	item["createdAt"] = numValue(c.now().Unix())

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("repository: SetIfAbsent: %w", err)
	}
	return true, nil
}

// Put writes value under key unconditionally.
func (c *Client) Put(ctx context.Context, key, value string) error {
	if err := validKey("Put", key); err != nil {
		return err
	}
	item := kvKey(key)
	item["val"] = &types.AttributeValueMemberS{Value: value}
	item["createdAt"] = numValue(c.now().Unix())

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// Delete removes the record under key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := validKey("Delete", key); err != nil {
		return err
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       kvKey(key),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

// DeleteIfEquals removes the record under key only while it still holds value.
func (c *Client) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	if err := validKey("DeleteIfEquals", key); err != nil {
		return false, err
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 kvKey(key),
		ConditionExpression: aws.String("val = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("repository: DeleteIfEquals: %w", err)
	}
	return true, nil
}

var errEmptyUser = errors.New("repository: user id is required")
