package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"media-companion/internal/domain"
)

func profileKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: skProfile},
	}
}

func (c *Client) getProfile(ctx context.Context, op, userID, projection string) (map[string]types.AttributeValue, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("repository: %s: %w", op, errEmptyUser)
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.tableName),
		Key:                  profileKey(userID),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(projection),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: %s get item: %w", op, err)
	}
	if out == nil {
		return nil, nil
	}
	return out.Item, nil
}

// GetRemainingMinutes returns the user's remaining time budget. Users without
// a profile record get the configured default.
func (c *Client) GetRemainingMinutes(ctx context.Context, userID string) (int, error) {
	item, err := c.getProfile(ctx, "GetRemainingMinutes", userID, "remainingMinutes")
	if err != nil {
		return 0, err
	}
	if _, ok := item["remainingMinutes"]; !ok {
		return c.defaultMinutes, nil
	}
	minutes, err := intAttr(item, "remainingMinutes")
	if err != nil {
		return 0, fmt.Errorf("repository: GetRemainingMinutes decode: %w", err)
	}
	return minutes, nil
}

// DeductMinutes subtracts n minutes from the user's budget. The balance may go
// negative when a session overran its check interval.
func (c *Client) DeductMinutes(ctx context.Context, userID string, n int) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("repository: DeductMinutes: %w", errEmptyUser)
	}
	if n <= 0 {
		return nil
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              profileKey(userID),
		UpdateExpression: aws.String("SET remainingMinutes = if_not_exists(remainingMinutes, :default) - :n, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":default": numValue(int64(c.defaultMinutes)),
			":n":       numValue(int64(n)),
			":now":     &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: DeductMinutes: %w", err)
	}
	return nil
}

// GetPremiumFlag reports whether the user is flagged premium.
func (c *Client) GetPremiumFlag(ctx context.Context, userID string) (bool, error) {
	item, err := c.getProfile(ctx, "GetPremiumFlag", userID, "premium")
	if err != nil {
		return false, err
	}
	return boolAttr(item, "premium"), nil
}

// GetProfileSummary returns the stored profile summary, empty when none exists.
func (c *Client) GetProfileSummary(ctx context.Context, userID string) (string, error) {
	return c.optionalString(ctx, "GetProfileSummary", userID, "profileSummary")
}

// GetPersonalNotes returns the user's stored personalization notes.
func (c *Client) GetPersonalNotes(ctx context.Context, userID string) (string, error) {
	return c.optionalString(ctx, "GetPersonalNotes", userID, "personalNotes")
}

func (c *Client) optionalString(ctx context.Context, op, userID, attr string) (string, error) {
	item, err := c.getProfile(ctx, op, userID, attr)
	if err != nil {
		return "", err
	}
	if _, ok := item[attr]; !ok {
		return "", nil
	}
	v, err := strAttr(item, attr)
	if err != nil {
		return "", fmt.Errorf("repository: %s decode: %w", op, err)
	}
	return v, nil
}

// SetProfileSummary replaces the user's profile summary.
func (c *Client) SetProfileSummary(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("repository: SetProfileSummary: %w", errEmptyUser)
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              profileKey(userID),
		UpdateExpression: aws.String("SET profileSummary = :s, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":   &types.AttributeValueMemberS{Value: text},
			":now": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SetProfileSummary: %w", err)
	}
	return nil
}

// NewSessionSummary constructs a history record with PK/SK/TTL set.
func (c *Client) NewSessionSummary(s domain.SessionSummary) domain.SessionSummary {
	ended := c.now().UTC()
	s.PK = userPK(s.UserID)
	s.SK = sessionSK(ended)
	if s.EndedAt == "" {
		s.EndedAt = ended.Format(time.RFC3339)
	}
	s.TTL = c.ttlValue()
	return s
}

// RecordSession persists an end-of-session history record.
func (c *Client) RecordSession(ctx context.Context, s domain.SessionSummary) error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("repository: RecordSession: %w", errEmptyUser)
	}
	if s.PK == "" || s.SK == "" {
		s = c.NewSessionSummary(s)
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                summaryItem(s),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordSession: %w", err)
	}
	return nil
}

// ListSessions returns the user's most recent session records, newest first.
func (c *Client) ListSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("repository: ListSessions: %w", errEmptyUser)
	}
	if limit <= 0 {
		limit = 20
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixSes},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListSessions query: %w", err)
	}
	summaries := make([]domain.SessionSummary, 0, len(out.Items))
	for _, item := range out.Items {
		s, err := itemToSummary(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSessions unmarshal: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func summaryItem(s domain.SessionSummary) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: s.PK},
		"SK":             &types.AttributeValueMemberS{Value: s.SK},
		"sessionId":      &types.AttributeValueMemberS{Value: s.SessionID},
		"userId":         &types.AttributeValueMemberS{Value: s.UserID},
		"character":      &types.AttributeValueMemberS{Value: s.Character},
		"shardId":        &types.AttributeValueMemberS{Value: s.ShardID},
		"startedAt":      &types.AttributeValueMemberS{Value: s.StartedAt},
		"endedAt":        &types.AttributeValueMemberS{Value: s.EndedAt},
		"minutesUsed":    numValue(int64(s.MinutesUsed)),
		"reason":         &types.AttributeValueMemberS{Value: string(s.Reason)},
		"deliveredCount": numValue(int64(s.DeliveredCount)),
		"ttl":            numValue(s.TTL),
	}
	if len(s.TriggerTags) > 0 {
		item["triggerTags"] = &types.AttributeValueMemberSS{Value: s.TriggerTags}
	}
	return item
}

func itemToSummary(item map[string]types.AttributeValue) (domain.SessionSummary, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.SessionSummary{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.SessionSummary{}, err
	}
	minutes, err := intAttr(item, "minutesUsed")
	if err != nil {
		return domain.SessionSummary{}, err
	}
	character, _ := strAttr(item, "character") // allow empty
	shardID, _ := strAttr(item, "shardId")
	startedAt, _ := strAttr(item, "startedAt")
	endedAt, _ := strAttr(item, "endedAt")
	reason, _ := strAttr(item, "reason")
	delivered, _ := intAttr(item, "deliveredCount")

	var tags []string
	if ss, ok := item["triggerTags"].(*types.AttributeValueMemberSS); ok {
		tags = ss.Value
	}
	pk, _ := strAttr(item, "PK")
	sk, _ := strAttr(item, "SK")
	return domain.SessionSummary{
		PK:             pk,
		SK:             sk,
		SessionID:      sessionID,
		UserID:         userID,
		Character:      character,
		ShardID:        shardID,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		MinutesUsed:    minutes,
		Reason:         domain.EndReason(reason),
		TriggerTags:    tags,
		DeliveredCount: delivered,
	}, nil
}
