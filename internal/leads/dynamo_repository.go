package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// contextItem is the DynamoDB row. The context travels as a JSON document so
// the schema matches the Postgres table.
type contextItem struct {
	LeadID    string `dynamodbav:"leadId"`
	Version   int64  `dynamodbav:"version"`
	State     string `dynamodbav:"state"`
	Document  string `dynamodbav:"document"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

// DynamoRepository persists contexts in DynamoDB using conditional writes.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewDynamoRepository builds a repository backed by the provided DynamoDB client.
func NewDynamoRepository(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoRepository {
	if client == nil {
		panic("leads: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("leads: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRepository{client: client, tableName: tableName, logger: logger}
}

// Load fetches a context with a strongly consistent read.
func (r *DynamoRepository) Load(ctx context.Context, leadID string) (*ConversationContext, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"leadId": &types.AttributeValueMemberS{Value: leadID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("leads: failed to fetch context: %w", err)
	}
	if out.Item == nil {
		return nil, ErrLeadNotFound
	}
	var item contextItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("leads: failed to decode item: %w", err)
	}
	var lc ConversationContext
	if err := json.Unmarshal([]byte(item.Document), &lc); err != nil {
		return nil, fmt.Errorf("leads: failed to decode context: %w", err)
	}
	lc.Version = item.Version
	return &lc, nil
}

// Save writes the context only if the stored version matches.
func (r *DynamoRepository) Save(ctx context.Context, lc *ConversationContext, expectedVersion int64) error {
	if lc == nil || lc.LeadID == "" {
		return ErrMissingLeadID
	}
	next := *lc
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("leads: failed to encode context: %w", err)
	}
	item, err := attributevalue.MarshalMap(contextItem{
		LeadID:    lc.LeadID,
		Version:   next.Version,
		State:     string(lc.State),
		Document:  string(doc),
		UpdatedAt: lc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("leads: failed to marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(leadId)")
	} else {
		input.ConditionExpression = aws.String("#version = :expected")
		input.ExpressionAttributeNames = map[string]string{"#version": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		}
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			r.logger.Debug("dynamo version conflict", "lead_id", lc.LeadID, "expected_version", expectedVersion)
			return ErrVersionConflict
		}
		return fmt.Errorf("leads: failed to persist context: %w", err)
	}
	lc.Version = next.Version
	return nil
}
