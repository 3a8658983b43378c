package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"legalguardian/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"

	DefaultTTL = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Archiver records answered turns. Transports depend on this rather than *Client.
type Archiver interface {
	Archive(ctx context.Context, turn domain.Turn) error
}

// Reader exposes archived transcripts.
type Reader interface {
	GetHistory(ctx context.Context, userID string, limit int) ([]domain.Turn, error)
	GetTurnCount(ctx context.Context, userID string) (int, error)
}

// Client wraps a DynamoDB table holding the answer transcript archive.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a new repository Client. A non-positive ttl uses DefaultTTL.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// userPK returns the DynamoDB partition key for a chat user.
func userPK(userID string) string {
	return "USER#" + userID
}

// turnSK returns the sort key for a turn created at ts.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

// Archive completes the key fields of turn and stores it together with the
// updated per-user metadata in one transaction.
func (c *Client) Archive(ctx context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return errors.New("repository: Archive: user id is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = c.now()
	}
	turn.CreatedAt = turn.CreatedAt.UTC()
	turn.PK = userPK(turn.UserID)
	turn.SK = turnSK(turn.CreatedAt)
	turn.TTL = turn.CreatedAt.Add(c.ttl).Unix()

	if err := c.SaveTurn(ctx, turn); err != nil {
		return fmt.Errorf("repository: Archive: %w", err)
	}
	return nil
}

// SaveTurn writes the turn and increments the user's meta record in one transaction.
func (c *Client) SaveTurn(ctx context.Context, turn domain.Turn) error {
	if turn.PK == "" || turn.SK == "" {
		return errors.New("repository: SaveTurn: turn PK and SK are required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: turn.PK},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET userId = :uid, lastActivity = :la, #ttl = :ttl ADD turns :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":uid": &types.AttributeValueMemberS{Value: turn.UserID},
						":la":  &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339)},
						":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// GetHistory returns up to limit most recent turns for a user in chronological order.
func (c *Client) GetHistory(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Newest first so LIMIT keeps the most recent turns.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	var turns []domain.Turn
	pages := dynamodb.NewQueryPaginator(c.api, in)
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory query: %w", err)
		}
		for _, item := range out.Items {
			turn, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
			}
			turns = append(turns, turn)
		}
		if limit > 0 && len(turns) >= limit {
			turns = turns[:limit]
			break
		}
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// GetTurnCount returns the number of archived turns for a user.
func (c *Client) GetTurnCount(ctx context.Context, userID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: GetTurnCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}

	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: GetTurnCount decode turns: %w", err)
	}
	return turns, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Turn{}, err
	}
	answer, _ := strAttr(item, "answer")
	outcome, _ := strAttr(item, "outcome")
	userID, _ := strAttr(item, "userId")
	requestID, _ := strAttr(item, "requestId")

	createdAt, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(sk, skPrefixTurn))
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: parse sort key %q: %w", sk, err)
	}

	return domain.Turn{
		PK:        pk,
		SK:        sk,
		UserID:    userID,
		RequestID: requestID,
		Question:  question,
		Answer:    answer,
		Outcome:   outcome,
		CreatedAt: createdAt,
	}, nil
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: turn.PK},
		"SK":        &types.AttributeValueMemberS{Value: turn.SK},
		"userId":    &types.AttributeValueMemberS{Value: turn.UserID},
		"requestId": &types.AttributeValueMemberS{Value: turn.RequestID},
		"question":  &types.AttributeValueMemberS{Value: turn.Question},
		"answer":    &types.AttributeValueMemberS{Value: turn.Answer},
		"outcome":   &types.AttributeValueMemberS{Value: turn.Outcome},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
