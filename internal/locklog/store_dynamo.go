package locklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/database"
)

// DynamoStore implements Store over a table with hash key device_id and
// range key sk. The sort key is the fixed-width timestamp followed by the
// entry id, so a descending query returns newest first.
//
// Same-timestamp ties are broken by id rather than insertion order. The
// ingest path never writes two entries for one device at the same instant.
type DynamoStore struct {
	client    *dynamodb.Client
	table     string
	userIndex string
}

// NewDynamoStore creates a store over an existing table.
func NewDynamoStore(client *dynamodb.Client, table, userIndex string) *DynamoStore {
	return &DynamoStore{client: client, table: table, userIndex: userIndex}
}

type entryItem struct {
	DeviceID  string `dynamodbav:"device_id"`
	SortKey   string `dynamodbav:"sk"`
	ID        string `dynamodbav:"id"`
	Timestamp int64  `dynamodbav:"timestamp"`
	Status    string `dynamodbav:"status"`
	State     string `dynamodbav:"state"`
	Action    string `dynamodbav:"action,omitempty"`
	UserID    string `dynamodbav:"user_id,omitempty"`
	Synthetic bool   `dynamodbav:"synthetic"`
}

func sortKey(e *Entry) string {
	return database.FormatTime(e.Timestamp) + "#" + e.ID
}

func (s *DynamoStore) Append(ctx context.Context, e *Entry) error {
	if err := e.prepare(); err != nil {
		return err
	}

	av, err := attributevalue.MarshalMap(entryItem{
		DeviceID:  e.DeviceID,
		SortKey:   sortKey(e),
		ID:        e.ID,
		Timestamp: e.Timestamp.UnixNano(),
		Status:    e.Status,
		State:     e.State,
		Action:    e.Action,
		UserID:    e.UserID,
		Synthetic: e.Synthetic,
	})
	if err != nil {
		return fmt.Errorf("marshalling lock log: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
	}
	if err != nil {
		return fmt.Errorf("putting lock log: %w", err)
	}
	return nil
}

func (s *DynamoStore) MostRecent(ctx context.Context, deviceID string) (*Entry, error) {
	out, err := s.client.Query(ctx, s.byDevice(deviceID, 1))
	if err != nil {
		return nil, fmt.Errorf("querying most recent lock log: %w", err)
	}
	entries, err := unmarshalEntries(out.Items)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return &entries[0], nil
}

func (s *DynamoStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	return s.query(ctx, s.byDevice(deviceID, clampLimit(limit)))
}

func (s *DynamoStore) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.userIndex),
		KeyConditionExpression: aws.String("user_id = :user"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(clampLimit(limit))), //nolint:gosec // G115: clamped to 200
	})
}

func (s *DynamoStore) byDevice(deviceID string, limit int) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("device_id = :device"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":device": &types.AttributeValueMemberS{Value: deviceID},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(int32(limit)), //nolint:gosec // G115: clamped to 200
	}
}

// query reads a single page. Limit bounds the page, so one page is
// the whole answer.
func (s *DynamoStore) query(ctx context.Context, in *dynamodb.QueryInput) ([]Entry, error) {
	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("querying lock logs: %w", err)
	}
	return unmarshalEntries(out.Items)
}

func unmarshalEntries(items []map[string]types.AttributeValue) ([]Entry, error) {
	var raw []entryItem
	if err := attributevalue.UnmarshalListOfMaps(items, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling lock logs: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, it := range raw {
		entries = append(entries, Entry{
			ID:        it.ID,
			Timestamp: time.Unix(0, it.Timestamp).UTC(),
			DeviceID:  it.DeviceID,
			Status:    it.Status,
			State:     it.State,
			Action:    it.Action,
			UserID:    it.UserID,
			Synthetic: it.Synthetic,
		})
	}
	return entries, nil
}
