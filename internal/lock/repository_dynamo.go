package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoRepository stores locks as items keyed by device_id.
// Timestamps are stored as Unix nanoseconds so conditional writes can
// compare them numerically.
type DynamoRepository struct {
	client     *dynamodb.Client
	table      string
	ownerIndex string
}

// NewDynamoRepository creates a repository over an existing table.
func NewDynamoRepository(client *dynamodb.Client, table, ownerIndex string) *DynamoRepository {
	return &DynamoRepository{client: client, table: table, ownerIndex: ownerIndex}
}

type lockItem struct {
	DeviceID      string  `dynamodbav:"device_id"`
	Name          string  `dynamodbav:"name"`
	OwnerID       string  `dynamodbav:"owner_id"`
	Status        string  `dynamodbav:"status"`
	State         string  `dynamodbav:"state"`
	ReportedState string  `dynamodbav:"reported_state,omitempty"`
	LastSeen      *int64  `dynamodbav:"last_seen,omitempty"`
	Issue         *string `dynamodbav:"issue,omitempty"`
	CreatedAt     int64   `dynamodbav:"created_at"`
	UpdatedAt     int64   `dynamodbav:"updated_at"`
}

func toItem(l *Lock) lockItem {
	item := lockItem{
		DeviceID:      l.DeviceID,
		Name:          l.Name,
		OwnerID:       l.OwnerID,
		Status:        l.Status,
		State:         l.State,
		ReportedState: l.ReportedState,
		Issue:         l.Issue,
		CreatedAt:     l.CreatedAt.UnixNano(),
		UpdatedAt:     l.UpdatedAt.UnixNano(),
	}
	if l.LastSeen != nil {
		ns := l.LastSeen.UnixNano()
		item.LastSeen = &ns
	}
	return item
}

func (it lockItem) toLock() Lock {
	l := Lock{
		DeviceID:      it.DeviceID,
		Name:          it.Name,
		OwnerID:       it.OwnerID,
		Status:        it.Status,
		State:         it.State,
		ReportedState: it.ReportedState,
		Issue:         it.Issue,
		CreatedAt:     time.Unix(0, it.CreatedAt).UTC(),
		UpdatedAt:     time.Unix(0, it.UpdatedAt).UTC(),
	}
	if it.LastSeen != nil {
		ts := time.Unix(0, *it.LastSeen).UTC()
		l.LastSeen = &ts
	}
	return l
}

func deviceKey(deviceID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"device_id": &types.AttributeValueMemberS{Value: deviceID},
	}
}

func nanos(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprint(t.UnixNano())}
}

func (r *DynamoRepository) Create(ctx context.Context, l *Lock) error {
	av, err := attributevalue.MarshalMap(toItem(l))
	if err != nil {
		return fmt.Errorf("marshalling lock: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(device_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrLockExists
	}
	if err != nil {
		return fmt.Errorf("putting lock: %w", err)
	}
	return nil
}

func (r *DynamoRepository) GetByID(ctx context.Context, deviceID string) (*Lock, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            deviceKey(deviceID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting lock: %w", err)
	}
	if out.Item == nil {
		return nil, ErrLockNotFound
	}

	var item lockItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshalling lock: %w", err)
	}
	l := item.toLock()
	return &l, nil
}

func (r *DynamoRepository) List(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{TableName: aws.String(r.table)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning locks: %w", err)
		}
		batch, err := unmarshalLocks(page.Items)
		if err != nil {
			return nil, err
		}
		locks = append(locks, batch...)
	}
	return locks, nil
}

func (r *DynamoRepository) ListByOwner(ctx context.Context, ownerID string) ([]Lock, error) {
	var locks []Lock
	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(r.ownerIndex),
		KeyConditionExpression: aws.String("owner_id = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying locks by owner: %w", err)
		}
		batch, err := unmarshalLocks(page.Items)
		if err != nil {
			return nil, err
		}
		locks = append(locks, batch...)
	}
	return locks, nil
}

// UpsertStatus uses a conditional update so a delayed retry can never move
// last_seen backwards.
func (r *DynamoRepository) UpsertStatus(ctx context.Context, deviceID, status, state string, lastSeen time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key:       deviceKey(deviceID),
		ConditionExpression: aws.String(
			"attribute_exists(device_id) AND (attribute_not_exists(last_seen) OR last_seen <= :last_seen)",
		),
		UpdateExpression: aws.String(
			"SET #status = :status, #state = :state, reported_state = :state, last_seen = :last_seen, updated_at = :updated_at",
		),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
			"#state":  "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: status},
			":state":      &types.AttributeValueMemberS{Value: state},
			":last_seen":  nanos(lastSeen),
			":updated_at": nanos(time.Now()),
		},
	})
	return r.explainConditional(ctx, err, deviceID, ErrStaleStatus, "updating lock status")
}

// SetState only applies while the item's last_seen still equals lastSeen,
// so a sweep that lost a race with a newer report changes nothing.
func (r *DynamoRepository) SetState(ctx context.Context, deviceID, state string, lastSeen time.Time) error {
	values := map[string]types.AttributeValue{
		":state":      &types.AttributeValueMemberS{Value: state},
		":updated_at": nanos(time.Now()),
	}
	cond := "attribute_exists(device_id) AND attribute_not_exists(last_seen)"
	if !lastSeen.IsZero() {
		cond = "attribute_exists(device_id) AND last_seen = :last_seen"
		values[":last_seen"] = nanos(lastSeen)
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       deviceKey(deviceID),
		ConditionExpression:       aws.String(cond),
		UpdateExpression:          aws.String("SET #state = :state, updated_at = :updated_at"),
		ExpressionAttributeNames:  map[string]string{"#state": "state"},
		ExpressionAttributeValues: values,
	})
	return r.explainConditional(ctx, err, deviceID, ErrStaleStatus, "updating lock state")
}

func (r *DynamoRepository) SetOwner(ctx context.Context, deviceID, ownerID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 deviceKey(deviceID),
		ConditionExpression: aws.String("attribute_exists(device_id)"),
		UpdateExpression:    aws.String("SET owner_id = :owner, updated_at = :updated_at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":      &types.AttributeValueMemberS{Value: ownerID},
			":updated_at": nanos(time.Now()),
		},
	})
	return r.explainConditional(ctx, err, deviceID, ErrLockNotFound, "updating lock owner")
}

// explainConditional maps a failed condition to ErrLockNotFound when the
// item is absent and to existsErr otherwise.
func (r *DynamoRepository) explainConditional(ctx context.Context, err error, deviceID string, existsErr error, op string) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, getErr := r.GetByID(ctx, deviceID); errors.Is(getErr, ErrLockNotFound) {
		return ErrLockNotFound
	}
	return existsErr
}

func unmarshalLocks(items []map[string]types.AttributeValue) ([]Lock, error) {
	var raw []lockItem
	if err := attributevalue.UnmarshalListOfMaps(items, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling locks: %w", err)
	}
	locks := make([]Lock, 0, len(raw))
	for _, it := range raw {
		locks = append(locks, it.toLock())
	}
	return locks, nil
}
