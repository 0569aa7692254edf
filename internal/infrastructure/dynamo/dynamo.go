// Package dynamo builds the DynamoDB client used when storage.backend is
// "dynamodb" and provisions the locks and logs tables on first start.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
)

// Attribute names shared by the table definitions and the repositories.
const (
	AttrDeviceID = "device_id"
	AttrOwnerID  = "owner_id"
	AttrUserID   = "user_id"
	AttrSortKey  = "sk"

	tableWaitTimeout = 2 * time.Minute
)

// Client is a DynamoDB client bound to the configured table names.
type Client struct {
	*dynamodb.Client
	Tables config.DynamoDBConfig
}

// Connect loads AWS credentials from the default chain and builds a client.
// A non-empty cfg.Endpoint points the client at a local emulator.
func Connect(ctx context.Context, cfg config.DynamoDBConfig) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Client{Client: client, Tables: cfg}, nil
}

// EnsureTables creates the locks and logs tables (with their owner and
// user indexes) when they do not exist yet, then waits until both are active.
func (c *Client) EnsureTables(ctx context.Context) error {
	for _, input := range []*dynamodb.CreateTableInput{c.locksTable(), c.logsTable()} {
		_, err := c.CreateTable(ctx, input)
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", aws.ToString(input.TableName), err)
		}

		waiter := dynamodb.NewTableExistsWaiter(c.Client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName}, tableWaitTimeout); err != nil {
			return fmt.Errorf("wait for table %s: %w", aws.ToString(input.TableName), err)
		}
	}
	return nil
}

// HealthCheck describes the locks table.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.Tables.LocksTable)}); err != nil {
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

func stringAttr(name string) types.AttributeDefinition {
	return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
}

func key(name string, kt types.KeyType) types.KeySchemaElement {
	return types.KeySchemaElement{AttributeName: aws.String(name), KeyType: kt}
}

func (c *Client) locksTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:            aws.String(c.Tables.LocksTable),
		BillingMode:          types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{stringAttr(AttrDeviceID), stringAttr(AttrOwnerID)},
		KeySchema:            []types.KeySchemaElement{key(AttrDeviceID, types.KeyTypeHash)},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName:  aws.String(c.Tables.OwnerIndex),
			KeySchema:  []types.KeySchemaElement{key(AttrOwnerID, types.KeyTypeHash)},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	}
}

func (c *Client) logsTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(c.Tables.LogsTable),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			stringAttr(AttrDeviceID), stringAttr(AttrSortKey), stringAttr(AttrUserID),
		},
		KeySchema: []types.KeySchemaElement{
			key(AttrDeviceID, types.KeyTypeHash),
			key(AttrSortKey, types.KeyTypeRange),
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(c.Tables.UserIndex),
			KeySchema: []types.KeySchemaElement{
				key(AttrUserID, types.KeyTypeHash),
				key(AttrSortKey, types.KeyTypeRange),
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	}
}
