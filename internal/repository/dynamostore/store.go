// Package dynamostore provides the DynamoDB storage adapter. It uses a
// single-table layout: sigil records partitioned by tenant, generic
// key-value entries under a reserved partition prefix.
package dynamostore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"sigilmem-backend/internal/repository"
	appErrors "sigilmem-backend/pkg/errors"
)

// batchWriteLimit is DynamoDB's maximum items per BatchWriteItem call.
const batchWriteLimit = 25

// Store is a DynamoDB-backed implementation of repository.Store.
type Store struct {
	logger    *zap.Logger
	client    *dynamodb.Client
	tableName string
}

var _ repository.Store = (*Store)(nil)

// item is the single-table row shape.
type item struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	TenantID  string `dynamodbav:"TenantID,omitempty"`
	RecordID  string `dynamodbav:"RecordID,omitempty"`
	AuthHash  string `dynamodbav:"AuthHash,omitempty"`
	Data      []byte `dynamodbav:"Data"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

func tenantPK(tenantID string) string { return "TENANT#" + tenantID }
func sigilSK(id, authHash string) string {
	return fmt.Sprintf("SIGIL#%s#%s", id, authHash)
}
func kvPK(key string) string { return "KV#" + key }

// New creates a store over an existing DynamoDB client and table.
func New(logger *zap.Logger, client *dynamodb.Client, tableName string) *Store {
	return &Store{logger: logger, client: client, tableName: tableName}
}

// Init verifies the table is reachable.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return appErrors.NewInternal("describing dynamo table", err)
	}
	s.logger.Info("dynamo store ready", zap.String("table", s.tableName))
	return nil
}

// Close is a no-op; the SDK client has no connection to release.
func (s *Store) Close() error { return nil }

// Get returns the value for key or a not-found error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := repository.ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: kvPK(key)},
			"SK": &types.AttributeValueMemberS{Value: "ENTRY"},
		},
	})
	if err != nil {
		return nil, appErrors.NewInternal("dynamo get", err)
	}
	if out.Item == nil {
		return nil, repository.ErrKeyNotFound(key)
	}
	var row item
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, appErrors.NewInternal("decoding dynamo item", err)
	}
	return row.Data, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	row, err := attributevalue.MarshalMap(item{
		PK:        kvPK(key),
		SK:        "ENTRY",
		Data:      value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return appErrors.NewInternal("encoding dynamo item", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      row,
	})
	if err != nil {
		return appErrors.NewInternal("dynamo put", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: kvPK(key)},
			"SK": &types.AttributeValueMemberS{Value: "ENTRY"},
		},
	})
	if err != nil {
		return appErrors.NewInternal("dynamo delete", err)
	}
	return nil
}

// Keys scans for generic keys matching prefix. This is a table scan; the
// generic keyspace is small (configuration entries), so that is acceptable.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := expression.BeginsWith(expression.Name("PK"), kvPK(prefix))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, appErrors.NewInternal("building scan expression", err)
	}

	keys := make([]string, 0)
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, appErrors.NewInternal("dynamo scan", err)
		}
		for _, raw := range page.Items {
			var row item
			if err := attributevalue.UnmarshalMap(raw, &row); err != nil {
				return nil, appErrors.NewInternal("decoding dynamo item", err)
			}
			keys = append(keys, strings.TrimPrefix(row.PK, "KV#"))
		}
	}
	return keys, nil
}

// SetSigilRecord stores a record row under the tenant's partition.
func (s *Store) SetSigilRecord(ctx context.Context, tenantID, id, authHash string, data []byte) error {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return err
	}
	row, err := attributevalue.MarshalMap(sigilItem(tenantID, id, authHash, data))
	if err != nil {
		return appErrors.NewInternal("encoding dynamo record", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      row,
	})
	if err != nil {
		return appErrors.NewInternal("dynamo put record", err)
	}
	return nil
}

func sigilItem(tenantID, id, authHash string, data []byte) item {
	return item{
		PK:        tenantPK(tenantID),
		SK:        sigilSK(id, authHash),
		TenantID:  tenantID,
		RecordID:  id,
		AuthHash:  authHash,
		Data:      data,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// GetSigilRecord returns record data; any address mismatch is not-found.
func (s *Store) GetSigilRecord(ctx context.Context, tenantID, id, authHash string) ([]byte, error) {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: sigilSK(id, authHash)},
		},
	})
	if err != nil {
		return nil, appErrors.NewInternal("dynamo get record", err)
	}
	if out.Item == nil {
		return nil, repository.ErrRecordNotFound(tenantID, id)
	}
	var row item
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, appErrors.NewInternal("decoding dynamo record", err)
	}
	return row.Data, nil
}

// AllSigilRecords queries the tenant's partition for its record rows.
// Tenant scoping is structural: the query key condition makes reading
// another tenant's partition impossible.
func (s *Store) AllSigilRecords(ctx context.Context, tenantID string) ([]repository.Record, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(tenantPK(tenantID))).
		And(expression.Key("SK").BeginsWith("SIGIL#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.NewInternal("building query expression", err)
	}

	records := make([]repository.Record, 0)
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, appErrors.NewInternal("dynamo query records", err)
		}
		for _, raw := range page.Items {
			var row item
			if err := attributevalue.UnmarshalMap(raw, &row); err != nil {
				return nil, appErrors.NewInternal("decoding dynamo record", err)
			}
			updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)
			records = append(records, repository.Record{
				TenantID:  tenantID,
				ID:        row.RecordID,
				AuthHash:  row.AuthHash,
				Data:      row.Data,
				UpdatedAt: updatedAt,
			})
		}
	}
	return records, nil
}

// CountSigilRecords counts the tenant's record rows server-side.
func (s *Store) CountSigilRecords(ctx context.Context, tenantID string) (int, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(tenantPK(tenantID))).
		And(expression.Key("SK").BeginsWith("SIGIL#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return 0, appErrors.NewInternal("building count expression", err)
	}

	total := 0
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    types.SelectCount,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, appErrors.NewInternal("dynamo count records", err)
		}
		total += int(page.Count)
	}
	return total, nil
}

// Batch applies operations through BatchWriteItem in chunks of 25, retrying
// unprocessed items. Each operation carries its own tenant partition key, so
// mixed-tenant batches keep per-operation scoping.
func (s *Store) Batch(ctx context.Context, ops []repository.BatchOp) error {
	for _, op := range ops {
		if err := repository.ValidateSigilAddress(op.TenantID, op.ID, op.AuthHash); err != nil {
			return err
		}
	}
	requests := make([]types.WriteRequest, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case repository.OpSet:
			row, err := attributevalue.MarshalMap(sigilItem(op.TenantID, op.ID, op.AuthHash, op.Data))
			if err != nil {
				return appErrors.NewInternal("encoding batch item", err)
			}
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: row},
			})
		case repository.OpDelete:
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: tenantPK(op.TenantID)},
					"SK": &types.AttributeValueMemberS{Value: sigilSK(op.ID, op.AuthHash)},
				}},
			})
		}
	}

	for start := 0; start < len(requests); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(requests))
		pending := requests[start:end]
		for len(pending) > 0 {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.tableName: pending},
			})
			if err != nil {
				return appErrors.NewInternal("dynamo batch write", err)
			}
			pending = out.UnprocessedItems[s.tableName]
			if len(pending) > 0 {
				s.logger.Debug("retrying unprocessed batch items", zap.Int("count", len(pending)))
			}
		}
	}
	return nil
}
