package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-logr/logr"

	"github.com/app-sre/external-resources-manager/internal/model"
)

// DynamoDBStore is the production Store implementation: one item per
// ResourceKey under a stable-text-path hash key, with a transparent
// fallback to the legacy md5-keyed scheme on read.
type DynamoDBStore struct {
	client *dynamodb.Client
	table  string
	log    logr.Logger
}

// NewDynamoDBStore constructs a DynamoDBStore against table using client.
func NewDynamoDBStore(client *dynamodb.Client, table string, log logr.Logger) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table, log: log.WithName("state.dynamodb")}
}

var _ Store = (*DynamoDBStore)(nil)

func (s *DynamoDBStore) Get(ctx context.Context, key model.ResourceKey) (model.State, error) {
	rec, found, err := s.getByHashKey(ctx, key.StatePath(), key)
	if err != nil {
		return model.State{}, &model.TransientStoreError{Op: "get", Cause: err}
	}
	if found {
		return rec, nil
	}

	// Transparent migration: a record written under the legacy md5 scheme
	// is still readable, but every future write goes under the canonical
	// state-path key.
	rec, found, err = s.getByHashKey(ctx, legacyHashKey(key), key)
	if err != nil {
		return model.State{}, &model.TransientStoreError{Op: "get", Cause: err}
	}
	if found {
		return rec, nil
	}

	return model.NewState(key, time.Now().UTC()), nil
}

func (s *DynamoDBStore) getByHashKey(ctx context.Context, hashKey string, key model.ResourceKey) (model.State, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrHashKey: &types.AttributeValueMemberS{Value: hashKey}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.State{}, false, err
	}
	if len(out.Item) == 0 {
		return model.State{}, false, nil
	}
	rec, err := fromItem(out.Item, false)
	if err != nil {
		return model.State{}, false, err
	}
	rec.Key = key
	return rec, true, nil
}

func (s *DynamoDBStore) Put(ctx context.Context, rec model.State) error {
	item, err := toItem(rec)
	if err != nil {
		return &model.TransientStoreError{Op: "put", Cause: err}
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return &model.TransientStoreError{Op: "put", Cause: err}
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, key model.ResourceKey) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{attrHashKey: &types.AttributeValueMemberS{Value: key.StatePath()}},
	}); err != nil {
		return &model.TransientStoreError{Op: "delete", Cause: err}
	}
	// Best-effort cleanup of a legacy-keyed record too, so a migrated key
	// does not resurrect under its old hash on a future Get.
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{attrHashKey: &types.AttributeValueMemberS{Value: legacyHashKey(key)}},
	})
	if err != nil {
		s.log.V(1).Info("best-effort legacy key delete failed", "key", key, "error", err)
	}
	return nil
}

func (s *DynamoDBStore) ScanPartial(ctx context.Context) ([]PartialRecord, error) {
	var records []PartialRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String(partialProjection),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, &model.TransientStoreError{Op: "scan_partial", Cause: err}
		}
		for _, item := range out.Items {
			rec, err := fromItem(item, true)
			if err != nil {
				return nil, &model.TransientStoreError{Op: "scan_partial", Cause: err}
			}
			records = append(records, PartialRecord{
				Key:          rec.Key,
				Status:       rec.Status,
				ResourceHash: rec.Reconciliation.ResourceHash,
			})
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return records, nil
}

func (s *DynamoDBStore) UpdateStatus(ctx context.Context, key model.ResourceKey, status model.ResourceStatus) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              map[string]types.AttributeValue{attrHashKey: &types.AttributeValueMemberS{Value: key.StatePath()}},
		UpdateExpression: aws.String(fmt.Sprintf("SET %s = :status", attrStatus)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		return &model.TransientStoreError{Op: "update_status", Cause: err}
	}
	return nil
}

// IsNotFound reports whether err represents a "no such item" condition
// rather than a transport/service failure.
func IsNotFound(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}
