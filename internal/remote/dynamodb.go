package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// sortTimeLayout is fixed width so sort keys order the same way as time.
const sortTimeLayout = "2006-01-02T15:04:05.000000000Z"

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// ddbRecord is the single-table item layout:
// PK = USER#<owner>, SK = <KIND>#<createdAt>#<id>.
type ddbRecord struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	ID        string `dynamodbav:"ID"`
	Kind      string `dynamodbav:"Kind"`
	OwnerID   string `dynamodbav:"OwnerID"`
	CreatedAt string `dynamodbav:"CreatedAt"`
	Name      string `dynamodbav:"Name"`
	Dosage    string `dynamodbav:"Dosage,omitempty"`
	Frequency string `dynamodbav:"Frequency,omitempty"`
}

// DynamoDB stores records in a single DynamoDB table. The adapter plays the
// server role: it assigns identifiers and timestamps on insert.
type DynamoDB struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
	logger    *zap.Logger
}

// NewDynamoDB creates a DynamoDB-backed store.
func NewDynamoDB(client DynamoDBAPI, tableName string, logger *zap.Logger) *DynamoDB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDB{
		client:    client,
		tableName: tableName,
		now:       time.Now,
		logger:    logger,
	}
}

func ownerPK(ownerID string) string {
	return fmt.Sprintf("USER#%s", ownerID)
}

func kindPrefix(kind string) string {
	return strings.ToUpper(kind) + "#"
}

// ListByOwner implements Store.
func (r *DynamoDB) ListByOwner(ctx context.Context, kind, ownerID string) ([]medication.Record, error) {
	keyExpr := expression.Key("PK").Equal(expression.Value(ownerPK(ownerID))).
		And(expression.Key("SK").BeginsWith(kindPrefix(kind)))

	expr, err := expression.NewBuilder().WithKeyCondition(keyExpr).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	var out []medication.Record
	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, classifyDynamoError(OpListByOwner, err)
		}

		for _, item := range result.Items {
			var row ddbRecord
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				r.logger.Warn("Failed to parse item", zap.Error(err))
				continue
			}
			rec, err := row.record()
			if err != nil {
				r.logger.Warn("Skipping item with bad timestamp",
					zap.String("sk", row.SK),
					zap.Error(err),
				)
				continue
			}
			out = append(out, rec)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	medication.SortByCreatedAt(out)
	return out, nil
}

// Insert implements Store.
func (r *DynamoDB) Insert(ctx context.Context, kind, ownerID string, fields medication.Fields) (medication.Record, error) {
	rec := medication.Record{
		ID:        uuid.NewString(),
		CreatedAt: r.now().UTC(),
		OwnerID:   ownerID,
		Fields:    fields,
	}
	createdAt := rec.CreatedAt.Format(sortTimeLayout)

	item, err := attributevalue.MarshalMap(ddbRecord{
		PK:        ownerPK(ownerID),
		SK:        kindPrefix(kind) + createdAt + "#" + rec.ID,
		ID:        rec.ID,
		Kind:      kind,
		OwnerID:   ownerID,
		CreatedAt: createdAt,
		Name:      fields.Name,
		Dosage:    fields.Dosage,
		Frequency: fields.Frequency,
	})
	if err != nil {
		return medication.Record{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return medication.Record{}, fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return medication.Record{}, classifyDynamoError(OpInsert, err)
	}

	r.logger.Debug("Record inserted",
		zap.String("kind", kind),
		zap.String("id", rec.ID),
		zap.String("owner_id", ownerID),
	)
	return rec, nil
}

func (row ddbRecord) record() (medication.Record, error) {
	createdAt, err := time.Parse(sortTimeLayout, row.CreatedAt)
	if err != nil {
		return medication.Record{}, err
	}
	return medication.Record{
		ID:        row.ID,
		CreatedAt: createdAt,
		OwnerID:   row.OwnerID,
		Fields: medication.Fields{
			Name:      row.Name,
			Dosage:    row.Dosage,
			Frequency: row.Frequency,
		},
	}, nil
}

// classifyDynamoError turns SDK API errors into messages a user can act on.
func classifyDynamoError(operation string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("dynamodb %s: record already exists: %w", operation, err)
	}

	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return fmt.Errorf("dynamodb %s: %w", operation, err)
	}

	switch ae.ErrorCode() {
	case "ResourceNotFoundException":
		return fmt.Errorf("dynamodb %s: table not found: %w", operation, err)
	case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
		return fmt.Errorf("dynamodb %s: throttled, retry later: %w", operation, err)
	case "ValidationException":
		return fmt.Errorf("dynamodb %s: rejected: %s: %w", operation, ae.ErrorMessage(), err)
	default:
		return fmt.Errorf("dynamodb %s: %s: %w", operation, ae.ErrorCode(), err)
	}
}
