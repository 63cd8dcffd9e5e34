package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/models"
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client        dynamodbiface.DynamoDBAPI
	attemptsTable string
	feedbackTable string
	log           logrus.FieldLogger
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, &apperr.ConnectionError{Backend: config.StorageDynamoDB, Err: err}
	}

	storage := newDynamoDBStorage(dynamodb.New(sess), cfg.TableName, log)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	for _, table := range []struct{ name, key string }{
		{storage.attemptsTable, "email"},
		{storage.feedbackTable, "id"},
	} {
		if err := storage.ensureTable(ctx, table.name, table.key); err != nil {
			return nil, err
		}
	}

	storage.log.WithField("prefix", cfg.TableName).Info("connected to dynamodb")
	return storage, nil
}

func newDynamoDBStorage(client dynamodbiface.DynamoDBAPI, prefix string, log logrus.FieldLogger) *DynamoDBStorage {
	return &DynamoDBStorage{
		client:        client,
		attemptsTable: prefix + "_attempts",
		feedbackTable: prefix + "_feedback",
		log:           log.WithField("storage", config.StorageDynamoDB),
	}
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoDBStorage) ensureTable(ctx context.Context, name, hashKey string) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil
	}
	if !isAWSCode(err, dynamodb.ErrCodeResourceNotFoundException) {
		return &apperr.ConnectionError{Backend: config.StorageDynamoDB, Err: err}
	}

	_, err = d.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: aws.String("HASH")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(hashKey), AttributeType: aws.String("S")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	return d.client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

// FindOrCreateAttempts reads the record, creating it with a conditional put if missing
func (d *DynamoDBStorage) FindOrCreateAttempts(ctx context.Context, email string, now time.Time) (*models.AttemptRecord, error) {
	rec, err := d.getAttempts(ctx, email)
	if err != nil || rec != nil {
		return rec, err
	}

	rec = models.NewAttemptRecord(email, now)
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attempts for %s: %w", email, err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.attemptsTable),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#email)"),
		ExpressionAttributeNames: map[string]*string{"#email": aws.String("email")},
	})
	if isAWSCode(err, dynamodb.ErrCodeConditionalCheckFailedException) {
		// Created concurrently by another request.
		return d.getAttempts(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create attempts for %s: %w", email, err)
	}
	return rec, nil
}

func (d *DynamoDBStorage) getAttempts(ctx context.Context, email string) (*models.AttemptRecord, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.attemptsTable),
		Key:            map[string]*dynamodb.AttributeValue{"email": {S: aws.String(email)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts for %s: %w", email, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var rec models.AttemptRecord
	if err := dynamodbattribute.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempts: %w", err)
	}
	if rec.History == nil {
		rec.History = []models.AttemptEvent{}
	}
	return &rec, nil
}

// IncrementAttempts writes the next count conditioned on the count it read.
// History only changes together with count, so the whole list is replaced.
func (d *DynamoDBStorage) IncrementAttempts(ctx context.Context, email string, max int, now time.Time) (*models.AttemptRecord, error) {
	for i := 0; i < casRetries; i++ {
		rec, err := d.FindOrCreateAttempts(ctx, email, now)
		if err != nil {
			return nil, err
		}
		if rec.Count >= max {
			return rec, ErrLimitReached
		}

		next := rec.Clone()
		next.History = append(next.History, nextEvent(rec.Count, now))
		next.Count++
		next.UpdatedAt = now

		history, err := dynamodbattribute.Marshal(next.History)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
		updatedAt, err := dynamodbattribute.Marshal(now)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
		}

		_, err = d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(d.attemptsTable),
			Key:                 map[string]*dynamodb.AttributeValue{"email": {S: aws.String(email)}},
			UpdateExpression:    aws.String("SET #count = :next, #updatedAt = :now, #attempts = :history"),
			ConditionExpression: aws.String("#count = :expected"),
			ExpressionAttributeNames: map[string]*string{
				"#count":     aws.String("count"),
				"#updatedAt": aws.String("updatedAt"),
				"#attempts":  aws.String("attempts"),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":next":     {N: aws.String(strconv.Itoa(next.Count))},
				":expected": {N: aws.String(strconv.Itoa(rec.Count))},
				":now":      updatedAt,
				":history":  history,
			},
		})
		if isAWSCode(err, dynamodb.ErrCodeConditionalCheckFailedException) {
			d.log.WithField("email", email).Debug("attempt count moved, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to increment attempts for %s: %w", email, err)
		}
		return next, nil
	}
	return nil, ErrContention
}

// CountAttempts counts tracked emails
func (d *DynamoDBStorage) CountAttempts(ctx context.Context) (int64, error) {
	return d.count(ctx, d.attemptsTable, models.FeedbackFilter{})
}

// InsertFeedback stores a feedback record
func (d *DynamoDBStorage) InsertFeedback(ctx context.Context, rec models.FeedbackRecord) error {
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback %s: %w", rec.ID, err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.feedbackTable),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]*string{"#id": aws.String("id")},
	})
	if err != nil {
		return fmt.Errorf("failed to store feedback %s: %w", rec.ID, err)
	}
	return nil
}

// FindFeedback scans the feedback table and pages the sorted result in process
func (d *DynamoDBStorage) FindFeedback(ctx context.Context, filter models.FeedbackFilter, limit, offset int) ([]models.FeedbackRecord, error) {
	var recs []models.FeedbackRecord
	err := d.scan(ctx, d.feedbackTable, filter, false, func(out *dynamodb.ScanOutput) error {
		var page []models.FeedbackRecord
		if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return fmt.Errorf("failed to unmarshal feedback: %w", err)
		}
		recs = append(recs, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortAndPage(recs, limit, offset), nil
}

// CountFeedback counts matching feedback
func (d *DynamoDBStorage) CountFeedback(ctx context.Context, filter models.FeedbackFilter) (int64, error) {
	return d.count(ctx, d.feedbackTable, filter)
}

func (d *DynamoDBStorage) count(ctx context.Context, table string, filter models.FeedbackFilter) (int64, error) {
	var n int64
	err := d.scan(ctx, table, filter, true, func(out *dynamodb.ScanOutput) error {
		n += aws.Int64Value(out.Count)
		return nil
	})
	return n, err
}

// scan walks every page of table, applying the filter server-side
func (d *DynamoDBStorage) scan(ctx context.Context, table string, filter models.FeedbackFilter, countOnly bool, fn func(*dynamodb.ScanOutput) error) error {
	input := &dynamodb.ScanInput{TableName: aws.String(table)}
	if countOnly {
		input.Select = aws.String(dynamodb.SelectCount)
	}
	applyScanFilter(input, filter)

	for {
		out, err := d.client.ScanWithContext(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if err := fn(out); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func applyScanFilter(input *dynamodb.ScanInput, filter models.FeedbackFilter) {
	var conds []string
	names := map[string]*string{}
	values := map[string]*dynamodb.AttributeValue{}

	if filter.Email != "" {
		conds = append(conds, "#email = :email")
		names["#email"] = aws.String("email")
		values[":email"] = &dynamodb.AttributeValue{S: aws.String(filter.Email)}
	}
	if filter.Status != "" {
		conds = append(conds, "#status = :status")
		names["#status"] = aws.String("status")
		values[":status"] = &dynamodb.AttributeValue{S: aws.String(string(filter.Status))}
	}
	if len(conds) == 0 {
		return
	}

	input.FilterExpression = aws.String(strings.Join(conds, " AND "))
	input.ExpressionAttributeNames = names
	input.ExpressionAttributeValues = values
}

// Ping describes the attempts table
func (d *DynamoDBStorage) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.attemptsTable),
	})
	if err != nil {
		return &apperr.ConnectionError{Backend: config.StorageDynamoDB, Err: err}
	}
	return nil
}

// Name returns the backend name
func (d *DynamoDBStorage) Name() string {
	return config.StorageDynamoDB
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}

func isAWSCode(err error, code string) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == code
}
