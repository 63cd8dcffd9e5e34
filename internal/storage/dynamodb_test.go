package storage

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aippoint/interview-api/internal/models"
)

// MockDynamoDB is a mock of the subset of the DynamoDB API the store uses
type MockDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	mock.Mock
}

func (m *MockDynamoDB) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *MockDynamoDB) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

func (m *MockDynamoDB) UpdateItemWithContext(ctx aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.UpdateItemOutput), args.Error(1)
}

func (m *MockDynamoDB) ScanWithContext(ctx aws.Context, in *dynamodb.ScanInput, _ ...request.Option) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.ScanOutput), args.Error(1)
}

func (m *MockDynamoDB) DescribeTableWithContext(ctx aws.Context, in *dynamodb.DescribeTableInput, _ ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.DescribeTableOutput), args.Error(1)
}

func attemptItem(t *testing.T, rec *models.AttemptRecord) map[string]*dynamodb.AttributeValue {
	t.Helper()
	item, err := dynamodbattribute.MarshalMap(rec)
	require.NoError(t, err)
	return item
}

func conditionalFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "condition failed", nil)
}

func TestDynamoDBStorage_FindOrCreateAttempts_Creates(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())
	now := time.Now().UTC().Truncate(time.Second)

	client.On("GetItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.StringValue(in.TableName) == "interview_attempts" && aws.BoolValue(in.ConsistentRead)
	})).Return(&dynamodb.GetItemOutput{}, nil)
	client.On("PutItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.StringValue(in.ConditionExpression) == "attribute_not_exists(#email)" &&
			aws.StringValue(in.Item["email"].S) == "a@b.com"
	})).Return(&dynamodb.PutItemOutput{}, nil)

	rec, err := s.FindOrCreateAttempts(context.Background(), "a@b.com", now)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Count)
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_FindOrCreateAttempts_RacedCreate(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())
	now := time.Now().UTC().Truncate(time.Second)

	existing := models.NewAttemptRecord("a@b.com", now)
	existing.Count = 1

	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()
	client.On("PutItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, conditionalFailed())
	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: attemptItem(t, existing)}, nil).Once()

	rec, err := s.FindOrCreateAttempts(context.Background(), "a@b.com", now)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_IncrementAttempts_RetriesOnConflict(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())
	now := time.Now().UTC().Truncate(time.Second)

	first := models.NewAttemptRecord("a@b.com", now)
	second := first.Clone()
	second.Count = 1
	second.History = []models.AttemptEvent{{Timestamp: now, AttemptNumber: 1}}

	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: attemptItem(t, first)}, nil).Once()
	client.On("UpdateItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.StringValue(in.ExpressionAttributeValues[":expected"].N) == "0"
	})).Return(&dynamodb.UpdateItemOutput{}, conditionalFailed()).Once()
	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: attemptItem(t, second)}, nil).Once()
	client.On("UpdateItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.StringValue(in.ExpressionAttributeValues[":expected"].N) == "1" &&
			aws.StringValue(in.ExpressionAttributeValues[":next"].N) == "2" &&
			len(in.ExpressionAttributeValues[":history"].L) == 2
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

	rec, err := s.IncrementAttempts(context.Background(), "a@b.com", 3, now)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)
	require.Len(t, rec.History, 2)
	assert.Equal(t, 2, rec.History[1].AttemptNumber)
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_IncrementAttempts_AtCap(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())
	now := time.Now().UTC().Truncate(time.Second)

	full := models.NewAttemptRecord("a@b.com", now)
	full.Count = 3

	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: attemptItem(t, full)}, nil)

	rec, err := s.IncrementAttempts(context.Background(), "a@b.com", 3, now)
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, 3, rec.Count)
	client.AssertNotCalled(t, "UpdateItemWithContext", mock.Anything, mock.Anything)
}

func TestDynamoDBStorage_FindFeedback_PagesAndSorts(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	page := func(recs ...models.FeedbackRecord) []map[string]*dynamodb.AttributeValue {
		var items []map[string]*dynamodb.AttributeValue
		for _, r := range recs {
			item, err := dynamodbattribute.MarshalMap(r)
			require.NoError(t, err)
			items = append(items, item)
		}
		return items
	}

	lastKey := map[string]*dynamodb.AttributeValue{"id": {S: aws.String("f2")}}
	client.On("ScanWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey == nil && aws.StringValue(in.FilterExpression) == "#email = :email"
	})).Return(&dynamodb.ScanOutput{
		Items:            page(feedbackAt("f1", "a@b.com", base), feedbackAt("f2", "a@b.com", base.Add(2*time.Hour))),
		LastEvaluatedKey: lastKey,
	}, nil).Once()
	client.On("ScanWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.ScanOutput{
		Items: page(feedbackAt("f3", "a@b.com", base.Add(time.Hour))),
	}, nil).Once()

	recs, err := s.FindFeedback(context.Background(), models.FeedbackFilter{Email: "a@b.com"}, 2, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "f2", recs[0].ID)
	assert.Equal(t, "f3", recs[1].ID)
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_CountFeedback(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())

	client.On("ScanWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return aws.StringValue(in.Select) == dynamodb.SelectCount &&
			aws.StringValue(in.TableName) == "interview_feedback" &&
			aws.StringValue(in.ExpressionAttributeNames["#status"]) == "status"
	})).Return(&dynamodb.ScanOutput{Count: aws.Int64(7)}, nil)

	n, err := s.CountFeedback(context.Background(), models.FeedbackFilter{Status: models.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestDynamoDBStorage_InsertFeedback(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())

	client.On("PutItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.StringValue(in.TableName) == "interview_feedback" &&
			aws.StringValue(in.Item["id"].S) == "feedback_1"
	})).Return(&dynamodb.PutItemOutput{}, nil)

	err := s.InsertFeedback(context.Background(), feedbackAt("feedback_1", "a@b.com", time.Now()))
	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_Ping(t *testing.T) {
	client := new(MockDynamoDB)
	s := newDynamoDBStorage(client, "interview", testLogger())

	client.On("DescribeTableWithContext", mock.Anything, mock.Anything).Return(&dynamodb.DescribeTableOutput{}, assert.AnError)

	assert.Error(t, s.Ping(context.Background()))
}
