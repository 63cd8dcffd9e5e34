// Package storagetest provides a testify mock of storage.Storage.
package storagetest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/aippoint/interview-api/internal/models"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) FindOrCreateAttempts(ctx context.Context, email string, now time.Time) (*models.AttemptRecord, error) {
	args := m.Called(ctx, email, now)
	rec, _ := args.Get(0).(*models.AttemptRecord)
	return rec, args.Error(1)
}

func (m *MockStorage) IncrementAttempts(ctx context.Context, email string, max int, now time.Time) (*models.AttemptRecord, error) {
	args := m.Called(ctx, email, max, now)
	rec, _ := args.Get(0).(*models.AttemptRecord)
	return rec, args.Error(1)
}

func (m *MockStorage) CountAttempts(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) InsertFeedback(ctx context.Context, rec models.FeedbackRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStorage) FindFeedback(ctx context.Context, filter models.FeedbackFilter, limit, offset int) ([]models.FeedbackRecord, error) {
	args := m.Called(ctx, filter, limit, offset)
	recs, _ := args.Get(0).([]models.FeedbackRecord)
	return recs, args.Error(1)
}

func (m *MockStorage) CountFeedback(ctx context.Context, filter models.FeedbackFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Name() string {
	return "mock"
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}
