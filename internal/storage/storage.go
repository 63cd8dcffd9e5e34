package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/models"
)

// Collection names shared by the document and table backends
const (
	AttemptsCollection = "interview_attempts"
	FeedbackCollection = "interview_feedback"
)

// casRetries bounds compare-and-swap loops. Every lost swap means another
// increment succeeded, so the cap is reached long before this.
const casRetries = 16

// ErrLimitReached is returned by IncrementAttempts when the record is already
// at the cap. The current record is returned alongside it.
var ErrLimitReached = errors.New("attempt limit reached")

// ErrContention is returned when a compare-and-swap loop gives up.
var ErrContention = errors.New("too much contention on attempt record")

// Storage interface defines the contract for attempt and feedback persistence
type Storage interface {
	// FindOrCreateAttempts returns the record for email, creating a zero-count
	// record if none exists.
	FindOrCreateAttempts(ctx context.Context, email string, now time.Time) (*models.AttemptRecord, error)
	// IncrementAttempts atomically adds one attempt if count < max and appends
	// the matching history event.
	IncrementAttempts(ctx context.Context, email string, max int, now time.Time) (*models.AttemptRecord, error)
	CountAttempts(ctx context.Context) (int64, error)

	InsertFeedback(ctx context.Context, rec models.FeedbackRecord) error
	// FindFeedback returns matching records sorted by SubmittedAt descending.
	FindFeedback(ctx context.Context, filter models.FeedbackFilter, limit, offset int) ([]models.FeedbackRecord, error)
	CountFeedback(ctx context.Context, filter models.FeedbackFilter) (int64, error)

	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// NewStorage creates a new storage instance based on configuration. A
// configured persistent backend that cannot be reached is an error; there is
// no silent fallback to memory.
func NewStorage(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch cfg.Type {
	case config.StorageMemory, "":
		if cfg.DataDir == "" {
			log.Warn("no persistent storage configured, data will not survive a restart")
		}
		s, err = asStorage(NewMemoryStorage(cfg.DataDir, log))
	case config.StorageMongoDB:
		s, err = asStorage(NewMongoDBStorage(ctx, cfg, log))
	case config.StoragePostgreSQL:
		s, err = asStorage(NewPostgreSQLStorage(ctx, cfg, log))
	case config.StorageDynamoDB:
		s, err = asStorage(NewDynamoDBStorage(ctx, cfg, log))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// asStorage keeps a failed constructor's nil pointer from becoming a non-nil interface.
func asStorage[T Storage](s T, err error) (Storage, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// nextEvent builds the history entry for the attempt after current.
func nextEvent(current int, now time.Time) models.AttemptEvent {
	return models.AttemptEvent{
		Timestamp:     now,
		AttemptNumber: current + 1,
		Completed:     false,
	}
}

// sortAndPage orders records newest first and applies offset/limit. Used by
// backends without server-side sorting.
func sortAndPage(recs []models.FeedbackRecord, limit, offset int) []models.FeedbackRecord {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].SubmittedAt.After(recs[j].SubmittedAt)
	})
	if offset >= len(recs) {
		return []models.FeedbackRecord{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
