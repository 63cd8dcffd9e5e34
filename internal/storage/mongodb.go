package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/models"
)

// MongoDBStorage implements Storage using MongoDB. One client is shared by
// every request for the life of the process.
type MongoDBStorage struct {
	client   *mongo.Client
	attempts *mongo.Collection
	feedback *mongo.Collection
	log      logrus.FieldLogger
}

// NewMongoDBStorage connects, pings and ensures indexes
func NewMongoDBStorage(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*MongoDBStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.MongoDBURI).
		SetMaxPoolSize(10).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(45 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &apperr.ConnectionError{Backend: config.StorageMongoDB, Err: err}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &apperr.ConnectionError{Backend: config.StorageMongoDB, Err: err}
	}

	s := newMongoDBStorage(client.Database(cfg.MongoDBName), log)
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	s.log.WithField("database", cfg.MongoDBName).Info("connected to mongodb")
	return s, nil
}

func newMongoDBStorage(db *mongo.Database, log logrus.FieldLogger) *MongoDBStorage {
	return &MongoDBStorage{
		client:   db.Client(),
		attempts: db.Collection(AttemptsCollection),
		feedback: db.Collection(FeedbackCollection),
		log:      log.WithField("storage", config.StorageMongoDB),
	}
}

// ensureIndexes creates the lookup and uniqueness indexes if missing
func (m *MongoDBStorage) ensureIndexes(ctx context.Context) error {
	_, err := m.attempts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("attempts indexes: %w", err)
	}

	_, err = m.feedback.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}},
		{Keys: bson.D{{Key: "submittedAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("feedback indexes: %w", err)
	}
	return nil
}

// FindOrCreateAttempts upserts a zero-count record and returns the stored one
func (m *MongoDBStorage) FindOrCreateAttempts(ctx context.Context, email string, now time.Time) (*models.AttemptRecord, error) {
	update := bson.M{"$setOnInsert": bson.M{
		"count":     0,
		"attempts":  bson.A{},
		"createdAt": now,
		"updatedAt": now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var rec models.AttemptRecord
	err := m.attempts.FindOneAndUpdate(ctx, bson.M{"email": email}, update, opts).Decode(&rec)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert for the same email won; read its record.
		err = m.attempts.FindOne(ctx, bson.M{"email": email}).Decode(&rec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attempts for %s: %w", email, err)
	}
	return &rec, nil
}

// IncrementAttempts compares-and-swaps on the current count so two requests
// can never both move the same count forward
func (m *MongoDBStorage) IncrementAttempts(ctx context.Context, email string, max int, now time.Time) (*models.AttemptRecord, error) {
	for i := 0; i < casRetries; i++ {
		rec, err := m.FindOrCreateAttempts(ctx, email, now)
		if err != nil {
			return nil, err
		}
		if rec.Count >= max {
			return rec, ErrLimitReached
		}

		event := nextEvent(rec.Count, now)
		res, err := m.attempts.UpdateOne(ctx,
			bson.M{"email": email, "count": rec.Count},
			bson.M{
				"$set":  bson.M{"count": rec.Count + 1, "updatedAt": now},
				"$push": bson.M{"attempts": event},
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to increment attempts for %s: %w", email, err)
		}
		if res.MatchedCount == 1 {
			rec.Count++
			rec.UpdatedAt = now
			rec.History = append(rec.History, event)
			return rec, nil
		}
		m.log.WithField("email", email).Debug("attempt count moved, retrying")
	}
	return nil, ErrContention
}

// CountAttempts counts tracked emails
func (m *MongoDBStorage) CountAttempts(ctx context.Context) (int64, error) {
	n, err := m.attempts.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

// InsertFeedback stores a feedback record
func (m *MongoDBStorage) InsertFeedback(ctx context.Context, rec models.FeedbackRecord) error {
	if _, err := m.feedback.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to store feedback %s: %w", rec.ID, err)
	}
	return nil
}

// FindFeedback retrieves feedback with pagination, newest first
func (m *MongoDBStorage) FindFeedback(ctx context.Context, filter models.FeedbackFilter, limit, offset int) ([]models.FeedbackRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "submittedAt", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cur, err := m.feedback.Find(ctx, feedbackQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}

	recs := []models.FeedbackRecord{}
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode feedback: %w", err)
	}
	return recs, nil
}

// CountFeedback counts matching feedback
func (m *MongoDBStorage) CountFeedback(ctx context.Context, filter models.FeedbackFilter) (int64, error) {
	n, err := m.feedback.CountDocuments(ctx, feedbackQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}

func feedbackQuery(filter models.FeedbackFilter) bson.M {
	q := bson.M{}
	if filter.Email != "" {
		q["email"] = filter.Email
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	return q
}

// Ping checks the primary is reachable
func (m *MongoDBStorage) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return &apperr.ConnectionError{Backend: config.StorageMongoDB, Err: err}
	}
	return nil
}

// Name returns the backend name
func (m *MongoDBStorage) Name() string {
	return config.StorageMongoDB
}

// Close disconnects the shared client
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return err
	}
	return nil
}
