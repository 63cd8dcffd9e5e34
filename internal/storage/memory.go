package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/models"
)

const (
	attemptsFile = "interview-attempts.json"
	feedbackFile = "interview-feedback.json"
	lockFile     = ".lock"
)

// MemoryStorage implements Storage with an in-process map, optionally
// mirrored to JSON files in a data directory. Both files are rewritten
// wholesale on every mutation.
type MemoryStorage struct {
	mu       sync.Mutex
	attempts map[string]*models.AttemptRecord
	feedback []models.FeedbackRecord

	dir  string
	lock *flock.Flock
	log  logrus.FieldLogger
}

// NewMemoryStorage creates a memory store. With a non-empty dir the existing
// files are loaded and the directory is locked for this process.
func NewMemoryStorage(dir string, log logrus.FieldLogger) (*MemoryStorage, error) {
	s := &MemoryStorage{
		attempts: make(map[string]*models.AttemptRecord),
		feedback: []models.FeedbackRecord{},
		dir:      dir,
		log:      log.WithField("storage", config.StorageMemory),
	}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &apperr.ConnectionError{Backend: config.StorageMemory, Err: err}
	}

	s.lock = flock.New(filepath.Join(dir, lockFile))
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, &apperr.ConnectionError{Backend: config.StorageMemory, Err: err}
	}
	if !locked {
		return nil, &apperr.ConnectionError{
			Backend: config.StorageMemory,
			Err:     fmt.Errorf("data dir %s is in use by another process", dir),
		}
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"dir":      dir,
		"users":    len(s.attempts),
		"feedback": len(s.feedback),
	}).Info("loaded file-backed storage")
	return s, nil
}

func (s *MemoryStorage) load() error {
	b, err := os.ReadFile(filepath.Join(s.dir, attemptsFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading attempts file: %w", err)
	default:
		if err := json.Unmarshal(b, &s.attempts); err != nil {
			return fmt.Errorf("parsing attempts file: %w", err)
		}
	}

	b, err = os.ReadFile(filepath.Join(s.dir, feedbackFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading feedback file: %w", err)
	default:
		if err := json.Unmarshal(b, &s.feedback); err != nil {
			return fmt.Errorf("parsing feedback file: %w", err)
		}
	}

	if s.attempts == nil {
		s.attempts = make(map[string]*models.AttemptRecord)
	}
	return nil
}

// FindOrCreateAttempts returns a copy of the record for email
func (s *MemoryStorage) FindOrCreateAttempts(ctx context.Context, email string, now time.Time) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, created := s.getOrCreate(email, now)
	if created {
		if err := s.saveAttempts(); err != nil {
			delete(s.attempts, email)
			return nil, err
		}
	}
	return rec.Clone(), nil
}

// IncrementAttempts applies one attempt under the store mutex
func (s *MemoryStorage) IncrementAttempts(ctx context.Context, email string, max int, now time.Time) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, created := s.getOrCreate(email, now)
	if rec.Count >= max {
		return rec.Clone(), ErrLimitReached
	}

	prev := rec.Clone()
	rec.History = append(rec.History, nextEvent(rec.Count, now))
	rec.Count++
	rec.UpdatedAt = now

	if err := s.saveAttempts(); err != nil {
		if created {
			delete(s.attempts, email)
		} else {
			s.attempts[email] = prev
		}
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *MemoryStorage) getOrCreate(email string, now time.Time) (*models.AttemptRecord, bool) {
	if rec, ok := s.attempts[email]; ok {
		return rec, false
	}
	rec := models.NewAttemptRecord(email, now)
	s.attempts[email] = rec
	return rec, true
}

// CountAttempts returns the number of tracked emails
func (s *MemoryStorage) CountAttempts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.attempts)), nil
}

// InsertFeedback appends a feedback record
func (s *MemoryStorage) InsertFeedback(ctx context.Context, rec models.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback = append(s.feedback, rec)
	if err := s.saveFeedback(); err != nil {
		s.feedback = s.feedback[:len(s.feedback)-1]
		return err
	}
	return nil
}

// FindFeedback returns matching records newest first
func (s *MemoryStorage) FindFeedback(ctx context.Context, filter models.FeedbackFilter, limit, offset int) ([]models.FeedbackRecord, error) {
	s.mu.Lock()
	matched := make([]models.FeedbackRecord, 0, len(s.feedback))
	for _, rec := range s.feedback {
		if filter.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	s.mu.Unlock()

	return sortAndPage(matched, limit, offset), nil
}

// CountFeedback counts matching records
func (s *MemoryStorage) CountFeedback(ctx context.Context, filter models.FeedbackFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.feedback {
		if filter.Matches(rec) {
			n++
		}
	}
	return n, nil
}

// Ping always succeeds for the in-process store
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Name returns the backend name
func (s *MemoryStorage) Name() string {
	return config.StorageMemory
}

// Close releases the data directory lock
func (s *MemoryStorage) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

func (s *MemoryStorage) saveAttempts() error {
	if s.dir == "" {
		return nil
	}
	return writeJSONAtomic(filepath.Join(s.dir, attemptsFile), s.attempts)
}

func (s *MemoryStorage) saveFeedback() error {
	if s.dir == "" {
		return nil
	}
	return writeJSONAtomic(filepath.Join(s.dir, feedbackFile), s.feedback)
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
