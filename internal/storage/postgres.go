package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS interview_attempts (
	email      TEXT PRIMARY KEY,
	count      INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
	history    JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interview_attempts_created ON interview_attempts (created_at DESC);
CREATE TABLE IF NOT EXISTS interview_feedback (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL,
	candidate_name   TEXT NOT NULL,
	role             TEXT NOT NULL,
	company          TEXT,
	phone            TEXT,
	duration         DOUBLE PRECISION,
	questions        JSONB NOT NULL,
	scores           JSONB NOT NULL,
	submitted_at     TIMESTAMPTZ NOT NULL,
	server_timestamp TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL,
	reviewer_notes   TEXT
);
CREATE INDEX IF NOT EXISTS idx_interview_feedback_email ON interview_feedback (email);
CREATE INDEX IF NOT EXISTS idx_interview_feedback_submitted ON interview_feedback (submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_interview_feedback_status ON interview_feedback (status);
`

const attemptColumns = `email, count, history, created_at, updated_at`

const feedbackColumns = `id, email, candidate_name, role, company, phone, duration, questions, scores,
	submitted_at, server_timestamp, status, reviewer_notes`

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewPostgreSQLStorage opens the pool, pings and creates the schema
func NewPostgreSQLStorage(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, &apperr.ConnectionError{Backend: config.StoragePostgreSQL, Err: err}
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &apperr.ConnectionError{Backend: config.StoragePostgreSQL, Err: err}
	}

	s := newPostgreSQLStorage(db, log)
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info("connected to postgresql")
	return s, nil
}

func newPostgreSQLStorage(db *sql.DB, log logrus.FieldLogger) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		db:  db,
		log: log.WithField("storage", config.StoragePostgreSQL),
	}
}

func (p *PostgreSQLStorage) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// FindOrCreateAttempts inserts a zero-count row if absent and returns the stored row.
// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
func (p *PostgreSQLStorage) FindOrCreateAttempts(ctx context.Context, email string, now time.Time) (*models.AttemptRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO interview_attempts (email, count, history, created_at, updated_at)
		VALUES ($1, 0, '[]'::jsonb, $2, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING `+attemptColumns, email, now)

	rec, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find attempts for %s: %w", email, err)
	}
	return rec, nil
}

// IncrementAttempts bumps the count and appends the history entry in one
// conditional statement, so the cap check and the write cannot interleave
// with another request
func (p *PostgreSQLStorage) IncrementAttempts(ctx context.Context, email string, max int, now time.Time) (*models.AttemptRecord, error) {
	current, err := p.FindOrCreateAttempts(ctx, email, now)
	if err != nil {
		return nil, err
	}
	if current.Count >= max {
		return current, ErrLimitReached
	}

	row := p.db.QueryRowContext(ctx, `
		UPDATE interview_attempts
		SET count = count + 1,
			history = history || jsonb_build_array(jsonb_build_object(
				'timestamp', to_jsonb($2::timestamptz),
				'attemptNumber', count + 1,
				'completed', false)),
			updated_at = $2
		WHERE email = $1 AND count < $3
		RETURNING `+attemptColumns, email, now, max)

	rec, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Another request took the last attempt between the read and the update.
		current, err = p.FindOrCreateAttempts(ctx, email, now)
		if err != nil {
			return nil, err
		}
		return current, ErrLimitReached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment attempts for %s: %w", email, err)
	}
	return rec, nil
}

func scanAttempt(row *sql.Row) (*models.AttemptRecord, error) {
	var (
		rec     models.AttemptRecord
		history []byte
	)
	if err := row.Scan(&rec.Email, &rec.Count, &history, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if rec.History == nil {
		rec.History = []models.AttemptEvent{}
	}
	return &rec, nil
}

// CountAttempts counts tracked emails
func (p *PostgreSQLStorage) CountAttempts(ctx context.Context) (int64, error) {
	var n int64
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interview_attempts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

// InsertFeedback stores a feedback record
func (p *PostgreSQLStorage) InsertFeedback(ctx context.Context, rec models.FeedbackRecord) error {
	questions, err := json.Marshal(rec.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO interview_feedback (`+feedbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Email, rec.CandidateName, rec.Role, rec.Company, rec.Phone, rec.Duration,
		questions, scores, rec.SubmittedAt, rec.ServerTimestamp, string(rec.Status), rec.ReviewerNotes,
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback %s: %w", rec.ID, err)
	}
	return nil
}

// FindFeedback retrieves feedback with pagination, newest first
func (p *PostgreSQLStorage) FindFeedback(ctx context.Context, filter models.FeedbackFilter, limit, offset int) ([]models.FeedbackRecord, error) {
	where, args := feedbackWhere(filter)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM interview_feedback%s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		feedbackColumns, where, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	recs := []models.FeedbackRecord{}
	for rows.Next() {
		var (
			rec               models.FeedbackRecord
			questions, scores []byte
			status            string
		)
		if err := rows.Scan(&rec.ID, &rec.Email, &rec.CandidateName, &rec.Role, &rec.Company, &rec.Phone,
			&rec.Duration, &questions, &scores, &rec.SubmittedAt, &rec.ServerTimestamp, &status, &rec.ReviewerNotes); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if err := json.Unmarshal(questions, &rec.Questions); err != nil {
			return nil, fmt.Errorf("failed to decode questions: %w", err)
		}
		if err := json.Unmarshal(scores, &rec.Scores); err != nil {
			return nil, fmt.Errorf("failed to decode scores: %w", err)
		}
		rec.Status = models.FeedbackStatus(status)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feedback: %w", err)
	}
	return recs, nil
}

// CountFeedback counts matching feedback
func (p *PostgreSQLStorage) CountFeedback(ctx context.Context, filter models.FeedbackFilter) (int64, error) {
	where, args := feedbackWhere(filter)
	var n int64
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interview_feedback`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}

func feedbackWhere(filter models.FeedbackFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Email != "" {
		args = append(args, filter.Email)
		conds = append(conds, fmt.Sprintf("email = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Ping checks the database is reachable
func (p *PostgreSQLStorage) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return &apperr.ConnectionError{Backend: config.StoragePostgreSQL, Err: err}
	}
	return nil
}

// Name returns the backend name
func (p *PostgreSQLStorage) Name() string {
	return config.StoragePostgreSQL
}

// Close closes the connection pool
func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}
