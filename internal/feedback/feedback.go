package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/metrics"
	"github.com/aippoint/interview-api/internal/models"
	"github.com/aippoint/interview-api/internal/storage"
)

// Listing bounds
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ScoresInput mirrors models.Scores with optional fields; a missing score is 0
type ScoresInput struct {
	Communication *float64 `json:"communication"`
	Technical     *float64 `json:"technical"`
	Confidence    *float64 `json:"confidence"`
	Overall       *float64 `json:"overall"`
}

// SubmitRequest is the client payload for a finished interview
type SubmitRequest struct {
	Email         string                  `json:"email"`
	CandidateName string                  `json:"candidateName"`
	Role          string                  `json:"role"`
	Company       *string                 `json:"company"`
	Phone         *string                 `json:"phone"`
	Duration      *float64                `json:"duration"`
	Questions     []models.QuestionAnswer `json:"questions"`
	Scores        *ScoresInput            `json:"scores"`
	SubmittedAt   string                  `json:"submittedAt"`
}

// ListQuery selects a page of feedback
type ListQuery struct {
	Email  string
	Status string
	Limit  int
	Offset int
}

// ListResult is one page of feedback plus the total match count
type ListResult struct {
	Records    []models.FeedbackRecord `json:"data"`
	TotalCount int64                   `json:"totalCount"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
	HasMore    bool                    `json:"hasMore"`
}

// Store validates and persists interview feedback
type Store struct {
	store   storage.Storage
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
	newID   func(time.Time) string
}

// New creates a feedback store
func New(store storage.Storage, m *metrics.Metrics, log logrus.FieldLogger) *Store {
	return &Store{
		store:   store,
		metrics: m,
		log:     log.WithField("component", "feedback"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   newFeedbackID,
	}
}

// newFeedbackID returns feedback_<unix millis>_<9 random chars>
func newFeedbackID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("feedback_%d_%s", now.UnixMilli(), suffix)
}

// Submit validates req, stores it as a pending record and returns the record
func (s *Store) Submit(ctx context.Context, req SubmitRequest) (*models.FeedbackRecord, error) {
	rec, err := s.build(req)
	if err != nil {
		s.metrics.RecordFeedback("invalid")
		return nil, err
	}

	if err := s.store.InsertFeedback(ctx, *rec); err != nil {
		s.metrics.RecordFeedback("failed")
		return nil, fmt.Errorf("saving feedback: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"event":        "feedback_saved",
		"email":        rec.Email,
		"feedbackId":   rec.ID,
		"role":         rec.Role,
		"overallScore": rec.Scores.Overall,
	}).Info("feedback saved")
	s.metrics.RecordFeedback("stored")
	return rec, nil
}

func (s *Store) build(req SubmitRequest) (*models.FeedbackRecord, error) {
	email := strings.TrimSpace(req.Email)
	name := strings.TrimSpace(req.CandidateName)
	role := strings.TrimSpace(req.Role)

	if email == "" || name == "" || role == "" {
		return nil, apperr.Validation("email", "Email, candidateName, and role are required")
	}
	if !models.ValidEmail(email) {
		return nil, apperr.Validation("email", "Invalid email format")
	}
	if len(req.Questions) == 0 {
		return nil, apperr.Validation("questions", "Questions array is required and cannot be empty")
	}
	if req.Scores == nil {
		return nil, apperr.Validation("scores", "Scores object is required")
	}
	scores, err := req.Scores.resolve()
	if err != nil {
		return nil, err
	}

	now := s.now()
	submittedAt := now
	if req.SubmittedAt != "" {
		t, err := time.Parse(time.RFC3339, req.SubmittedAt)
		if err != nil {
			return nil, apperr.Validation("submittedAt", "submittedAt must be an RFC 3339 timestamp")
		}
		submittedAt = t.UTC()
	}

	questions := make([]models.QuestionAnswer, len(req.Questions))
	copy(questions, req.Questions)

	return &models.FeedbackRecord{
		ID:              s.newID(now),
		Email:           models.NormalizeEmail(email),
		CandidateName:   name,
		Role:            role,
		Company:         trimmedOrNil(req.Company),
		Phone:           trimmedOrNil(req.Phone),
		Duration:        req.Duration,
		Questions:       questions,
		Scores:          scores,
		SubmittedAt:     submittedAt,
		ServerTimestamp: now,
		Status:          models.StatusPending,
	}, nil
}

func (in *ScoresInput) resolve() (models.Scores, error) {
	var out models.Scores
	for _, f := range []struct {
		name string
		in   *float64
		out  *float64
	}{
		{"communication", in.Communication, &out.Communication},
		{"technical", in.Technical, &out.Technical},
		{"confidence", in.Confidence, &out.Confidence},
		{"overall", in.Overall, &out.Overall},
	} {
		if f.in == nil {
			continue
		}
		if *f.in < 0 || *f.in > 100 {
			return out, apperr.Validation("scores."+f.name, "Score %s must be between 0 and 100", f.name)
		}
		*f.out = *f.in
	}
	return out, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// List returns one page of feedback newest first. The page and the total
// count are fetched concurrently.
func (s *Store) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Offset < 0 {
		return nil, apperr.Validation("offset", "offset must be >= 0")
	}
	if q.Limit < 0 {
		return nil, apperr.Validation("limit", "limit must be >= 0")
	}
	limit := q.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	filter := models.FeedbackFilter{Email: models.NormalizeEmail(q.Email)}
	if q.Status != "" {
		status := models.FeedbackStatus(strings.ToLower(strings.TrimSpace(q.Status)))
		if !status.Valid() {
			return nil, apperr.Validation("status", "Invalid status: %s", q.Status)
		}
		filter.Status = status
	}

	var (
		recs  []models.FeedbackRecord
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recs, err = s.store.FindFeedback(gctx, filter, limit, q.Offset)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountFeedback(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	if recs == nil {
		recs = []models.FeedbackRecord{}
	}

	s.log.WithFields(logrus.Fields{
		"event":      "feedback_fetched",
		"email":      filter.Email,
		"status":     filter.Status,
		"count":      len(recs),
		"totalCount": total,
	}).Debug("feedback fetched")

	return &ListResult{
		Records:    recs,
		TotalCount: total,
		Limit:      limit,
		Offset:     q.Offset,
		HasMore:    int64(q.Offset+len(recs)) < total,
	}, nil
}
