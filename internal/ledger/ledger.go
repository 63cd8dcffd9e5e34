package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/metrics"
	"github.com/aippoint/interview-api/internal/models"
	"github.com/aippoint/interview-api/internal/storage"
)

// Actions accepted by Apply
const (
	ActionCheck     = "check"
	ActionIncrement = "increment"
)

// LimitReachedMessage is shown once an email has used every attempt
const LimitReachedMessage = "Interview limit reached"

// CheckResult is the read-only view of an email's attempts
type CheckResult struct {
	Email             string `json:"email"`
	Attempts          int    `json:"attempts"`
	MaxAttempts       int    `json:"maxAttempts"`
	CanStart          bool   `json:"canStart"`
	Disabled          bool   `json:"disabled"`
	RemainingAttempts int    `json:"remainingAttempts"`
	Message           string `json:"message,omitempty"`
}

// IncrementResult describes a recorded attempt
type IncrementResult struct {
	Success           bool      `json:"success"`
	Email             string    `json:"email"`
	Attempts          int       `json:"attempts"`
	MaxAttempts       int       `json:"maxAttempts"`
	CanStart          bool      `json:"canStart"`
	Disabled          bool      `json:"disabled"`
	RemainingAttempts int       `json:"remainingAttempts"`
	AttemptNumber     int       `json:"attemptNumber"`
	Timestamp         time.Time `json:"timestamp"`
}

// Ledger enforces the per-email attempt cap on top of a Storage
type Ledger struct {
	store       storage.Storage
	maxAttempts int
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	now         func() time.Time
}

// New creates a ledger allowing maxAttempts attempts per email
func New(store storage.Storage, maxAttempts int, m *metrics.Metrics, log logrus.FieldLogger) *Ledger {
	return &Ledger{
		store:       store,
		maxAttempts: maxAttempts,
		metrics:     m,
		log:         log.WithField("component", "ledger"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// MaxAttempts returns the configured cap
func (l *Ledger) MaxAttempts() int {
	return l.maxAttempts
}

// Apply validates the raw request and dispatches to Check or Increment.
// Presence is checked before syntax, and syntax before the action, so the
// error for a given request is always the same.
func (l *Ledger) Apply(ctx context.Context, email, action string) (any, error) {
	if email == "" || action == "" {
		return nil, apperr.Validation("email", "Email and action are required")
	}
	if !models.ValidEmail(email) {
		return nil, apperr.Validation("email", "Invalid email format")
	}

	switch action {
	case ActionCheck:
		return l.Check(ctx, email)
	case ActionIncrement:
		return l.Increment(ctx, email)
	default:
		return nil, apperr.Validation("action", `Action must be "check" or "increment"`)
	}
}

// Check reports the attempts used by email, creating an empty record on
// first sight. It never changes the count.
func (l *Ledger) Check(ctx context.Context, email string) (*CheckResult, error) {
	email = models.NormalizeEmail(email)

	rec, err := l.store.FindOrCreateAttempts(ctx, email, l.now())
	if err != nil {
		return nil, fmt.Errorf("checking attempts: %w", err)
	}

	res := &CheckResult{
		Email:             email,
		Attempts:          rec.Count,
		MaxAttempts:       l.maxAttempts,
		CanStart:          rec.Count < l.maxAttempts,
		Disabled:          rec.Count >= l.maxAttempts,
		RemainingAttempts: l.remaining(rec.Count),
	}
	if res.Disabled {
		res.Message = LimitReachedMessage
	}

	l.log.WithFields(logrus.Fields{
		"event":    "attempt_check",
		"email":    email,
		"attempts": rec.Count,
		"canStart": res.CanStart,
	}).Info("attempt check")
	l.metrics.RecordAttempt(ActionCheck, outcome(res.CanStart))
	return res, nil
}

// Increment records one attempt, or returns *apperr.LimitReachedError
// carrying the current count when the cap is already reached.
func (l *Ledger) Increment(ctx context.Context, email string) (*IncrementResult, error) {
	email = models.NormalizeEmail(email)

	rec, err := l.store.IncrementAttempts(ctx, email, l.maxAttempts, l.now())
	if errors.Is(err, storage.ErrLimitReached) {
		attempts := l.maxAttempts
		if rec != nil {
			attempts = rec.Count
		}
		l.log.WithFields(logrus.Fields{
			"event":    "attempt_blocked",
			"email":    email,
			"attempts": attempts,
		}).Warn("attempt limit reached")
		l.metrics.RecordAttempt(ActionIncrement, "blocked")
		return nil, &apperr.LimitReachedError{Attempts: attempts, MaxAttempts: l.maxAttempts}
	}
	if err != nil {
		return nil, fmt.Errorf("incrementing attempts: %w", err)
	}

	last := rec.History[len(rec.History)-1]
	res := &IncrementResult{
		Success:           true,
		Email:             email,
		Attempts:          rec.Count,
		MaxAttempts:       l.maxAttempts,
		CanStart:          rec.Count < l.maxAttempts,
		Disabled:          rec.Count >= l.maxAttempts,
		RemainingAttempts: l.remaining(rec.Count),
		AttemptNumber:     last.AttemptNumber,
		Timestamp:         last.Timestamp,
	}

	l.log.WithFields(logrus.Fields{
		"event":         "attempt_increment",
		"email":         email,
		"attempts":      rec.Count,
		"attemptNumber": res.AttemptNumber,
	}).Info("attempt recorded")
	l.metrics.RecordAttempt(ActionIncrement, "allowed")
	return res, nil
}

func (l *Ledger) remaining(count int) int {
	if count >= l.maxAttempts {
		return 0
	}
	return l.maxAttempts - count
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "blocked"
}
