package models

import "time"

// AttemptEvent is one recorded interview start for an email
type AttemptEvent struct {
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	AttemptNumber int       `json:"attemptNumber" bson:"attemptNumber"`
	Completed     bool      `json:"completed" bson:"completed"`
	Duration      *float64  `json:"duration,omitempty" bson:"duration,omitempty"`
}

// AttemptRecord tracks how many interview attempts an email has used
type AttemptRecord struct {
	Email     string         `json:"email" bson:"email"`
	Count     int            `json:"count" bson:"count"`
	History   []AttemptEvent `json:"attempts" bson:"attempts"`
	CreatedAt time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// NewAttemptRecord returns the zero-count record created on first lookup.
func NewAttemptRecord(email string, now time.Time) *AttemptRecord {
	return &AttemptRecord{
		Email:     email,
		Count:     0,
		History:   []AttemptEvent{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers never share history slices with a store.
func (r *AttemptRecord) Clone() *AttemptRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.History = make([]AttemptEvent, len(r.History))
	copy(c.History, r.History)
	return &c
}

// QuestionAnswer is a single interview question with the candidate's answer
type QuestionAnswer struct {
	Question string `json:"question" bson:"question"`
	Answer   string `json:"answer" bson:"answer"`
}

// Scores holds the four 0-100 interview ratings
type Scores struct {
	Communication float64 `json:"communication" bson:"communication"`
	Technical     float64 `json:"technical" bson:"technical"`
	Confidence    float64 `json:"confidence" bson:"confidence"`
	Overall       float64 `json:"overall" bson:"overall"`
}

// FeedbackStatus is the review state of a feedback record
type FeedbackStatus string

const (
	StatusPending  FeedbackStatus = "pending"
	StatusReviewed FeedbackStatus = "reviewed"
	StatusRejected FeedbackStatus = "rejected"
	StatusAccepted FeedbackStatus = "accepted"
)

// Valid reports whether s is one of the known review states.
func (s FeedbackStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReviewed, StatusRejected, StatusAccepted:
		return true
	}
	return false
}

// FeedbackRecord is the stored result of one completed interview
type FeedbackRecord struct {
	ID              string           `json:"id" bson:"id"`
	Email           string           `json:"email" bson:"email"`
	CandidateName   string           `json:"candidateName" bson:"candidateName"`
	Role            string           `json:"role" bson:"role"`
	Company         *string          `json:"company" bson:"company"`
	Phone           *string          `json:"phone" bson:"phone"`
	Duration        *float64         `json:"duration" bson:"duration"`
	Questions       []QuestionAnswer `json:"questions" bson:"questions"`
	Scores          Scores           `json:"scores" bson:"scores"`
	SubmittedAt     time.Time        `json:"submittedAt" bson:"submittedAt"`
	ServerTimestamp time.Time        `json:"serverTimestamp" bson:"serverTimestamp"`
	Status          FeedbackStatus   `json:"status" bson:"status"`
	ReviewerNotes   *string          `json:"reviewerNotes" bson:"reviewerNotes"`
}

// FeedbackFilter narrows feedback listings. Empty fields match everything.
type FeedbackFilter struct {
	Email  string
	Status FeedbackStatus
}

// Matches reports whether rec satisfies the filter.
func (f FeedbackFilter) Matches(rec FeedbackRecord) bool {
	if f.Email != "" && rec.Email != f.Email {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	return true
}
