package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "foo@bar.com", NormalizeEmail("  Foo@Bar.COM "))
	assert.Equal(t, "foo@bar.com", NormalizeEmail("foo@bar.com"))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"a@b.com", true},
		{"foo@bar.com ", true},
		{"first.last@sub.example.org", true},
		{"", false},
		{"plainaddress", false},
		{"@b.com", false},
		{"a@", false},
		{"a@b", false},
		{"a b@c.com", false},
		{"a@@b.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidEmail(tt.email))
		})
	}
}

func TestAttemptRecord_Clone(t *testing.T) {
	now := time.Now().UTC()
	rec := NewAttemptRecord("a@b.com", now)
	rec.History = append(rec.History, AttemptEvent{Timestamp: now, AttemptNumber: 1})
	rec.Count = 1

	c := rec.Clone()
	c.History[0].AttemptNumber = 99
	c.Count = 2

	assert.Equal(t, 1, rec.History[0].AttemptNumber)
	assert.Equal(t, 1, rec.Count)
	assert.Nil(t, (*AttemptRecord)(nil).Clone())
}

func TestFeedbackFilter_Matches(t *testing.T) {
	rec := FeedbackRecord{Email: "a@b.com", Status: StatusPending}

	assert.True(t, FeedbackFilter{}.Matches(rec))
	assert.True(t, FeedbackFilter{Email: "a@b.com"}.Matches(rec))
	assert.True(t, FeedbackFilter{Email: "a@b.com", Status: StatusPending}.Matches(rec))
	assert.False(t, FeedbackFilter{Email: "c@d.com"}.Matches(rec))
	assert.False(t, FeedbackFilter{Status: StatusAccepted}.Matches(rec))
}

func TestFeedbackStatus_Valid(t *testing.T) {
	for _, s := range []FeedbackStatus{StatusPending, StatusReviewed, StatusRejected, StatusAccepted} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, FeedbackStatus("archived").Valid())
	assert.False(t, FeedbackStatus("").Valid())
}
