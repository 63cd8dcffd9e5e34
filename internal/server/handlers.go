package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/feedback"
	"github.com/aippoint/interview-api/internal/ledger"
	"github.com/aippoint/interview-api/internal/models"
	"github.com/aippoint/interview-api/internal/notify"
)

type attemptRequest struct {
	Email  string `json:"email"`
	Action string `json:"action"`
}

// handleAttempts applies a check or increment action
func (s *Server) handleAttempts(r *http.Request) (int, any, error) {
	var req attemptRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}

	out, err := s.deps.Ledger.Apply(r.Context(), req.Email, req.Action)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, out, nil
}

// handleAttemptsCheck is the check-only alias; the action defaults to check
func (s *Server) handleAttemptsCheck(r *http.Request) (int, any, error) {
	var req attemptRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	if req.Action == "" {
		req.Action = ledger.ActionCheck
	}
	if req.Action != ledger.ActionCheck {
		return 0, nil, apperr.Validation("action", `Action must be "check" on this route`)
	}

	out, err := s.deps.Ledger.Apply(r.Context(), req.Email, req.Action)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, out, nil
}

type submitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// handleSubmitFeedback stores feedback and optionally queues the results email
func (s *Server) handleSubmitFeedback(r *http.Request) (int, any, error) {
	var req feedback.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}

	rec, err := s.deps.Feedback.Submit(r.Context(), req)
	if err != nil {
		return 0, nil, err
	}

	if s.config.Notify.OnFeedback && s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Enqueue(notify.Message{
			Template:  notify.TemplateFeedback,
			Recipient: rec.Email,
			Data:      notify.FeedbackData(rec.CandidateName, rec.Scores, len(rec.Questions), rec.Duration),
		})
	}

	return http.StatusOK, submitResponse{
		Success: true,
		ID:      rec.ID,
		Message: "Feedback saved successfully",
	}, nil
}

type pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

type listResponse struct {
	Success    bool                    `json:"success"`
	Count      int                     `json:"count"`
	TotalCount int64                   `json:"totalCount"`
	Data       []models.FeedbackRecord `json:"data"`
	Pagination pagination              `json:"pagination"`
}

// handleListFeedback returns a filtered page of feedback
func (s *Server) handleListFeedback(r *http.Request) (int, any, error) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		return 0, nil, err
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		return 0, nil, err
	}

	page, err := s.deps.Feedback.List(r.Context(), feedback.ListQuery{
		Email:  q.Get("email"),
		Status: q.Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return 0, nil, err
	}

	return http.StatusOK, listResponse{
		Success:    true,
		Count:      len(page.Records),
		TotalCount: page.TotalCount,
		Data:       page.Records,
		Pagination: pagination{
			Limit:   page.Limit,
			Offset:  page.Offset,
			HasMore: page.HasMore,
		},
	}, nil
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name, "%s must be a non-negative integer", name)
	}
	return n, nil
}

type interviewData struct {
	Scores            *models.Scores `json:"scores"`
	Duration          *float64       `json:"duration"`
	QuestionsAnswered int            `json:"questionsAnswered"`
}

type sendRequest struct {
	Email         string         `json:"email"`
	CandidateName string         `json:"candidateName"`
	InterviewData *interviewData `json:"interviewData"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	EmailID   string `json:"emailId,omitempty"`
	EmailSent bool   `json:"emailSent"`
}

// handleSendConfirmation emails the submission confirmation synchronously
func (s *Server) handleSendConfirmation(r *http.Request) (int, any, error) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	if !models.ValidEmail(req.Email) {
		return 0, nil, apperr.Validation("email", "Invalid email format")
	}

	msg := notify.Message{
		Template:  notify.TemplateConfirmation,
		Recipient: models.NormalizeEmail(req.Email),
		Data:      map[string]any{"CandidateName": strings.TrimSpace(req.CandidateName)},
	}
	return s.send(r.Context(), msg, "Confirmation email sent successfully",
		"Email service not configured, interview submitted successfully",
		"Failed to send confirmation email")
}

// handleSendFeedback emails the interview scores synchronously
func (s *Server) handleSendFeedback(r *http.Request) (int, any, error) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	name := strings.TrimSpace(req.CandidateName)
	if strings.TrimSpace(req.Email) == "" || name == "" || req.InterviewData == nil {
		return 0, nil, apperr.Validation("email", "Email, candidateName, and interviewData are required")
	}
	if !models.ValidEmail(req.Email) {
		return 0, nil, apperr.Validation("email", "Invalid email format")
	}

	var scores models.Scores
	if req.InterviewData.Scores != nil {
		scores = *req.InterviewData.Scores
	}
	msg := notify.Message{
		Template:  notify.TemplateFeedback,
		Recipient: models.NormalizeEmail(req.Email),
		Data:      notify.FeedbackData(name, scores, req.InterviewData.QuestionsAnswered, req.InterviewData.Duration),
	}
	return s.send(r.Context(), msg, "Feedback email sent successfully",
		"Email service not configured, feedback saved successfully",
		"Failed to send feedback email")
}

func (s *Server) send(ctx context.Context, msg notify.Message, sent, skipped, failed string) (int, any, error) {
	id, err := s.deps.Sender.Send(ctx, msg)
	switch {
	case errors.Is(err, notify.ErrNotConfigured):
		return http.StatusOK, sendResponse{Success: true, Message: skipped, EmailSent: false}, nil
	case err != nil:
		s.deps.Metrics.RecordNotification(msg.Template, false)
		return 0, nil, &publicError{message: failed, err: err}
	}
	s.deps.Metrics.RecordNotification(msg.Template, true)
	return http.StatusOK, sendResponse{Success: true, Message: sent, EmailID: id, EmailSent: true}, nil
}

type collectionStatus struct {
	Count int64 `json:"count"`
}

type databaseStatus struct {
	Backend     string                      `json:"backend"`
	Status      string                      `json:"status"`
	Collections map[string]collectionStatus `json:"collections,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

type healthResponse struct {
	Status       string         `json:"status"`
	Timestamp    string         `json:"timestamp"`
	Uptime       float64        `json:"uptime"`
	ResponseTime string         `json:"responseTime"`
	Database     databaseStatus `json:"database"`
}

// handleHealth reports uptime, storage reachability and collection counts
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	store := s.deps.Storage

	db := databaseStatus{Backend: store.Name(), Status: "connected"}
	attempts, fb, err := s.counts(r.Context())
	if err != nil {
		db.Status = "disconnected"
		db.Error = err.Error()
	} else {
		db.Collections = map[string]collectionStatus{
			"attempts": {Count: attempts},
			"feedback": {Count: fb},
		}
	}

	resp := healthResponse{
		Status:       "healthy",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Uptime:       time.Since(s.started).Seconds(),
		ResponseTime: fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		Database:     db,
	}
	status := http.StatusOK
	if err != nil {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	s.log.WithFields(logrus.Fields{
		"event":        "health_check",
		"status":       resp.Status,
		"responseTime": resp.ResponseTime,
	}).Debug("health check")
	writeJSON(w, status, resp)
}

// counts pings storage and then counts both collections concurrently
func (s *Server) counts(ctx context.Context) (int64, int64, error) {
	store := s.deps.Storage
	if err := store.Ping(ctx); err != nil {
		return 0, 0, err
	}

	var attempts, fb int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attempts, err = store.CountAttempts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		fb, err = store.CountFeedback(gctx, models.FeedbackFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return attempts, fb, nil
}
