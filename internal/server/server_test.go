package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aippoint/interview-api/internal/apperr"
	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/feedback"
	"github.com/aippoint/interview-api/internal/ledger"
	"github.com/aippoint/interview-api/internal/metrics"
	"github.com/aippoint/interview-api/internal/models"
	"github.com/aippoint/interview-api/internal/notify"
	"github.com/aippoint/interview-api/internal/storage"
	"github.com/aippoint/interview-api/internal/storage/storagetest"
)

// MockSender is a mock implementation of the notify.Sender interface
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg notify.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		Ledger: config.LedgerConfig{MaxAttempts: 3, LimitReachedStatus: http.StatusForbidden},
		Server: config.ServerConfig{
			Port:         3000,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			CORSOrigin:   "*",
		},
	}
}

type testEnv struct {
	server     *Server
	sender     *MockSender
	dispatcher *notify.Dispatcher
}

func newTestEnv(t *testing.T, cfg *config.Config, store storage.Storage) *testEnv {
	t.Helper()
	log, _ := test.NewNullLogger()
	if store == nil {
		mem, err := storage.NewMemoryStorage("", log)
		require.NoError(t, err)
		store = mem
	}
	m := metrics.New()
	sender := new(MockSender)
	dispatcher := notify.NewDispatcher(sender, 10, m, log)

	srv := NewServer(cfg, Deps{
		Storage:    store,
		Ledger:     ledger.New(store, cfg.Ledger.MaxAttempts, m, log),
		Feedback:   feedback.New(store, m, log),
		Sender:     sender,
		Dispatcher: dispatcher,
		Metrics:    m,
		Log:        log,
	})
	return &testEnv{server: srv, sender: sender, dispatcher: dispatcher}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	out := map[string]any{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestAttempts_EndToEnd(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w, body := env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"a@b.com","action":"check"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, body["attempts"])
	assert.Equal(t, true, body["canStart"])
	assert.Equal(t, false, body["disabled"])

	for i := 1; i <= 3; i++ {
		w, body = env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"A@B.com ","action":"increment"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(i), body["attempts"])
		assert.Equal(t, float64(i), body["attemptNumber"])
		assert.Equal(t, i == 3, body["disabled"])
		assert.NotEmpty(t, body["timestamp"])
	}

	w, body = env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"a@b.com","action":"increment"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Interview limit reached", body["error"])
	assert.Equal(t, 3.0, body["attempts"])
	assert.Equal(t, 3.0, body["maxAttempts"])
	assert.Equal(t, false, body["canStart"])
	assert.Equal(t, true, body["disabled"])

	w, body = env.do(t, http.MethodPost, "/api/interview-attempts/check", `{"email":"a@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3.0, body["attempts"])
	assert.Equal(t, "Interview limit reached", body["message"])
}

func TestAttempts_ConfiguredLimitStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.MaxAttempts = 1
	cfg.Ledger.LimitReachedStatus = http.StatusTooManyRequests
	env := newTestEnv(t, cfg, nil)

	w, _ := env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"a@b.com","action":"increment"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"a@b.com","action":"increment"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1.0, body["attempts"])
}

func TestAttempts_Validation(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	tests := []struct {
		body    string
		message string
	}{
		{`{"action":"check"}`, "Email and action are required"},
		{`{"email":"bad","action":"check"}`, "Invalid email format"},
		{`{"email":"a@b.com","action":"reset"}`, `Action must be "check" or "increment"`},
		{`not json`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		w, body := env.do(t, http.MethodPost, "/api/interview-attempts", tt.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, tt.body)
		assert.Equal(t, tt.message, body["error"], tt.body)
	}

	w, body := env.do(t, http.MethodPost, "/api/interview-attempts/check", `{"email":"a@b.com","action":"increment"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, `Action must be "check" on this route`, body["error"])
}

func TestAttempts_StorageUnavailable(t *testing.T) {
	store := new(storagetest.MockStorage)
	connErr := &apperr.ConnectionError{Backend: "mongodb", Err: errors.New("server selection timeout")}
	store.On("IncrementAttempts", mock.Anything, "a@b.com", 3, mock.Anything).Return(nil, connErr)
	env := newTestEnv(t, testConfig(), store)

	w, body := env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"a@b.com","action":"increment"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Storage unavailable", body["error"])
	assert.Equal(t, "server selection timeout", body["details"])
}

func TestMethodAndPreflight(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w, body := env.do(t, http.MethodGet, "/api/interview-attempts", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method not allowed", body["error"])

	w, _ = env.do(t, http.MethodOptions, "/api/interview-feedback", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w, _ = env.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

const feedbackBody = `{
	"email": "Cand@Example.com",
	"candidateName": "Ada",
	"role": "Engineer",
	"questions": [{"question":"q1","answer":"a1"},{"question":"q2","answer":"a2"},{"question":"q3","answer":"a3"}],
	"scores": {"communication":80,"technical":70,"confidence":90,"overall":85}
}`

func TestFeedback_SubmitAndList(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w, body := env.do(t, http.MethodPost, "/api/interview-feedback", feedbackBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Feedback saved successfully", body["message"])
	id, _ := body["id"].(string)
	assert.True(t, strings.HasPrefix(id, "feedback_"))

	w, body = env.do(t, http.MethodGet, "/api/interview-feedback?email=cand@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, 1.0, body["totalCount"])

	data := body["data"].([]any)
	require.Len(t, data, 1)
	rec := data[0].(map[string]any)
	assert.Equal(t, id, rec["id"])
	assert.Equal(t, "pending", rec["status"])
	assert.Equal(t, map[string]any{"communication": 80.0, "technical": 70.0, "confidence": 90.0, "overall": 85.0}, rec["scores"])

	page := body["pagination"].(map[string]any)
	assert.Equal(t, 50.0, page["limit"])
	assert.Equal(t, false, page["hasMore"])
}

func TestFeedback_Errors(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w, body := env.do(t, http.MethodPost, "/api/interview-feedback", `{"email":"a@b.com","candidateName":"Ada","role":"Eng","questions":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Questions array is required and cannot be empty", body["error"])

	w, body = env.do(t, http.MethodGet, "/api/interview-feedback?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "limit must be a non-negative integer", body["error"])

	w, _ = env.do(t, http.MethodGet, "/api/interview-feedback?status=archived", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/interview-feedback", `{"email":"`+strings.Repeat("a", maxBodySize)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Request body too large", body["error"])
}

func TestFeedback_QueuesNotification(t *testing.T) {
	cfg := testConfig()
	cfg.Notify.OnFeedback = true
	env := newTestEnv(t, cfg, nil)

	delivered := make(chan notify.Message, 1)
	env.sender.On("Send", mock.Anything, mock.Anything).
		Return("", errors.New("provider down")).
		Run(func(args mock.Arguments) { delivered <- args.Get(1).(notify.Message) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.dispatcher.Start(ctx)

	// A failing provider must not change the submit response.
	w, body := env.do(t, http.MethodPost, "/api/interview-feedback", feedbackBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	select {
	case msg := <-delivered:
		assert.Equal(t, notify.TemplateFeedback, msg.Template)
		assert.Equal(t, "cand@example.com", msg.Recipient)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not dispatched")
	}
}

func TestSendConfirmation(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w, body := env.do(t, http.MethodPost, "/api/send-confirmation", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid email format", body["error"])

	env.sender.On("Send", mock.Anything, mock.MatchedBy(func(m notify.Message) bool { return m.Recipient == "off@b.com" })).
		Return("", notify.ErrNotConfigured)
	env.sender.On("Send", mock.Anything, mock.MatchedBy(func(m notify.Message) bool { return m.Recipient == "ok@b.com" })).
		Return("email_1", nil)
	env.sender.On("Send", mock.Anything, mock.MatchedBy(func(m notify.Message) bool { return m.Recipient == "down@b.com" })).
		Return("", errors.New("API returned status 500"))

	w, body = env.do(t, http.MethodPost, "/api/send-confirmation", `{"email":"off@b.com","candidateName":"Ada"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["emailSent"])
	assert.Equal(t, "Email service not configured, interview submitted successfully", body["message"])

	w, body = env.do(t, http.MethodPost, "/api/send-confirmation", `{"email":"ok@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["emailSent"])
	assert.Equal(t, "email_1", body["emailId"])

	w, body = env.do(t, http.MethodPost, "/api/send-confirmation", `{"email":"down@b.com"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to send confirmation email", body["error"])
	assert.Equal(t, "API returned status 500", body["details"])
}

func TestSendFeedback(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w, body := env.do(t, http.MethodPost, "/api/send-feedback", `{"email":"a@b.com","candidateName":"Ada"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email, candidateName, and interviewData are required", body["error"])

	env.sender.On("Send", mock.Anything, mock.MatchedBy(func(m notify.Message) bool {
		return m.Template == notify.TemplateFeedback && m.Data["QuestionsAnswered"] == 5
	})).Return("email_2", nil)

	w, body = env.do(t, http.MethodPost, "/api/send-feedback",
		`{"email":"a@b.com","candidateName":"Ada","interviewData":{"scores":{"overall":85},"questionsAnswered":5}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Feedback email sent successfully", body["message"])
	env.sender.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"a@b.com","action":"check"}`)

	w, body := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	db := body["database"].(map[string]any)
	assert.Equal(t, "memory", db["backend"])
	assert.Equal(t, "connected", db["status"])
	collections := db["collections"].(map[string]any)
	assert.Equal(t, 1.0, collections["attempts"].(map[string]any)["count"])
	assert.Equal(t, 0.0, collections["feedback"].(map[string]any)["count"])
}

func TestHealth_StorageDown(t *testing.T) {
	store := new(storagetest.MockStorage)
	store.On("Ping", mock.Anything).Return(&apperr.ConnectionError{Backend: "postgresql", Err: errors.New("refused")})
	env := newTestEnv(t, testConfig(), store)

	w, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "disconnected", body["database"].(map[string]any)["status"])
}

func TestHealth_CountFailure(t *testing.T) {
	store := new(storagetest.MockStorage)
	store.On("Ping", mock.Anything).Return(nil)
	store.On("CountAttempts", mock.Anything).Return(int64(2), nil)
	store.On("CountFeedback", mock.Anything, models.FeedbackFilter{}).Return(int64(0), errors.New("scan failed"))
	env := newTestEnv(t, testConfig(), store)

	w, _ := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 2
	env := newTestEnv(t, cfg, nil)

	for i := 0; i < 2; i++ {
		w, _ := env.do(t, http.MethodGet, "/api/health", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many requests", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.do(t, http.MethodPost, "/api/interview-attempts", `{"email":"a@b.com","action":"increment"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `interview_api_attempt_decisions_total{action="increment",outcome="allowed"} 1`)
}
