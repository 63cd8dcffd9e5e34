package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/feedback"
	"github.com/aippoint/interview-api/internal/ledger"
	"github.com/aippoint/interview-api/internal/metrics"
	"github.com/aippoint/interview-api/internal/notify"
	"github.com/aippoint/interview-api/internal/storage"
)

// maxBodySize caps request bodies
const maxBodySize = 1 << 20

// Deps are the collaborators the gateway routes to
type Deps struct {
	Storage    storage.Storage
	Ledger     *ledger.Ledger
	Feedback   *feedback.Store
	Sender     notify.Sender
	Dispatcher *notify.Dispatcher // optional; feedback notifications are skipped when nil
	Metrics    *metrics.Metrics   // optional
	Log        logrus.FieldLogger
}

// Server handles HTTP requests
type Server struct {
	config  *config.Config
	deps    Deps
	log     logrus.FieldLogger
	started time.Time
	router  chi.Router
	server  *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:  cfg,
		deps:    deps,
		log:     deps.Log.WithField("component", "server"),
		started: time.Now(),
	}
	s.router = s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(accessLog(s.log))
	r.Use(chimw.Recoverer)
	r.Use(s.deps.Metrics.InstrumentHandler)
	r.Use(cors(s.config.Server.CORSOrigin))
	if s.config.Server.RateLimitRPS > 0 {
		r.Use(newRateLimiter(s.config.Server.RateLimitRPS, s.config.Server.RateLimitBurst, s.log).Handler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/interview-attempts", s.endpoint(s.handleAttempts))
		r.Post("/interview-attempts/check", s.endpoint(s.handleAttemptsCheck))
		r.Post("/interview-feedback", s.endpoint(s.handleSubmitFeedback))
		r.Get("/interview-feedback", s.endpoint(s.handleListFeedback))
		r.Post("/send-confirmation", s.endpoint(s.handleSendConfirmation))
		r.Post("/send-feedback", s.endpoint(s.handleSendFeedback))
		r.Get("/health", s.handleHealth)
	})
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	return r
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
