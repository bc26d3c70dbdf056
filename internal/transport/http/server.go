package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"assessment-sync/internal/app"
	"assessment-sync/internal/domain"
)

// BeaconEnqueuer hands a teardown snapshot to a durable outbox.
type BeaconEnqueuer interface {
	Enqueue(ctx context.Context, userID string, snapshot domain.ProgressSnapshot) error
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type startRequest struct {
	UserID string `json:"userId" validate:"omitempty,max=128"`
}

type submitRequest struct {
	Answers map[string]domain.AnswerValue `json:"answers"`
}

// Server exposes the progress service over HTTP.
type Server struct {
	service  *app.ProgressService
	auth     *Authenticator
	beacons  BeaconEnqueuer
	ws       *WSHandler
	validate *validator.Validate
	log      *zap.Logger
}

type ServerOption func(*Server)

// WithBeaconQueue routes beacons through an outbox instead of applying them inline.
func WithBeaconQueue(q BeaconEnqueuer) ServerOption {
	return func(s *Server) { s.beacons = q }
}

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func NewServer(service *app.ProgressService, auth *Authenticator, opts ...ServerOption) *Server {
	s := &Server{
		service:  service,
		auth:     auth,
		validate: validator.New(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ws = NewWSHandler(service, auth, s.log)
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/quizzes/{quizID}/attempts", s.authed(s.startAttempt))
	mux.HandleFunc("GET /api/attempts/{attemptID}", s.authed(s.getAttempt))
	mux.HandleFunc("PUT /api/attempts/{attemptID}/autosave", s.authed(s.autosave))
	mux.HandleFunc("POST /api/attempts/{attemptID}/submit", s.authed(s.submit))
	mux.HandleFunc("POST /api/progress", s.authed(s.updateProgress))
	mux.HandleFunc("GET /api/progress/{subjectID}", s.authed(s.getProgress))
	mux.HandleFunc("POST /api/progress/beacon", s.beacon)
	mux.HandleFunc("GET /ws", s.ws.ServeWS)
	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.UserFromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, envelope{Error: "unauthorized"})
			return
		}
		h(w, r, userID)
	}
}

func (s *Server) startAttempt(w http.ResponseWriter, r *http.Request, userID string) {
	var req startRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid body"})
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}
	if req.UserID != "" && req.UserID != userID {
		s.fail(w, domain.ErrAttemptOwner)
		return
	}
	quizID := r.PathValue("quizID")
	if err := s.validate.Var(quizID, "required,max=128"); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid quiz id"})
		return
	}
	grant, err := s.service.StartAttempt(r.Context(), quizID, userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: grant})
}

func (s *Server) getAttempt(w http.ResponseWriter, r *http.Request, userID string) {
	rec, err := s.service.GetAttempt(r.Context(), r.PathValue("attemptID"), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	// answers are visible to the owner; the result only after submission
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: rec})
}

func (s *Server) autosave(w http.ResponseWriter, r *http.Request, userID string) {
	var snap domain.ProgressSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid snapshot"})
		return
	}
	ack, err := s.service.AutosaveAttempt(r.Context(), r.PathValue("attemptID"), userID, snap)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: ack})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, userID string) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid body"})
		return
	}
	result, err := s.service.SubmitAttempt(r.Context(), r.PathValue("attemptID"), userID, req.Answers)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: result})
}

func (s *Server) updateProgress(w http.ResponseWriter, r *http.Request, userID string) {
	var snap domain.ProgressSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid snapshot"})
		return
	}
	ack, err := s.service.UpdateProgress(r.Context(), userID, snap)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: ack})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request, userID string) {
	rec, err := s.service.GetProgress(r.Context(), r.PathValue("subjectID"), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: rec})
}

// beacon accepts a teardown snapshot. The sender never reads the response.
func (s *Server) beacon(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserFromRequest(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var snap domain.ProgressSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := domain.ValidateSnapshot(snap); err != nil {
		s.log.Warn("beacon dropped", zap.String("user_id", userID), zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if s.beacons != nil {
		err := s.beacons.Enqueue(r.Context(), userID, snap)
		if err == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		s.log.Warn("beacon outbox unavailable, applying inline", zap.Error(err))
	}
	if _, err := s.service.Apply(r.Context(), userID, snap); err != nil {
		s.log.Warn("beacon rejected", zap.String("subject_id", snap.SubjectID), zap.Error(err))
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, envelope{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidSnapshot),
		errors.Is(err, domain.ErrInvalidAnswer),
		errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAttemptOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrProgressNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAttemptClosed),
		errors.Is(err, domain.ErrAttemptsExhausted):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
