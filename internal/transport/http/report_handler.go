package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
)

// ReportHandler serves the instructor summary, student history, live attempt
// status and manual grading.
type ReportHandler struct {
	service *app.AttemptService
	logger  *zap.Logger
}

func NewReportHandler(service *app.AttemptService, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{service: service, logger: logger}
}

// Summary handles GET /quizzes/{quizId}/summary.
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.QuizSummary(r.Context(), r.PathValue("quizId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// MyAttempts handles GET /quizzes/{quizId}/attempts?userId=.
func (h *ReportHandler) MyAttempts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	attempts, err := h.service.MyAttempts(r.Context(), r.PathValue("quizId"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

// Status handles GET /attempts/{attemptId}?userId=.
func (h *ReportHandler) Status(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.Context(), r.PathValue("attemptId"), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

type gradeRequest struct {
	Grades []app.Grade `json:"grades"`
}

// Grade handles POST /attempts/{attemptId}/grades with {"grades": [...]}.
func (h *ReportHandler) Grade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Grades) == 0 {
		http.Error(w, "body must carry at least one grade", http.StatusBadRequest)
		return
	}
	attempt, err := h.service.Grade(r.Context(), r.PathValue("attemptId"), req.Grades)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *ReportHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrAttemptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAttemptNotSubmitted), errors.Is(err, domain.ErrAttemptElsewhere):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidQuiz), errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusUnprocessableEntity
	default:
		h.logger.Error("report request failed", zap.Error(err))
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewMux wires every HTTP route of the service.
func NewMux(service *app.AttemptService, metrics http.Handler, logger *zap.Logger) *http.ServeMux {
	ws := NewWSHandler(service, logger)
	reports := NewReportHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	mux.HandleFunc("GET /quizzes/{quizId}/summary", reports.Summary)
	mux.HandleFunc("GET /quizzes/{quizId}/attempts", reports.MyAttempts)
	mux.HandleFunc("GET /attempts/{attemptId}", reports.Status)
	mux.HandleFunc("POST /attempts/{attemptId}/grades", reports.Grade)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}
