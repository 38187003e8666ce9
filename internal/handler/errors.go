package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/cbtportal/internal/exam"
	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/llm"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/pin"
	"github.com/pavelanni/cbtportal/internal/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// errorMapping ties a domain error to an HTTP status, a stable code and a
// message id in the locale files.
type errorMapping struct {
	target error
	status int
	code   string
	msgID  string
}

var errorMappings = []errorMapping{
	{pin.ErrStudentNotFound, http.StatusNotFound, "student_not_found", "ErrStudentNotFound"},
	{pin.ErrPinNotFound, http.StatusNotFound, "pin_not_found", "ErrPinNotFound"},
	{pin.ErrPinExhausted, http.StatusGone, "pin_exhausted", "ErrPinExhausted"},
	{pin.ErrPinLocked, http.StatusConflict, "pin_locked", "ErrPinLocked"},
	{pin.ErrNoResultsYet, http.StatusNotFound, "no_results_yet", "ErrNoResultsYet"},
	{store.ErrPinRejected, http.StatusConflict, "pin_rejected", "ErrPinLocked"},
	{store.ErrDuplicateExamNumber, http.StatusConflict, "duplicate_exam_number", "ErrDuplicateExamNumber"},
	{exam.ErrInvalidOption, http.StatusUnprocessableEntity, "invalid_option", "ErrInvalidOption"},
	{exam.ErrUnknownQuestion, http.StatusUnprocessableEntity, "unknown_question", "ErrUnknownQuestion"},
	{exam.ErrTimeUp, http.StatusConflict, "time_up", "ErrTimeUp"},
	{exam.ErrNotInProgress, http.StatusConflict, "not_in_progress", "ErrNotInProgress"},
	{exam.ErrSubmitInProgress, http.StatusConflict, "submit_in_progress", "ErrSubmitInProgress"},
	{exam.ErrAlreadySubmitted, http.StatusConflict, "already_submitted", "ErrAlreadySubmitted"},
	{errExamNotForStudent, http.StatusForbidden, "exam_not_available", "ErrExamNotForStudent"},
	{errExamNumberNotFound, http.StatusNotFound, "exam_number_not_found", "ErrExamNumberNotFound"},
	{errAIDisabled, http.StatusServiceUnavailable, "ai_disabled", "ErrAIDisabled"},
	{model.ErrQuestionText, http.StatusUnprocessableEntity, "invalid_question", "ErrInvalidRequest"},
	{model.ErrQuestionOptions, http.StatusUnprocessableEntity, "invalid_question", "ErrInvalidRequest"},
	{model.ErrCorrectOption, http.StatusUnprocessableEntity, "invalid_question", "ErrInvalidRequest"},
}

var (
	errExamNotForStudent  = errors.New("exam is not available to this student")
	errExamNumberNotFound = errors.New("exam number not found")
	errAIDisabled         = errors.New("ai features are not configured")
)

// writeError maps err to a status code and a localized JSON body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeJSON(w, m.status, errorBody{Error: appI18n.T(ctx, m.msgID), Code: m.code})
			return
		}
	}

	var nf *model.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error: appI18n.Td(ctx, "ErrNotFound", map[string]any{"Kind": nf.Kind}),
			Code:  nf.Kind + "_not_found",
		})
		return
	}

	var ge *llm.GenerationError
	if errors.As(err, &ge) {
		slog.Warn("generation failed", "op", ge.Op, "error", ge.Err, "request_id", middleware.GetReqID(ctx))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: appI18n.T(ctx, "ErrGeneration"), Code: "generation_failed"})
		return
	}

	slog.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(ctx),
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: appI18n.T(ctx, "ErrInternal"), Code: "internal"})
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, r *http.Request, detail string, fields map[string]string) {
	slog.Debug("bad request", "path", r.URL.Path, "detail", detail)
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:  appI18n.T(r.Context(), "ErrInvalidRequest"),
		Code:   "invalid_request",
		Fields: fields,
	})
}

func (h *Handler) writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeBadRequest(w, r, err.Error(), h.fieldErrors(err))
}
