package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cbtportal/internal/exam"
	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/model"
)

type loginRequest struct {
	ExamNumber string `json:"examNumber" validate:"notblank,max=64"`
}

type loginResponse struct {
	Student model.Student `json:"student"`
	Exams   []examListing `json:"exams"`
}

// examListing is an active exam as shown on the student dashboard.
type examListing struct {
	model.Exam
	SubjectName string `json:"subjectName"`
}

type startSessionRequest struct {
	ExamNumber string `json:"examNumber" validate:"notblank,max=64"`
	ExamID     string `json:"examId" validate:"notblank"`
}

type answerRequest struct {
	Option model.OptionLabel `json:"option" validate:"option_label"`
}

type navigateRequest struct {
	Action string `json:"action" validate:"oneof=next previous jump"`
	Index  int    `json:"index"`
}

type submitResponse struct {
	Result  model.Result `json:"result"`
	Message string       `json:"message"`
}

func (h *Handler) handleStudentLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.studentByExamNumber(r.Context(), req.ExamNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	exams, err := h.listingsFor(r.Context(), *st)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("student logged in", "student_id", st.ID, "active_exams", len(exams))
	writeJSON(w, http.StatusOK, loginResponse{Student: *st, Exams: exams})
}

func (h *Handler) handleStudentExams(w http.ResponseWriter, r *http.Request) {
	// Exam numbers contain slashes, so clients send them escaped.
	examNumber, err := url.PathUnescape(chi.URLParam(r, "examNumber"))
	if err != nil {
		h.writeBadRequest(w, r, err.Error(), nil)
		return
	}
	st, err := h.studentByExamNumber(r.Context(), examNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	exams, err := h.listingsFor(r.Context(), *st)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) studentByExamNumber(ctx context.Context, examNumber string) (*model.Student, error) {
	st, err := h.store.GetStudentByExamNumber(ctx, examNumber)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errExamNumberNotFound
	}
	return st, nil
}

func (h *Handler) listingsFor(ctx context.Context, st model.Student) ([]examListing, error) {
	exams, err := h.store.ListActiveExamsForStudent(ctx, st)
	if err != nil {
		return nil, err
	}
	names, err := h.store.SubjectNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]examListing, 0, len(exams))
	for _, e := range exams {
		out = append(out, examListing{Exam: e, SubjectName: names[e.SubjectID]})
	}
	return out, nil
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	st, err := h.studentByExamNumber(ctx, req.ExamNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.store.GetExam(ctx, req.ExamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !e.Active || !st.TakesSubject(e.SubjectID) {
		h.writeError(w, r, errExamNotForStudent)
		return
	}

	sess, err := h.exams.Start(ctx, e.ID, *st)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", h.path("/api/sessions/"+sess.ID()))
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*exam.Session, bool) {
	sess, err := h.exams.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleAbandonSession drops an unsubmitted session when the candidate leaves
// the exam page.
func (h *Handler) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	if err := h.exams.Abandon(chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSelectAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := sess.SelectAnswer(chi.URLParam(r, "questionID"), req.Option); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if !h.decode(w, r, &req) {
		return
	}
	switch req.Action {
	case "next":
		sess.Next()
	case "previous":
		sess.Previous()
	case "jump":
		sess.JumpTo(req.Index)
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := sess.Submit(r.Context())
	if err != nil && !(errors.Is(err, exam.ErrAlreadySubmitted) && res != nil) {
		h.writeError(w, r, err)
		return
	}
	// A second submit returns the stored result.
	writeJSON(w, http.StatusOK, submitResponse{
		Result:  *res,
		Message: examSubmittedMessage(r.Context(), res),
	})
}

func examSubmittedMessage(ctx context.Context, res *model.Result) string {
	return appI18n.Td(ctx, "ExamSubmitted", map[string]any{
		"Score": res.Score,
		"Total": res.TotalQuestions,
	})
}
