package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/llm"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/pin"
	"github.com/pavelanni/cbtportal/internal/report"
	"github.com/pavelanni/cbtportal/internal/store"
)

// maxUploadBytes bounds question file uploads.
const maxUploadBytes = 10 << 20

func (h *Handler) adminRoutes(r chi.Router) {
	r.Get("/classes", h.handleListClasses)
	r.Post("/classes", h.handleCreateClass)
	r.Delete("/classes/{id}", h.handleDeleteClass)

	r.Get("/subjects", h.handleListSubjects)
	r.Post("/subjects", h.handleCreateSubject)
	r.Delete("/subjects/{id}", h.handleDeleteSubject)

	r.Get("/students", h.handleListStudents)
	r.Get("/students.csv", h.handleExportStudents)
	r.Post("/students", h.handleCreateStudent)
	r.Delete("/students/{id}", h.handleDeleteStudent)

	r.Get("/questions", h.handleListQuestions)
	r.Post("/questions", h.handleCreateQuestion)
	r.Post("/questions/import", h.handleImportQuestions)
	r.Post("/questions/generate", h.handleGenerateQuestions)
	r.Delete("/questions/{id}", h.handleDeleteQuestion)

	r.Get("/exams", h.handleListExams)
	r.Post("/exams", h.handleCreateExam)
	r.Post("/exams/{id}/toggle", h.handleToggleExam)
	r.Delete("/exams/{id}", h.handleDeleteExam)

	r.Get("/pins", h.handleListPins)
	r.Get("/pins.txt", h.handleExportPins)
	r.Post("/pins/generate", h.handleGeneratePins)
	r.Delete("/pins/{id}", h.handleDeletePin)

	r.Get("/results", h.handleListResults)
	r.Get("/results.csv", h.handleExportResultsCSV)
	r.Get("/results.json", h.handleExportResultsJSON)

	r.Get("/settings", h.handleGetSettings)
	r.Put("/settings", h.handleSaveSettings)
}

type createClassRequest struct {
	Name string `json:"name" validate:"notblank,max=100"`
}

type createSubjectRequest struct {
	Name    string `json:"name" validate:"notblank,max=100"`
	ClassID string `json:"classId" validate:"notblank"`
}

type createStudentRequest struct {
	FullName   string   `json:"fullName" validate:"notblank,max=200"`
	ExamNumber string   `json:"examNumber" validate:"notblank,max=64"`
	ClassID    string   `json:"classId" validate:"notblank"`
	Subjects   []string `json:"subjects" validate:"dive,notblank"`
}

type createExamRequest struct {
	SubjectID   string `json:"subjectId" validate:"notblank"`
	Duration    int    `json:"duration" validate:"min=0,max=600"`
	Active      bool   `json:"active"`
	Instruction string `json:"instruction" validate:"max=2000"`
}

type generateQuestionsRequest struct {
	SubjectID string `json:"subjectId" validate:"notblank"`
	Topic     string `json:"topic" validate:"max=200"`
	Count     int    `json:"count" validate:"min=0,max=20"`
	Save      bool   `json:"save"`
}

type generatePinsRequest struct {
	Count int `json:"count" validate:"min=1,max=1000"`
}

type createdResponse struct {
	ID string `json:"id"`
}

func (h *Handler) handleListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.store.ListClasses(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

func (h *Handler) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req createClassRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.store.CreateClass(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("created class", "id", id, "name", req.Name)
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, "class", h.store.DeleteClass(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	var (
		subjects []model.Subject
		err      error
	)
	if classID := r.URL.Query().Get("classId"); classID != "" {
		subjects, err = h.store.ListSubjectsForClass(r.Context(), classID)
	} else {
		subjects, err = h.store.ListSubjects(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (h *Handler) handleCreateSubject(w http.ResponseWriter, r *http.Request) {
	var req createSubjectRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.store.CreateSubject(r.Context(), model.Subject{Name: req.Name, ClassID: req.ClassID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("created subject", "id", id, "name", req.Name, "class_id", req.ClassID)
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) handleDeleteSubject(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, "subject", h.store.DeleteSubject(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) handleExportStudents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	students, err := h.store.ListStudents(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	classes, err := h.store.ListClasses(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	names := make(map[string]string, len(classes))
	for _, c := range classes {
		names[c.ID] = c.Name
	}
	attachment(w, "text/csv; charset=utf-8", "students.csv")
	if err := report.WriteStudentsCSV(w, students, names); err != nil {
		slog.Error("write students csv", "error", err)
	}
}

func (h *Handler) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.store.CreateStudent(r.Context(), model.Student{
		FullName:   req.FullName,
		ExamNumber: req.ExamNumber,
		ClassID:    req.ClassID,
		Subjects:   req.Subjects,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, "student", h.store.DeleteStudent(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	var (
		questions []model.Question
		err       error
	)
	if subjectID := r.URL.Query().Get("subjectId"); subjectID != "" {
		questions, err = h.store.ListQuestionsBySubject(r.Context(), subjectID)
	} else {
		questions, err = h.store.ListQuestions(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var q model.Question
	if !h.decode(w, r, &q) {
		return
	}
	q.ID = ""
	id, err := h.store.InsertQuestion(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) handleImportQuestions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeBadRequest(w, r, "file too large", nil)
		return
	}
	subjectID := r.FormValue("subjectId")
	if subjectID == "" {
		h.writeBadRequest(w, r, "subjectId required", map[string]string{"subjectId": "subjectId is a required field"})
		return
	}

	file, header, err := r.FormFile("questions_file")
	if err != nil {
		h.writeBadRequest(w, r, "no file uploaded", map[string]string{"questions_file": "questions_file is a required field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetSubject(ctx, subjectID); err != nil {
		h.writeError(w, r, err)
		return
	}
	outcome, err := h.store.ImportQuestions(ctx, subjectID, header.Filename, data)
	switch {
	case errors.Is(err, store.ErrInvalidQuestionsFile):
		h.writeBadRequest(w, r, err.Error(), map[string]string{"questions_file": err.Error()})
		return
	case err != nil:
		h.writeError(w, r, err)
		return
	case outcome.Changed:
		writeJSON(w, http.StatusConflict, errorBody{
			Error: appI18n.T(ctx, "ErrImportChanged"),
			Code:  "import_changed",
		})
		return
	}
	slog.Info("uploaded questions via admin", "filename", header.Filename, "subject_id", subjectID, "count", outcome.Imported)
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		h.writeError(w, r, errAIDisabled)
		return
	}
	var req generateQuestionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = llm.DefaultQuestionCount
	}

	ctx := r.Context()
	sub, err := h.store.GetSubject(ctx, req.SubjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	questions, err := h.llm.GenerateQuestions(ctx, sub.Name, req.Topic, req.Count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	for i := range questions {
		questions[i].SubjectID = sub.ID
		questions[i].ClassID = sub.ClassID
		if !req.Save {
			continue
		}
		id, err := h.store.InsertQuestion(ctx, questions[i])
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		questions[i].ID = id
	}
	slog.Info("generated questions", "subject_id", sub.ID, "count", len(questions), "saved", req.Save)
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, "question", h.store.DeleteQuestion(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req createExamRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.store.CreateExam(r.Context(), model.Exam{
		SubjectID:   req.SubjectID,
		Duration:    req.Duration,
		Active:      req.Active,
		Instruction: req.Instruction,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("created exam", "id", id, "subject_id", req.SubjectID, "active", req.Active)
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) handleToggleExam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, err := h.store.ToggleExamActive(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("toggled exam", "id", id, "active", active)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, "exam", h.store.DeleteExam(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) handleListPins(w http.ResponseWriter, r *http.Request) {
	pins, err := h.store.ListPins(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pins)
}

func (h *Handler) handleExportPins(w http.ResponseWriter, r *http.Request) {
	pins, err := h.store.ListPins(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attachment(w, "text/plain; charset=utf-8", "pins.txt")
	if _, err := io.WriteString(w, pin.ExportText(pins)); err != nil {
		slog.Error("write pins export", "error", err)
	}
}

func (h *Handler) handleGeneratePins(w http.ResponseWriter, r *http.Request) {
	var req generatePinsRequest
	if !h.decode(w, r, &req) {
		return
	}
	pins, err := h.pins.Generate(r.Context(), req.Count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pins)
}

func (h *Handler) handleDeletePin(w http.ResponseWriter, r *http.Request) {
	h.deleted(w, r, "pin", h.store.DeletePin(r.Context(), chi.URLParam(r, "id")))
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ExportResults(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleExportResultsCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ExportResults(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attachment(w, "text/csv; charset=utf-8", "results.csv")
	if err := report.WriteResultsCSV(w, rows); err != nil {
		slog.Error("write results csv", "error", err)
	}
}

func (h *Handler) handleExportResultsJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.store.ExportResults(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	settings, err := h.store.GetSettings(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attachment(w, "application/json", "results.json")
	export := model.ResultExport{
		SchoolName: settings.SchoolName,
		ExportedAt: time.Now().UTC(),
		Results:    rows,
	}
	if err := report.WriteResultsJSON(w, export); err != nil {
		slog.Error("write results json", "error", err)
	}
}

func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.store.GetSettings(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Fields missing from the body keep their saved values.
	if !h.decode(w, r, &settings) {
		return
	}
	if err := h.store.SaveSettings(ctx, settings); err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("saved site settings")
	writeJSON(w, http.StatusOK, settings)
}

// deleted finishes a delete request. Deleting a missing document succeeds.
func (h *Handler) deleted(w http.ResponseWriter, r *http.Request, kind string, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("deleted "+kind, "id", chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
}
