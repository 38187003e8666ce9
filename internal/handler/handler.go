package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/cbtportal/internal/exam"
	"github.com/pavelanni/cbtportal/internal/llm"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/pin"
	"github.com/pavelanni/cbtportal/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	exams     *exam.Manager
	pins      *pin.Service
	llm       *llm.Client
	config    model.ServerConfig
	adminHash []byte
	validate  *validator.Validate
	trans     ut.Translator
}

// New creates a new Handler. l may be nil, which disables the AI features.
// adminHash is the bcrypt hash of the administrator password.
func New(s *store.Store, exams *exam.Manager, pins *pin.Service, l *llm.Client, adminHash []byte, cfg model.ServerConfig) (*Handler, error) {
	v, trans, err := newValidator()
	if err != nil {
		return nil, err
	}
	cfg.AdviceEnabled = l != nil
	return &Handler{
		store:     s,
		exams:     exams,
		pins:      pins,
		llm:       l,
		config:    cfg,
		adminHash: adminHash,
		validate:  v,
		trans:     trans,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", h.handleGetSettings)

		r.Post("/students/login", h.handleStudentLogin)
		r.Get("/students/{examNumber}/exams", h.handleStudentExams)

		r.Post("/sessions", h.handleStartSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleAbandonSession)
			r.Put("/answers/{questionID}", h.handleSelectAnswer)
			r.Post("/navigate", h.handleNavigate)
			r.Post("/submit", h.handleSubmitSession)
		})

		r.Post("/results/check", h.handleCheckResult)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			h.adminRoutes(r)
		})
	})

	r.Post("/results/sheet", h.handleResultSheet)
	r.Get("/results/sheet/{receipt}", h.handleReceiptSheet)
}

// BasePathMiddleware injects the configured base path into the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path returns a URL path with the base path prefix.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.exams.Len(),
		"ai":       h.config.AdviceEnabled,
	})
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeBadRequest(w, r, err.Error(), nil)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.writeValidationError(w, r, err)
		return false
	}
	return true
}
