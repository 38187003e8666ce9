package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cbtportal/internal/handler/views"
	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/pin"
)

type checkResultRequest struct {
	ExamNumber string `json:"examNumber" validate:"notblank,max=64"`
	Pin        string `json:"pin" validate:"notblank,max=32"`
	Advice     bool   `json:"advice"`
}

type checkResultResponse struct {
	*pin.Redemption
	Message     string `json:"message"`
	Advice      string `json:"advice,omitempty"`
	AdviceError string `json:"adviceError,omitempty"`
}

func (h *Handler) handleCheckResult(w http.ResponseWriter, r *http.Request) {
	var req checkResultRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	red, err := h.pins.Redeem(ctx, req.ExamNumber, req.Pin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := checkResultResponse{
		Redemption: red,
		Message:    appI18n.Tp(ctx, "UsesRemaining", red.Remaining),
	}
	if req.Advice {
		resp.Advice, resp.AdviceError = h.advice(ctx, red)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResultSheet serves the printable report sheet for the result-check
// form. Each post is a fresh check and uses the PIN once.
func (h *Handler) handleResultSheet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeBadRequest(w, r, err.Error(), nil)
		return
	}
	req := checkResultRequest{
		ExamNumber: r.PostFormValue("examNumber"),
		Pin:        r.PostFormValue("pin"),
		Advice:     r.PostFormValue("advice") != "",
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeValidationError(w, r, err)
		return
	}

	red, err := h.pins.Redeem(r.Context(), req.ExamNumber, req.Pin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderSheet(w, r, red, req.Advice)
}

// handleReceiptSheet prints a result that was already checked. The PIN is
// not used again.
func (h *Handler) handleReceiptSheet(w http.ResponseWriter, r *http.Request) {
	red, err := h.pins.Receipt(chi.URLParam(r, "receipt"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderSheet(w, r, red, r.URL.Query().Get("advice") != "")
}

func (h *Handler) renderSheet(w http.ResponseWriter, r *http.Request, red *pin.Redemption, withAdvice bool) {
	ctx := r.Context()
	settings, err := h.store.GetSettings(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := views.ResultSheetData{
		Settings:  settings,
		Student:   red.Student,
		Summary:   red.Summary,
		Remaining: red.Remaining,
	}
	if withAdvice {
		data.Advice, _ = h.advice(ctx, red)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ResultSheet(data).Render(ctx, w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// advice asks the model for study advice. A failure never fails the
// redemption; the second value carries a localized note instead.
func (h *Handler) advice(ctx context.Context, red *pin.Redemption) (string, string) {
	if h.llm == nil {
		return "", appI18n.T(ctx, "ErrAIDisabled")
	}
	text, err := h.llm.Advice(ctx, red.Student.FullName, red.Summary.Rows)
	if err != nil {
		slog.Warn("advice generation failed", "student_id", red.Student.ID, "error", err)
		return "", appI18n.T(ctx, "ErrGeneration")
	}
	return strings.TrimSpace(text), ""
}
