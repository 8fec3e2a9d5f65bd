package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"batchexports/internal/core"
	"batchexports/internal/types"
)

// RunRecorder is the subset of runs.Recorder used by CallbackHandler.
type RunRecorder interface {
	RecordRunStarted(ctx context.Context, ev types.RunStartedEvent) (*types.Run, error)
	RecordRunFinished(ctx context.Context, ev types.RunFinishedEvent) (*types.Run, error)
	RecordBackfillFinished(ctx context.Context, ev types.BackfillFinishedEvent) (*types.Backfill, error)
}

// CallbackHandler receives run callbacks from export workers over HTTP. The
// same events also arrive over SQS; both paths are idempotent.
type CallbackHandler struct {
	recorder  RunRecorder
	validator *core.Validator
	logger    *slog.Logger
}

// NewCallbackHandler creates a CallbackHandler.
func NewCallbackHandler(rec RunRecorder, v *core.Validator, l *slog.Logger) *CallbackHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CallbackHandler{recorder: rec, validator: v, logger: l}
}

// RegisterRoutes mounts the callbacks; the caller provides the /internal
// prefix and admin key check.
func (h *CallbackHandler) RegisterRoutes(r chi.Router) {
	r.Post("/runs/started", h.RunStarted)
	r.Post("/runs/finished", h.RunFinished)
	r.Post("/backfills/finished", h.BackfillFinished)
}

func (h *CallbackHandler) RunStarted(w http.ResponseWriter, r *http.Request) {
	var ev types.RunStartedEvent
	if !h.decode(w, r, &ev) {
		return
	}
	run, err := h.recorder.RecordRunStarted(r.Context(), ev)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: run})
}

func (h *CallbackHandler) RunFinished(w http.ResponseWriter, r *http.Request) {
	var ev types.RunFinishedEvent
	if !h.decode(w, r, &ev) {
		return
	}
	run, err := h.recorder.RecordRunFinished(r.Context(), ev)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: run})
}

func (h *CallbackHandler) BackfillFinished(w http.ResponseWriter, r *http.Request) {
	var ev types.BackfillFinishedEvent
	if !h.decode(w, r, &ev) {
		return
	}
	bf, err := h.recorder.RecordBackfillFinished(r.Context(), ev)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: bf})
}

func (h *CallbackHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := core.DecodeJSON(w, r, dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	return true
}
