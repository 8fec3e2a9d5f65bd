package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"batchexports/internal/core"
	"batchexports/internal/types"
)

// BackfillService is the subset of lifecycle.Manager used by BackfillHandler.
type BackfillService interface {
	StartBackfill(ctx context.Context, teamID int64, exportID string, rawStart, rawEnd *string) (*types.Backfill, error)
	CancelBackfill(ctx context.Context, teamID int64, exportID, backfillID string) (*types.Backfill, error)
	GetBackfill(ctx context.Context, teamID int64, exportID, backfillID string) (*types.Backfill, error)
	ListBackfills(ctx context.Context, teamID int64, exportID string, params types.ListParams) ([]*types.Backfill, types.PageInfo, error)
}

// StartBackfillRequest is the body of POST /backfills. Bounds are kept as
// raw strings; their accepted forms depend on the export interval.
type StartBackfillRequest struct {
	StartAt *string `json:"start_at"`
	EndAt   *string `json:"end_at"`
}

// BackfillHandler serves /exports/{id}/backfills. Backfills are immutable
// once started: only cancel changes them.
type BackfillHandler struct {
	svc    BackfillService
	logger *slog.Logger
}

// NewBackfillHandler creates a BackfillHandler.
func NewBackfillHandler(svc BackfillService, l *slog.Logger) *BackfillHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BackfillHandler{svc: svc, logger: l}
}

// RegisterRoutes mounts /backfills on an /exports/{id} router; see
// ExportHandler.Nest.
func (h *BackfillHandler) RegisterRoutes(r chi.Router) {
	r.Route("/backfills", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)

		r.Route("/{backfill_id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", core.MethodNotAllowed)
			r.Patch("/", core.MethodNotAllowed)
			r.Delete("/", core.MethodNotAllowed)
			r.Post("/cancel", h.Cancel)
		})
	})
}

// Start handles POST /exports/{id}/backfills.
func (h *BackfillHandler) Start(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	var req StartBackfillRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	exportID := chi.URLParam(r, "id")
	bf, err := h.svc.StartBackfill(r.Context(), team.ID, exportID, req.StartAt, req.EndAt)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "backfill started",
		"team_id", team.ID, "batch_export_id", exportID, "backfill_id", bf.ID)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: bf})
}

// List handles GET /exports/{id}/backfills.
func (h *BackfillHandler) List(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	params, err := core.ParseListParams(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	backfills, page, err := h.svc.ListBackfills(r.Context(), team.ID, chi.URLParam(r, "id"), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if backfills == nil {
		backfills = []*types.Backfill{}
	}
	core.JSON(w, r, http.StatusOK, types.ListResponse[*types.Backfill]{Data: backfills, PageInfo: page})
}

// Get handles GET /exports/{id}/backfills/{backfill_id}.
func (h *BackfillHandler) Get(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	bf, err := h.svc.GetBackfill(r.Context(), team.ID, chi.URLParam(r, "id"), chi.URLParam(r, "backfill_id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: bf})
}

// Cancel handles POST /exports/{id}/backfills/{backfill_id}/cancel.
// Cancelling a finished backfill returns it unchanged.
func (h *BackfillHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	bf, err := h.svc.CancelBackfill(r.Context(), team.ID, chi.URLParam(r, "id"), chi.URLParam(r, "backfill_id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: bf})
}
