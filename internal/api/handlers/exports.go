// Package handlers contains the HTTP handlers of the batch exports API.
// Handlers decode and validate requests, then hand off to the lifecycle
// manager or the run recorder; they hold no business rules of their own.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"batchexports/internal/core"
	"batchexports/internal/lifecycle"
	"batchexports/internal/types"
)

// ExportService is the subset of lifecycle.Manager used by ExportHandler.
type ExportService interface {
	Create(ctx context.Context, in lifecycle.CreateExportInput) (*types.Export, error)
	Update(ctx context.Context, teamID int64, id string, in lifecycle.UpdateExportInput) (*types.Export, error)
	Get(ctx context.Context, teamID int64, id string) (*types.Export, error)
	List(ctx context.Context, teamID int64, params types.ListParams) ([]*types.Export, types.PageInfo, error)
	Describe(ctx context.Context, teamID int64, id string) (*lifecycle.ScheduleView, error)
	Trigger(ctx context.Context, teamID int64, id string) error
	Delete(ctx context.Context, teamID int64, id string) error
	Pause(ctx context.Context, teamID int64, id, note string) (*types.Export, error)
	Unpause(ctx context.Context, teamID int64, id, note string, backfill bool) (*types.Export, *types.Backfill, error)
	ListRuns(ctx context.Context, teamID int64, exportID, backfillID string, params types.ListParams) ([]*types.Run, types.PageInfo, error)
}

// CreateExportRequest is the body of POST /exports.
type CreateExportRequest struct {
	Name        string             `json:"name" validate:"required,max=255"`
	Model       types.Model        `json:"model" validate:"omitempty,oneof=events persons"`
	Destination *types.Destination `json:"destination" validate:"required"`
	Interval    string             `json:"interval" validate:"required,export_interval"`
	Timezone    *string            `json:"timezone" validate:"omitempty,is_timezone"`
	OffsetDay   *int               `json:"offset_day" validate:"omitempty,min=0,max=6"`
	OffsetHour  *int               `json:"offset_hour" validate:"omitempty,min=0,max=23"`
	Paused      bool               `json:"paused"`
	StartAt     *time.Time         `json:"start_at"`
	EndAt       *time.Time         `json:"end_at"`
}

// UpdateExportRequest is the body of PUT and PATCH /exports/{id}. Absent
// fields are left alone; null clears a nullable field.
type UpdateExportRequest struct {
	Name        types.Optional[string]    `json:"name,omitzero"`
	Model       types.Optional[string]    `json:"model,omitzero"`
	Destination *types.Destination        `json:"destination,omitempty"`
	Interval    types.Optional[string]    `json:"interval,omitzero"`
	Timezone    types.Optional[string]    `json:"timezone,omitzero"`
	OffsetDay   types.Optional[int]       `json:"offset_day,omitzero"`
	OffsetHour  types.Optional[int]       `json:"offset_hour,omitzero"`
	StartAt     types.Optional[time.Time] `json:"start_at,omitzero"`
	EndAt       types.Optional[time.Time] `json:"end_at,omitzero"`
}

// PauseRequest is the optional body of POST /pause and /unpause.
type PauseRequest struct {
	Note     string `json:"note" validate:"max=1000"`
	Backfill bool   `json:"backfill"`
}

// UnpauseResponse carries the backfill started on unpause, if any.
type UnpauseResponse struct {
	*types.Export
	Backfill *types.Backfill `json:"backfill,omitempty"`
}

// ExportHandler serves the export routes of a team.
type ExportHandler struct {
	svc       ExportService
	validator *core.Validator
	logger    *slog.Logger
	nested    []core.RouteRegistrar
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(svc ExportService, v *core.Validator, l *slog.Logger) *ExportHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ExportHandler{svc: svc, validator: v, logger: l}
}

// Nest mounts reg under /exports/{id}.
func (h *ExportHandler) Nest(reg core.RouteRegistrar) {
	h.nested = append(h.nested, reg)
}

// RegisterRoutes mounts the export routes and any nested registrars.
func (h *ExportHandler) RegisterRoutes(r chi.Router) {
	r.Route("/exports", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/pause", h.Pause)
			r.Post("/unpause", h.Unpause)
			r.Post("/trigger", h.Trigger)
			r.Get("/schedule", h.Schedule)
			r.Get("/runs", h.ListRuns)
			for _, reg := range h.nested {
				reg(r)
			}
		})
	})
}

// Create handles POST /exports.
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	var req CreateExportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	interval, err := types.ParseInterval(req.Interval)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInterval, "Invalid interval "+req.Interval, err))
		return
	}

	e, err := h.svc.Create(r.Context(), lifecycle.CreateExportInput{
		TeamID:      team.ID,
		Name:        req.Name,
		Model:       req.Model,
		Destination: req.Destination.Config,
		Interval:    interval,
		Timezone:    req.Timezone,
		OffsetDay:   req.OffsetDay,
		OffsetHour:  req.OffsetHour,
		Paused:      req.Paused,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "export created", "team_id", team.ID, "batch_export_id", e.ID)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: e})
}

// List handles GET /exports.
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	params, err := core.ParseListParams(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	exports, page, err := h.svc.List(r.Context(), team.ID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if exports == nil {
		exports = []*types.Export{}
	}
	core.JSON(w, r, http.StatusOK, types.ListResponse[*types.Export]{Data: exports, PageInfo: page})
}

// Get handles GET /exports/{id}.
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Get(r.Context(), team.ID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: e})
}

// Update handles PUT and PATCH /exports/{id}. Both are partial updates.
func (h *ExportHandler) Update(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	var req UpdateExportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	e, err := h.svc.Update(r.Context(), team.ID, chi.URLParam(r, "id"), in)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: e})
}

func (req UpdateExportRequest) toInput() (lifecycle.UpdateExportInput, error) {
	in := lifecycle.UpdateExportInput{
		Name:       req.Name,
		Timezone:   req.Timezone,
		OffsetDay:  req.OffsetDay,
		OffsetHour: req.OffsetHour,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
	}
	if req.Name.IsNull() {
		return in, types.NewAppError(types.ErrCodeValidationMissingField, "name must not be null", nil)
	}
	if req.Interval.IsNull() {
		return in, types.NewAppError(types.ErrCodeValidationMissingField, "interval must not be null", nil)
	}
	if raw, ok := req.Interval.Get(); ok {
		interval, err := types.ParseInterval(raw)
		if err != nil {
			return in, types.NewAppError(types.ErrCodeValidationInvalidInterval, "Invalid interval "+raw, err)
		}
		in.Interval = types.Some(interval)
	}
	if raw, ok := req.Model.Get(); ok {
		in.Model = types.Some(types.Model(raw))
	}
	if req.Destination != nil {
		in.Destination = req.Destination.Config
	}
	return in, nil
}

// Delete handles DELETE /exports/{id}.
func (h *ExportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), team.ID, id); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "export deleted", "team_id", team.ID, "batch_export_id", id)
	core.NoContent(w)
}

// Pause handles POST /exports/{id}/pause.
func (h *ExportHandler) Pause(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	req, err := h.decodePause(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	e, err := h.svc.Pause(r.Context(), team.ID, chi.URLParam(r, "id"), req.Note)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: e})
}

// Unpause handles POST /exports/{id}/unpause. With "backfill": true the
// paused gap is backfilled.
func (h *ExportHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	req, err := h.decodePause(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	e, bf, err := h.svc.Unpause(r.Context(), team.ID, chi.URLParam(r, "id"), req.Note, req.Backfill)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: UnpauseResponse{Export: e, Backfill: bf}})
}

// decodePause accepts an empty body.
func (h *ExportHandler) decodePause(w http.ResponseWriter, r *http.Request) (PauseRequest, error) {
	var req PauseRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	if err := core.DecodeJSON(w, r, &req); err != nil {
		return req, err
	}
	return req, h.validator.ValidateStruct(req)
}

// Trigger handles POST /exports/{id}/trigger.
func (h *ExportHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Trigger(r.Context(), team.ID, chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Schedule handles GET /exports/{id}/schedule.
func (h *ExportHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Describe(r.Context(), team.ID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

// ListRuns handles GET /exports/{id}/runs. ?backfill_id narrows the list to
// one backfill.
func (h *ExportHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	team, ok := requireTeam(w, r)
	if !ok {
		return
	}
	params, err := core.ParseListParams(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	runs, page, err := h.svc.ListRuns(r.Context(), team.ID, chi.URLParam(r, "id"), r.URL.Query().Get("backfill_id"), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if runs == nil {
		runs = []*types.Run{}
	}
	core.JSON(w, r, http.StatusOK, types.ListResponse[*types.Run]{Data: runs, PageInfo: page})
}

// requireTeam returns the team resolved by core.TeamAccessMiddleware.
func requireTeam(w http.ResponseWriter, r *http.Request) (*types.Team, bool) {
	team, ok := core.TeamFromContext(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil))
		return nil, false
	}
	return team, true
}
