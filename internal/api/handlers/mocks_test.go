package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"batchexports/internal/core"
	"batchexports/internal/lifecycle"
	"batchexports/internal/types"
)

type mockExportService struct {
	createFn   func(ctx context.Context, in lifecycle.CreateExportInput) (*types.Export, error)
	updateFn   func(ctx context.Context, teamID int64, id string, in lifecycle.UpdateExportInput) (*types.Export, error)
	getFn      func(ctx context.Context, teamID int64, id string) (*types.Export, error)
	listFn     func(ctx context.Context, teamID int64, params types.ListParams) ([]*types.Export, types.PageInfo, error)
	describeFn func(ctx context.Context, teamID int64, id string) (*lifecycle.ScheduleView, error)
	triggerFn  func(ctx context.Context, teamID int64, id string) error
	deleteFn   func(ctx context.Context, teamID int64, id string) error
	pauseFn    func(ctx context.Context, teamID int64, id, note string) (*types.Export, error)
	unpauseFn  func(ctx context.Context, teamID int64, id, note string, backfill bool) (*types.Export, *types.Backfill, error)
	listRunsFn func(ctx context.Context, teamID int64, exportID, backfillID string, params types.ListParams) ([]*types.Run, types.PageInfo, error)

	lastCreate *lifecycle.CreateExportInput
	lastUpdate *lifecycle.UpdateExportInput
}

func (m *mockExportService) Create(ctx context.Context, in lifecycle.CreateExportInput) (*types.Export, error) {
	m.lastCreate = &in
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &types.Export{ID: "exp-1", TeamID: in.TeamID, Name: in.Name, Interval: in.Interval}, nil
}

func (m *mockExportService) Update(ctx context.Context, teamID int64, id string, in lifecycle.UpdateExportInput) (*types.Export, error) {
	m.lastUpdate = &in
	if m.updateFn != nil {
		return m.updateFn(ctx, teamID, id, in)
	}
	return &types.Export{ID: id, TeamID: teamID}, nil
}

func (m *mockExportService) Get(ctx context.Context, teamID int64, id string) (*types.Export, error) {
	if m.getFn != nil {
		return m.getFn(ctx, teamID, id)
	}
	return &types.Export{ID: id, TeamID: teamID}, nil
}

func (m *mockExportService) List(ctx context.Context, teamID int64, params types.ListParams) ([]*types.Export, types.PageInfo, error) {
	if m.listFn != nil {
		return m.listFn(ctx, teamID, params)
	}
	return nil, types.PageInfo{}, nil
}

func (m *mockExportService) Describe(ctx context.Context, teamID int64, id string) (*lifecycle.ScheduleView, error) {
	if m.describeFn != nil {
		return m.describeFn(ctx, teamID, id)
	}
	return &lifecycle.ScheduleView{ExportID: id, Timezone: "UTC"}, nil
}

func (m *mockExportService) Trigger(ctx context.Context, teamID int64, id string) error {
	if m.triggerFn != nil {
		return m.triggerFn(ctx, teamID, id)
	}
	return nil
}

func (m *mockExportService) Delete(ctx context.Context, teamID int64, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, teamID, id)
	}
	return nil
}

func (m *mockExportService) Pause(ctx context.Context, teamID int64, id, note string) (*types.Export, error) {
	if m.pauseFn != nil {
		return m.pauseFn(ctx, teamID, id, note)
	}
	return &types.Export{ID: id, TeamID: teamID, Paused: true}, nil
}

func (m *mockExportService) Unpause(ctx context.Context, teamID int64, id, note string, backfill bool) (*types.Export, *types.Backfill, error) {
	if m.unpauseFn != nil {
		return m.unpauseFn(ctx, teamID, id, note, backfill)
	}
	return &types.Export{ID: id, TeamID: teamID}, nil, nil
}

func (m *mockExportService) ListRuns(ctx context.Context, teamID int64, exportID, backfillID string, params types.ListParams) ([]*types.Run, types.PageInfo, error) {
	if m.listRunsFn != nil {
		return m.listRunsFn(ctx, teamID, exportID, backfillID, params)
	}
	return nil, types.PageInfo{}, nil
}

type mockBackfillService struct {
	startFn  func(ctx context.Context, teamID int64, exportID string, rawStart, rawEnd *string) (*types.Backfill, error)
	cancelFn func(ctx context.Context, teamID int64, exportID, backfillID string) (*types.Backfill, error)
	getFn    func(ctx context.Context, teamID int64, exportID, backfillID string) (*types.Backfill, error)
	listFn   func(ctx context.Context, teamID int64, exportID string, params types.ListParams) ([]*types.Backfill, types.PageInfo, error)
}

func (m *mockBackfillService) StartBackfill(ctx context.Context, teamID int64, exportID string, rawStart, rawEnd *string) (*types.Backfill, error) {
	if m.startFn != nil {
		return m.startFn(ctx, teamID, exportID, rawStart, rawEnd)
	}
	return &types.Backfill{ID: "bf-1", ExportID: exportID, TeamID: teamID, Status: types.BackfillStatusRunning}, nil
}

func (m *mockBackfillService) CancelBackfill(ctx context.Context, teamID int64, exportID, backfillID string) (*types.Backfill, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, teamID, exportID, backfillID)
	}
	return &types.Backfill{ID: backfillID, ExportID: exportID, Status: types.BackfillStatusCancelled}, nil
}

func (m *mockBackfillService) GetBackfill(ctx context.Context, teamID int64, exportID, backfillID string) (*types.Backfill, error) {
	if m.getFn != nil {
		return m.getFn(ctx, teamID, exportID, backfillID)
	}
	return &types.Backfill{ID: backfillID, ExportID: exportID}, nil
}

func (m *mockBackfillService) ListBackfills(ctx context.Context, teamID int64, exportID string, params types.ListParams) ([]*types.Backfill, types.PageInfo, error) {
	if m.listFn != nil {
		return m.listFn(ctx, teamID, exportID, params)
	}
	return nil, types.PageInfo{}, nil
}

var testTeam = &types.Team{ID: 7, OrganizationID: "org-1", Name: "Acme"}

// teamRouter mounts register under /teams/{team_id} with testTeam already
// resolved, standing in for the auth and team access middleware.
func teamRouter(register core.RouteRegistrar) *chi.Mux {
	r := chi.NewRouter()
	r.MethodNotAllowed(core.MethodNotAllowed)
	r.Route("/teams/{team_id}", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(core.WithTeam(req.Context(), testTeam)))
			})
		})
		register(r)
	})
	return r
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
