package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"batchexports/internal/crypto"
	"batchexports/internal/db"
	"batchexports/internal/types"
)

// memStore is an in-memory Store. Transactions snapshot the tables and
// restore them when fn fails or commitErr is set.
type memStore struct {
	mu           sync.Mutex
	teams        map[int64]*types.Team
	exports      map[string]types.Export
	destinations map[string]types.Destination
	backfills    map[string]types.Backfill
	runs         []types.Run

	commitErr   error
	exportCalls map[string]int
	failCreate  map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		teams: map[int64]*types.Team{
			1: {ID: 1, OrganizationID: "org-1", Name: "Acme", Timezone: "UTC"},
			2: {ID: 2, OrganizationID: "org-1", Name: "Acme Staging", Timezone: "UTC"},
		},
		exports:      make(map[string]types.Export),
		destinations: make(map[string]types.Destination),
		backfills:    make(map[string]types.Backfill),
		exportCalls:  make(map[string]int),
		failCreate:   make(map[string]error),
	}
}

func (s *memStore) Repos() Repos {
	return Repos{
		Teams:        memTeams{s},
		Exports:      memExports{s},
		Destinations: memDestinations{s},
		Backfills:    memBackfills{s},
		Runs:         memRuns{s},
	}
}

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	snap := s.snapshot()
	if err := fn(ctx, s.Repos()); err != nil {
		s.restore(snap)
		return err
	}
	if s.commitErr != nil {
		s.restore(snap)
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction",
			errors.Join(db.ErrCommitFailed, s.commitErr))
	}
	return nil
}

type memSnapshot struct {
	exports      map[string]types.Export
	destinations map[string]types.Destination
	backfills    map[string]types.Backfill
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		exports:      make(map[string]types.Export, len(s.exports)),
		destinations: make(map[string]types.Destination, len(s.destinations)),
		backfills:    make(map[string]types.Backfill, len(s.backfills)),
	}
	for k, v := range s.exports {
		snap.exports[k] = v
	}
	for k, v := range s.destinations {
		snap.destinations[k] = v
	}
	for k, v := range s.backfills {
		snap.backfills[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports = snap.exports
	s.destinations = snap.destinations
	s.backfills = snap.backfills
}

func (s *memStore) export(id string) (types.Export, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exports[id]
	return e, ok
}

func (s *memStore) backfill(id string) (types.Backfill, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backfills[id]
	return b, ok
}

func (s *memStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportCalls[op]
}

func (s *memStore) failOn(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.failCreate[op]
	delete(s.failCreate, op)
	return err
}

type memTeams struct{ s *memStore }

func (r memTeams) GetByID(_ context.Context, id int64) (*types.Team, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.teams[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil)
	}
	cp := *t
	return &cp, nil
}

type memExports struct{ s *memStore }

func (r memExports) Create(_ context.Context, e *types.Export) error {
	if err := r.s.failOn("Exports.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	cp.Destination = nil
	r.s.exports[e.ID] = cp
	return nil
}

func (r memExports) GetByID(_ context.Context, teamID int64, id string) (*types.Export, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.exports[id]
	if !ok || e.TeamID != teamID || e.Deleted {
		return nil, types.NewAppError(types.ErrCodeNotFoundExport, "batch export not found", nil)
	}
	return &e, nil
}

func (r memExports) GetForUpdate(ctx context.Context, teamID int64, id string) (*types.Export, error) {
	return r.GetByID(ctx, teamID, id)
}

func (r memExports) List(_ context.Context, teamID int64, params types.ListParams) ([]*types.Export, types.PageInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.Export
	for _, e := range r.s.exports {
		if e.TeamID == teamID && !e.Deleted {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := params.NormalizedLimit()
	var page types.PageInfo
	if len(out) > limit {
		out = out[:limit]
		page.HasMore = true
		page.NextCursor = out[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return out, page, nil
}

func (r memExports) Update(_ context.Context, e *types.Export) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.exportCalls["Update"]++
	if _, ok := r.s.exports[e.ID]; !ok {
		return types.NewAppError(types.ErrCodeNotFoundExport, "batch export not found", nil)
	}
	cp := *e
	cp.Destination = nil
	r.s.exports[e.ID] = cp
	return nil
}

func (r memExports) MarkDeleted(_ context.Context, teamID int64, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.exports[id]
	if !ok || e.TeamID != teamID {
		return types.NewAppError(types.ErrCodeNotFoundExport, "batch export not found", nil)
	}
	e.Deleted = true
	e.LastUpdatedAt = at
	r.s.exports[id] = e
	return nil
}

type memDestinations struct{ s *memStore }

func (r memDestinations) Create(_ context.Context, d *types.Destination) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.destinations[d.ID] = *d
	return nil
}

func (r memDestinations) GetByID(_ context.Context, teamID int64, id string) (*types.Destination, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.destinations[id]
	if !ok || d.TeamID != teamID {
		return nil, types.NewAppError(types.ErrCodeNotFoundDestination, "destination not found", nil)
	}
	return &d, nil
}

func (r memDestinations) Update(_ context.Context, d *types.Destination) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.destinations[d.ID] = *d
	return nil
}

type memBackfills struct{ s *memStore }

func (r memBackfills) Create(_ context.Context, b *types.Backfill) error {
	if err := r.s.failOn("Backfills.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.backfills {
		if existing.WorkflowID == b.WorkflowID {
			return types.NewAppError(types.ErrCodeConflictBackfillExists, "backfill already exists", nil)
		}
	}
	r.s.backfills[b.ID] = *b
	return nil
}

func (r memBackfills) GetByID(_ context.Context, teamID int64, exportID, id string) (*types.Backfill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.backfills[id]
	if !ok || b.TeamID != teamID || b.ExportID != exportID {
		return nil, types.NewAppError(types.ErrCodeNotFoundBackfill, "backfill not found", nil)
	}
	return &b, nil
}

func (r memBackfills) GetForUpdate(ctx context.Context, teamID int64, exportID, id string) (*types.Backfill, error) {
	return r.GetByID(ctx, teamID, exportID, id)
}

func (r memBackfills) GetByWorkflowID(_ context.Context, teamID int64, workflowID string) (*types.Backfill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.backfills {
		if b.WorkflowID == workflowID && b.TeamID == teamID {
			return &b, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundBackfill, "backfill not found", nil)
}

func (r memBackfills) List(_ context.Context, teamID int64, exportID string, _ types.ListParams) ([]*types.Backfill, types.PageInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.Backfill
	for _, b := range r.s.backfills {
		if b.TeamID == teamID && b.ExportID == exportID {
			cp := b
			out = append(out, &cp)
		}
	}
	return out, types.PageInfo{}, nil
}

func (r memBackfills) ListActive(_ context.Context, exportID string) ([]*types.Backfill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.Backfill
	for _, b := range r.s.backfills {
		if b.ExportID == exportID && !b.Status.IsTerminal() {
			cp := b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memBackfills) Finish(_ context.Context, id string, status types.BackfillStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.backfills[id]
	if !ok || b.Status.IsTerminal() {
		return false, nil
	}
	b.Status = status
	b.FinishedAt = &at
	b.LastUpdatedAt = at
	r.s.backfills[id] = b
	return true, nil
}

type memRuns struct{ s *memStore }

func (r memRuns) ListByExport(_ context.Context, teamID int64, exportID, backfillID string, _ types.ListParams) ([]*types.Run, types.PageInfo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.Run
	for _, run := range r.s.runs {
		if run.TeamID != teamID || run.ExportID != exportID {
			continue
		}
		if backfillID != "" && (run.BackfillID == nil || *run.BackfillID != backfillID) {
			continue
		}
		cp := run
		out = append(out, &cp)
	}
	return out, types.PageInfo{}, nil
}

// plainPayloads leaves workflow arguments readable so tests can inspect them.
type plainPayloads struct{}

func (plainPayloads) Encode(data []byte) (crypto.Payload, error) {
	return crypto.Payload{Metadata: map[string]string{"encoding": "json/plain"}, Data: data}, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []types.ExportEvent
	err    error
}

func (r *recordedEvents) Publish(_ context.Context, ev types.ExportEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordedEvents) kinds() []types.ExportEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ExportEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type recordedMetrics struct {
	mu       sync.Mutex
	ops      map[string][]error
	backfill []*int
}

func (r *recordedMetrics) RecordOperation(_ context.Context, op string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = make(map[string][]error)
	}
	r.ops[op] = append(r.ops[op], err)
}

func (r *recordedMetrics) RecordBackfillStarted(_ context.Context, totalRuns *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backfill = append(r.backfill, totalRuns)
}
