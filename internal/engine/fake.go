package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"batchexports/internal/schedule"
)

// FakeSchedule is a schedule held by Fake.
type FakeSchedule struct {
	Spec      schedule.Spec
	Action    Action
	State     State
	Triggered int
}

// FakeWorkflow is a workflow started on Fake.
type FakeWorkflow struct {
	Request   StartWorkflowRequest
	RunID     string
	StartTime time.Time
	Cancelled bool
}

// Fake is an in-memory engine for tests. It mirrors the engine's id
// semantics: duplicate schedule or workflow ids fail with ErrAlreadyExists
// and unknown ids fail with ErrNotFound.
type Fake struct {
	mu        sync.Mutex
	schedules map[string]*FakeSchedule
	workflows map[string]*FakeWorkflow
	calls     []string
	failNext  map[string]error
	applyFail map[string]bool
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		schedules: make(map[string]*FakeSchedule),
		workflows: make(map[string]*FakeWorkflow),
		failNext:  make(map[string]error),
		applyFail: make(map[string]bool),
	}
}

// FailNext makes the next call to method return err (one of the package
// sentinels) without applying it.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[method] = err
}

// FailNextAfterApply makes the next call to method apply its effect and then
// return err, simulating a response lost after the engine committed.
func (f *Fake) FailNextAfterApply(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[method] = err
	f.applyFail[method] = true
}

// Calls returns the methods invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how often method was invoked.
func (f *Fake) CallCount(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

// Schedule returns a copy of the stored schedule.
func (f *Fake) Schedule(id string) (FakeSchedule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return FakeSchedule{}, false
	}
	return *s, true
}

// Workflow returns a copy of the stored workflow.
func (f *Fake) Workflow(id string) (FakeWorkflow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workflows[id]
	if !ok {
		return FakeWorkflow{}, false
	}
	return *w, true
}

// begin records the call and returns any injected failure. apply reports
// whether the effect should still be applied.
func (f *Fake) begin(method string) (apply bool, injected error) {
	f.calls = append(f.calls, method)
	failure, ok := f.failNext[method]
	if !ok {
		return true, nil
	}
	delete(f.failNext, method)
	after := f.applyFail[method]
	delete(f.applyFail, method)
	return after, mapError("FAKE", method, failure)
}

func (f *Fake) CreateSchedule(_ context.Context, id string, spec schedule.Spec, action Action, state State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply, injected := f.begin("CreateSchedule")
	if apply {
		if _, ok := f.schedules[id]; ok {
			return mapError("FAKE", "CreateSchedule", ErrAlreadyExists)
		}
		f.schedules[id] = &FakeSchedule{Spec: spec, Action: action, State: state}
	}
	return injected
}

func (f *Fake) UpdateSchedule(_ context.Context, id string, spec schedule.Spec, action Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply, injected := f.begin("UpdateSchedule")
	if apply {
		s, ok := f.schedules[id]
		if !ok {
			return mapError("FAKE", "UpdateSchedule", ErrNotFound)
		}
		s.Spec = spec
		s.Action = action
	}
	return injected
}

func (f *Fake) DescribeSchedule(_ context.Context, id string) (*Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, injected := f.begin("DescribeSchedule"); injected != nil {
		return nil, injected
	}
	s, ok := f.schedules[id]
	if !ok {
		return nil, mapError("FAKE", "DescribeSchedule", ErrNotFound)
	}
	return &Description{ID: id, Spec: s.Spec, State: s.State}, nil
}

func (f *Fake) setPaused(method, id, note string, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply, injected := f.begin(method)
	if apply {
		s, ok := f.schedules[id]
		if !ok {
			return mapError("FAKE", method, ErrNotFound)
		}
		s.State = State{Paused: paused, Note: note}
	}
	return injected
}

func (f *Fake) PauseSchedule(_ context.Context, id, note string) error {
	return f.setPaused("PauseSchedule", id, note, true)
}

func (f *Fake) UnpauseSchedule(_ context.Context, id, note string) error {
	return f.setPaused("UnpauseSchedule", id, note, false)
}

func (f *Fake) TriggerSchedule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply, injected := f.begin("TriggerSchedule")
	if apply {
		s, ok := f.schedules[id]
		if !ok {
			return mapError("FAKE", "TriggerSchedule", ErrNotFound)
		}
		s.Triggered++
	}
	return injected
}

func (f *Fake) DeleteSchedule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply, injected := f.begin("DeleteSchedule")
	if apply {
		if _, ok := f.schedules[id]; !ok {
			return mapError("FAKE", "DeleteSchedule", ErrNotFound)
		}
		delete(f.schedules, id)
	}
	return injected
}

func (f *Fake) ScheduleExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, injected := f.begin("ScheduleExists"); injected != nil {
		return false, injected
	}
	_, ok := f.schedules[id]
	return ok, nil
}

// ListWorkflows matches running workflows whose search attributes appear in
// query as `Key = "value"`.
func (f *Fake) ListWorkflows(_ context.Context, query string) ([]WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, injected := f.begin("ListWorkflows"); injected != nil {
		return nil, injected
	}
	var out []WorkflowExecution
	for id, w := range f.workflows {
		if w.Cancelled || !matchesQuery(w.Request.SearchAttributes, query) {
			continue
		}
		out = append(out, WorkflowExecution{
			WorkflowID: id,
			RunID:      w.RunID,
			Type:       w.Request.WorkflowType,
			Status:     "Running",
			StartTime:  w.StartTime,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out, nil
}

func matchesQuery(attrs map[string]any, query string) bool {
	for k, v := range attrs {
		if strings.Contains(query, fmt.Sprintf("%s = %q", k, fmt.Sprint(v))) {
			return true
		}
	}
	return false
}

func (f *Fake) StartWorkflow(_ context.Context, req StartWorkflowRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply, injected := f.begin("StartWorkflow")
	var runID string
	if apply {
		if _, ok := f.workflows[req.WorkflowID]; ok {
			return "", mapError("FAKE", "StartWorkflow", ErrAlreadyExists)
		}
		runID = uuid.NewString()
		f.workflows[req.WorkflowID] = &FakeWorkflow{Request: req, RunID: runID, StartTime: time.Now().UTC()}
	}
	if injected != nil {
		return "", injected
	}
	return runID, nil
}

func (f *Fake) CancelWorkflow(_ context.Context, workflowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply, injected := f.begin("CancelWorkflow")
	if apply {
		w, ok := f.workflows[workflowID]
		if !ok {
			return mapError("FAKE", "CancelWorkflow", ErrNotFound)
		}
		w.Cancelled = true
	}
	return injected
}
