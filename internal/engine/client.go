package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"

	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Namespace  string
	APIKey     types.SecretString
	RPCTimeout time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
	RetryCap   time.Duration
}

// Client calls the workflow engine's HTTP API. Every call carries
// Config.RPCTimeout and is wrapped in a circuit breaker. Idempotent calls are
// retried on transport errors and 5xx; calls that create state are retried
// only on 429/503, where the engine guarantees nothing was applied.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *slog.Logger, opts ...ClientOption) *Client {
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 5 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "workflow-engine",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSchedule registers a new schedule. An existing id fails with
// ErrAlreadyExists.
func (c *Client) CreateSchedule(ctx context.Context, id string, spec schedule.Spec, action Action, state State) error {
	body := struct {
		Schedule  wireSchedule `json:"schedule"`
		RequestID string       `json:"request_id"`
	}{
		Schedule: wireSchedule{
			Spec:   toWireSpec(spec),
			Action: toWireAction(action),
			State:  wireState{Paused: state.Paused, Notes: state.Note},
		},
		RequestID: uuid.NewString(),
	}
	return c.call(ctx, http.MethodPost, c.schedulePath(id), body, nil, false)
}

// UpdateSchedule replaces the spec and action of a schedule. The pause state
// is left as is.
func (c *Client) UpdateSchedule(ctx context.Context, id string, spec schedule.Spec, action Action) error {
	body := struct {
		Schedule wireSchedule `json:"schedule"`
	}{
		Schedule: wireSchedule{Spec: toWireSpec(spec), Action: toWireAction(action)},
	}
	return c.call(ctx, http.MethodPost, c.schedulePath(id)+"/update", body, nil, true)
}

// DescribeSchedule returns the engine's current view of a schedule.
func (c *Client) DescribeSchedule(ctx context.Context, id string) (*Description, error) {
	var out wireDescribe
	if err := c.call(ctx, http.MethodGet, c.schedulePath(id), nil, &out, true); err != nil {
		return nil, err
	}
	d := &Description{
		ID:              id,
		Spec:            fromWireSpec(out.Schedule.Spec),
		State:           State{Paused: out.Schedule.State.Paused, Note: out.Schedule.State.Notes},
		NextActionTimes: out.Info.FutureActionTimes,
	}
	for _, a := range out.Info.RecentActions {
		d.RecentActions = append(d.RecentActions, a.ScheduleTime)
	}
	return d, nil
}

func (c *Client) PauseSchedule(ctx context.Context, id, note string) error {
	return c.call(ctx, http.MethodPost, c.schedulePath(id)+"/patch", struct {
		Patch wirePatch `json:"patch"`
	}{wirePatch{Pause: orDefault(note, "Paused")}}, nil, true)
}

func (c *Client) UnpauseSchedule(ctx context.Context, id, note string) error {
	return c.call(ctx, http.MethodPost, c.schedulePath(id)+"/patch", struct {
		Patch wirePatch `json:"patch"`
	}{wirePatch{Unpause: orDefault(note, "Unpaused")}}, nil, true)
}

// TriggerSchedule starts the scheduled action immediately. It is not
// idempotent: each accepted call starts a run.
func (c *Client) TriggerSchedule(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, c.schedulePath(id)+"/patch", struct {
		Patch wirePatch `json:"patch"`
	}{wirePatch{TriggerImmediately: &struct{}{}}}, nil, false)
}

func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, c.schedulePath(id), nil, nil, true)
}

// ScheduleExists reports whether a schedule with id is registered.
func (c *Client) ScheduleExists(ctx context.Context, id string) (bool, error) {
	_, err := c.DescribeSchedule(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListWorkflows runs a visibility query, e.g.
// `BatchExportId = "<id>" AND ExecutionStatus = "Running"`.
func (c *Client) ListWorkflows(ctx context.Context, query string) ([]WorkflowExecution, error) {
	var out struct {
		Executions []wireExecution `json:"executions"`
	}
	path := c.nsPath() + "/workflows?query=" + url.QueryEscape(query)
	if err := c.call(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	execs := make([]WorkflowExecution, 0, len(out.Executions))
	for _, e := range out.Executions {
		execs = append(execs, WorkflowExecution{
			WorkflowID: e.Execution.WorkflowID,
			RunID:      e.Execution.RunID,
			Type:       e.Type.Name,
			Status:     e.Status,
			StartTime:  e.StartTime,
			CloseTime:  e.CloseTime,
		})
	}
	return execs, nil
}

// StartWorkflow starts a workflow whose id must not have been used before.
func (c *Client) StartWorkflow(ctx context.Context, req StartWorkflowRequest) (string, error) {
	body := wireStartWorkflow{
		WorkflowType:          req.WorkflowType,
		TaskQueue:             req.TaskQueue,
		Input:                 req.Args,
		WorkflowIDReusePolicy: "REJECT_DUPLICATE",
		SearchAttributes:      req.SearchAttributes,
		RequestID:             uuid.NewString(),
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := c.call(ctx, http.MethodPost, c.nsPath()+"/workflows/"+url.PathEscape(req.WorkflowID), body, &out, false); err != nil {
		return "", err
	}
	return out.RunID, nil
}

// CancelWorkflow requests cancellation. It returns once the request is
// accepted; the workflow reaches a terminal state asynchronously.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.call(ctx, http.MethodPost, c.nsPath()+"/workflows/"+url.PathEscape(workflowID)+"/cancel", struct{}{}, nil, true)
}

func (c *Client) nsPath() string {
	return "/api/v1/namespaces/" + url.PathEscape(c.cfg.Namespace)
}

func (c *Client) schedulePath(id string) string {
	return c.nsPath() + "/schedules/" + url.PathEscape(id)
}

func (c *Client) newBackoff() retry.Backoff {
	b := retry.NewExponential(c.cfg.RetryBase)
	b = retry.WithCappedDuration(c.cfg.RetryCap, b)
	return retry.WithMaxRetries(c.cfg.MaxRetries, b)
}

// call issues one logical RPC. The timeout covers all retries so the caller
// never waits longer than RPCTimeout.
func (c *Client) call(ctx context.Context, method, path string, in, out any, idempotent bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode engine request", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()

	attempt := 0
	err := retry.Do(ctx, c.newBackoff(), func(ctx context.Context) error {
		attempt++
		err := c.once(ctx, method, path, payload, out, idempotent)
		if err != nil && attempt > 1 {
			c.logger.DebugContext(ctx, "engine call retry failed", "method", method, "path", path, "attempt", attempt, "error", err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return mapError(method, path, err)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any, idempotent bool) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.cfg.APIKey.IsEmpty() {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey.Unmask())
	}
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.http.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("engine returned %d", r.StatusCode)
		}
		return r, nil
	})
	if resp != nil {
		defer resp.Body.Close()
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	case err != nil && resp == nil:
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		// The request may have reached the engine.
		if idempotent {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode engine response: %w", err)
		}
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return ErrAlreadyExists
	case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
		return retry.RetryableError(fmt.Errorf("%w: status %d", ErrUnavailable, code))
	case code >= 500:
		if idempotent {
			return retry.RetryableError(fmt.Errorf("%w: status %d", ErrUnavailable, code))
		}
		return fmt.Errorf("%w: status %d", ErrUnavailable, code)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("engine rejected request (%d): %s", code, bytes.TrimSpace(msg))
	}
}

func mapError(method, path string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", err)
	case errors.Is(err, ErrAlreadyExists):
		return types.NewAppError(types.ErrCodeConflictScheduleExists, "already exists in workflow engine", err)
	case errors.Is(err, ErrTimeout):
		return types.NewAppError(types.ErrCodeUpstreamEngineTimeout, "workflow engine timed out", err)
	case errors.Is(err, ErrUnavailable):
		return types.NewAppError(types.ErrCodeUpstreamEngine, "workflow engine unavailable", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEngine,
			fmt.Sprintf("workflow engine call %s %s failed", method, path), err)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
