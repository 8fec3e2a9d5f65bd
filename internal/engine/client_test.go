package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchexports/internal/crypto"
	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:    serverURL,
		Namespace:  "default",
		APIKey:     "engine-key",
		RPCTimeout: 2 * time.Second,
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
		RetryCap:   2 * time.Millisecond,
	}, slog.New(slog.DiscardHandler))
}

func TestCreateSchedule_SendsSpecAndAction(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/namespaces/default/schedules/exp-1", r.URL.Path)
		assert.Equal(t, "Bearer engine-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	spec, err := schedule.Build(schedule.BuildInput{Interval: types.IntervalHour, Jitter: 9 * time.Minute})
	require.NoError(t, err)

	err = newTestClient(t, server.URL).CreateSchedule(context.Background(), "exp-1", spec, Action{
		WorkflowType:     WorkflowExport,
		WorkflowID:       "exp-1",
		TaskQueue:        "batch-exports",
		Args:             crypto.Payload{Metadata: map[string]string{"encoding": "binary/encrypted"}, Data: []byte{1, 2}},
		SearchAttributes: map[string]any{AttrTeamID: 7},
	}, State{})
	require.NoError(t, err)

	sched := got["schedule"].(map[string]any)
	specJSON := sched["spec"].(map[string]any)
	assert.Equal(t, "UTC", specJSON["timezone_name"])
	assert.Equal(t, "540s", specJSON["jitter"])
	interval := specJSON["interval"].([]any)[0].(map[string]any)
	assert.Equal(t, "3600s", interval["interval"])
	action := sched["action"].(map[string]any)
	assert.Equal(t, WorkflowExport, action["workflow_type"])
	assert.NotEmpty(t, got["request_id"])
}

func TestDescribeSchedule_DecodesSpec(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, `{
			"schedule": {
				"spec": {
					"structured_calendar": [{"second":[{"start":0}],"minute":[{"start":0}],"hour":[{"start":5}],"day_of_week":[{"start":1}]}],
					"timezone_name": "Europe/Berlin"
				},
				"state": {"paused": true, "notes": "maintenance"}
			},
			"info": {"future_action_times": ["2026-01-05T04:00:00Z"]}
		}`)
	}))
	defer server.Close()

	d, err := newTestClient(t, server.URL).DescribeSchedule(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", d.Spec.Timezone)
	require.Len(t, d.Spec.Calendars, 1)
	assert.Equal(t, schedule.CalendarSpec{Hour: 5, DaysOfWeek: []int{1}}, d.Spec.Calendars[0])
	assert.True(t, d.State.Paused)
	assert.Equal(t, "maintenance", d.State.Note)
	assert.Len(t, d.NextActionTimes, 1)
}

func TestCall_NotFoundAndConflict(t *testing.T) {
	status := http.StatusNotFound
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)

	err := c.PauseSchedule(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundSchedule))

	exists, err := c.ScheduleExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	status = http.StatusConflict
	_, err = c.StartWorkflow(context.Background(), StartWorkflowRequest{WorkflowID: "exp-1-Backfill-START-END"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCall_RetriesIdempotentOn5xx(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestClient(t, server.URL).DeleteSchedule(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestCall_ExhaustedRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestClient(t, server.URL).UnpauseSchedule(context.Background(), "exp-1", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamEngine))
	assert.Equal(t, int32(3), attempts.Load(), "one attempt plus two retries")
}

func TestCall_NonIdempotentNotRetriedOn500(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestClient(t, server.URL).CreateSchedule(context.Background(), "exp-1", schedule.Spec{Timezone: "UTC"}, Action{}, State{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestCall_NonIdempotentRetriedOn503(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"run_id":"run-9"}`)
	}))
	defer server.Close()

	runID, err := newTestClient(t, server.URL).StartWorkflow(context.Background(), StartWorkflowRequest{WorkflowID: "wf"})
	require.NoError(t, err)
	assert.Equal(t, "run-9", runID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestCall_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: server.URL, Namespace: "default", RPCTimeout: 50 * time.Millisecond}, slog.New(slog.DiscardHandler))
	err := c.TriggerSchedule(context.Background(), "exp-1")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamEngineTimeout))
}

func TestCall_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "bad spec")
	}))
	defer server.Close()

	err := newTestClient(t, server.URL).UpdateSchedule(context.Background(), "exp-1", schedule.Spec{}, Action{})
	require.Error(t, err)
	assert.Contains(t, errors.Unwrap(err).Error(), "bad spec")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestListWorkflows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `BatchExportId = "exp-1"`, r.URL.Query().Get("query"))
		_, _ = io.WriteString(w, `{"executions":[{"execution":{"workflow_id":"wf-1","run_id":"r1"},"type":{"name":"backfill-batch-export"},"status":"Running","start_time":"2026-01-01T00:00:00Z"}]}`)
	}))
	defer server.Close()

	execs, err := newTestClient(t, server.URL).ListWorkflows(context.Background(), `BatchExportId = "exp-1"`)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "wf-1", execs[0].WorkflowID)
	assert.True(t, execs[0].IsRunning())
}
