package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchexports/internal/schedule"
)

func TestFake_ScheduleLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	spec := schedule.Spec{Timezone: "UTC"}

	require.NoError(t, f.CreateSchedule(ctx, "s1", spec, Action{}, State{}))
	assert.ErrorIs(t, f.CreateSchedule(ctx, "s1", spec, Action{}, State{}), ErrAlreadyExists)

	require.NoError(t, f.PauseSchedule(ctx, "s1", "note"))
	d, err := f.DescribeSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, d.State.Paused)

	require.NoError(t, f.DeleteSchedule(ctx, "s1"))
	assert.ErrorIs(t, f.DeleteSchedule(ctx, "s1"), ErrNotFound)
	assert.Equal(t, 2, f.CallCount("DeleteSchedule"))
}

func TestFake_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	f.FailNext("CreateSchedule", ErrUnavailable)
	assert.ErrorIs(t, f.CreateSchedule(ctx, "s1", schedule.Spec{}, Action{}, State{}), ErrUnavailable)
	_, ok := f.Schedule("s1")
	assert.False(t, ok, "failure before apply leaves no schedule")

	f.FailNextAfterApply("CreateSchedule", ErrTimeout)
	assert.ErrorIs(t, f.CreateSchedule(ctx, "s1", schedule.Spec{}, Action{}, State{}), ErrTimeout)
	_, ok = f.Schedule("s1")
	assert.True(t, ok, "lost response still applies")
}

func TestFake_Workflows(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	req := StartWorkflowRequest{WorkflowID: "wf", SearchAttributes: map[string]any{AttrScheduleID: "s1"}}

	runID, err := f.StartWorkflow(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	_, err = f.StartWorkflow(ctx, req)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	running, err := f.ListWorkflows(ctx, `BatchExportId = "s1"`)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	require.NoError(t, f.CancelWorkflow(ctx, "wf"))
	running, err = f.ListWorkflows(ctx, `BatchExportId = "s1"`)
	require.NoError(t, err)
	assert.Empty(t, running)
}
