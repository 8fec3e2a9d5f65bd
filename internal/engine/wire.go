package engine

import (
	"fmt"
	"time"

	"batchexports/internal/crypto"
	"batchexports/internal/schedule"
)

type wireRange struct {
	Start int `json:"start"`
	End   int `json:"end,omitempty"`
}

type wireCalendar struct {
	Second    []wireRange `json:"second"`
	Minute    []wireRange `json:"minute"`
	Hour      []wireRange `json:"hour"`
	DayOfWeek []wireRange `json:"day_of_week"`
}

type wireInterval struct {
	Interval string `json:"interval"`
	Phase    string `json:"phase,omitempty"`
}

type wireSpec struct {
	Interval     []wireInterval `json:"interval,omitempty"`
	Calendar     []wireCalendar `json:"structured_calendar,omitempty"`
	StartTime    *time.Time     `json:"start_time,omitempty"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Jitter       string         `json:"jitter,omitempty"`
	TimezoneName string         `json:"timezone_name"`
}

type wireAction struct {
	WorkflowType     string         `json:"workflow_type"`
	WorkflowID       string         `json:"workflow_id"`
	TaskQueue        string         `json:"task_queue"`
	Input            crypto.Payload `json:"input"`
	SearchAttributes map[string]any `json:"search_attributes,omitempty"`
}

type wireState struct {
	Paused bool   `json:"paused"`
	Notes  string `json:"notes,omitempty"`
}

type wireSchedule struct {
	Spec   wireSpec    `json:"spec"`
	Action *wireAction `json:"action,omitempty"`
	State  wireState   `json:"state"`
}

type wireDescribe struct {
	Schedule wireSchedule `json:"schedule"`
	Info     struct {
		FutureActionTimes []time.Time `json:"future_action_times"`
		RecentActions     []struct {
			ScheduleTime time.Time `json:"schedule_time"`
		} `json:"recent_actions"`
	} `json:"info"`
}

type wirePatch struct {
	Pause              string    `json:"pause,omitempty"`
	Unpause            string    `json:"unpause,omitempty"`
	TriggerImmediately *struct{} `json:"trigger_immediately,omitempty"`
}

type wireStartWorkflow struct {
	WorkflowType          string         `json:"workflow_type"`
	TaskQueue             string         `json:"task_queue"`
	Input                 crypto.Payload `json:"input"`
	WorkflowIDReusePolicy string         `json:"workflow_id_reuse_policy"`
	SearchAttributes      map[string]any `json:"search_attributes,omitempty"`
	RequestID             string         `json:"request_id"`
}

type wireExecution struct {
	Execution struct {
		WorkflowID string `json:"workflow_id"`
		RunID      string `json:"run_id"`
	} `json:"execution"`
	Type struct {
		Name string `json:"name"`
	} `json:"type"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	CloseTime *time.Time `json:"close_time,omitempty"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}

func toWireSpec(s schedule.Spec) wireSpec {
	w := wireSpec{StartTime: s.StartAt, EndTime: s.EndAt, TimezoneName: s.Timezone}
	if s.Jitter > 0 {
		w.Jitter = seconds(s.Jitter)
	}
	for _, iv := range s.Intervals {
		wi := wireInterval{Interval: seconds(iv.Every)}
		if iv.Offset > 0 {
			wi.Phase = seconds(iv.Offset)
		}
		w.Interval = append(w.Interval, wi)
	}
	for _, c := range s.Calendars {
		wc := wireCalendar{
			Second: []wireRange{{Start: c.Second}},
			Minute: []wireRange{{Start: c.Minute}},
			Hour:   []wireRange{{Start: c.Hour}},
		}
		for _, d := range c.DaysOfWeek {
			wc.DayOfWeek = append(wc.DayOfWeek, wireRange{Start: d})
		}
		w.Calendar = append(w.Calendar, wc)
	}
	return w
}

func fromWireSpec(w wireSpec) schedule.Spec {
	s := schedule.Spec{StartAt: w.StartTime, EndAt: w.EndTime, Timezone: w.TimezoneName}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	s.Jitter, _ = time.ParseDuration(w.Jitter)
	for _, wi := range w.Interval {
		every, _ := time.ParseDuration(wi.Interval)
		phase, _ := time.ParseDuration(wi.Phase)
		s.Intervals = append(s.Intervals, schedule.IntervalSpec{Every: every, Offset: phase})
	}
	for _, wc := range w.Calendar {
		c := schedule.CalendarSpec{
			Second: firstStart(wc.Second),
			Minute: firstStart(wc.Minute),
			Hour:   firstStart(wc.Hour),
		}
		for _, r := range wc.DayOfWeek {
			end := max(r.End, r.Start)
			for d := r.Start; d <= end; d++ {
				c.DaysOfWeek = append(c.DaysOfWeek, d)
			}
		}
		s.Calendars = append(s.Calendars, c)
	}
	return s
}

func firstStart(r []wireRange) int {
	if len(r) == 0 {
		return 0
	}
	return r[0].Start
}

func toWireAction(a Action) *wireAction {
	return &wireAction{
		WorkflowType:     a.WorkflowType,
		WorkflowID:       a.WorkflowID,
		TaskQueue:        a.TaskQueue,
		Input:            a.Args,
		SearchAttributes: a.SearchAttributes,
	}
}
