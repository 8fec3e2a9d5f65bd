package schedule

import (
	"strings"
	"time"
)

const backfillBoundLayout = "2006-01-02T15:04:05+00:00"

// ScheduleID is the engine schedule id for an export: the export id itself.
func ScheduleID(exportID string) string {
	return exportID
}

// BackfillWorkflowID derives the deterministic workflow id of a backfill.
// Bounds are rendered in UTC so the id does not depend on the caller's
// timezone; an open start renders as START and an open end as END.
func BackfillWorkflowID(exportID string, start, end *time.Time) string {
	return exportID + "-Backfill-" + bound(start, "START") + "-" + bound(end, "END")
}

// IsBackfillWorkflowID reports whether id has the shape of a backfill
// workflow id of exportID.
func IsBackfillWorkflowID(exportID, id string) bool {
	return strings.HasPrefix(id, exportID+"-Backfill-")
}

func bound(t *time.Time, open string) string {
	if t == nil {
		return open
	}
	return t.UTC().Format(backfillBoundLayout)
}
