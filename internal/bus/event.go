package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "compare." or "op.".
const (
	KindCompareProgress = "compare.progress"
	KindMergeCheckpoint = "merge.checkpoint"
	KindOpStarted       = "op.started"
	KindOpDone          = "op.done"
)

// Event is one progress or lifecycle notification. Payload is typically
// a report.Progress or *report.Report.
type Event struct {
	Kind      string
	Operation string
	Timestamp time.Time
	Payload   any
}
