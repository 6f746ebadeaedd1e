// Package report defines the structured outcome types shared by diff and
// merge operations. Success, partial failure, and cancellation all produce
// the same Report shape so callers never need a second channel.
package report

// Anomaly kinds recorded during comparison and merge.
const (
	AnomalyKeyCollision    = "key_collision"
	AnomalyUnreadableRow   = "unreadable_row"
	AnomalyConstraint      = "constraint_violation"
	AnomalyMissingContact  = "missing_contact"
	AnomalyUnknownChat     = "unknown_chat"
	AnomalySchemaRecovered = "schema_recovered"
)

// Anomaly is a non-fatal per-record problem recorded instead of aborting
// the operation.
type Anomaly struct {
	Kind    string `json:"kind"`
	Context string `json:"context"`
}

// Counts tracks inserted vs. skipped records for one entity kind.
type Counts struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// Report is the structured result of a merge (or dry run). Counts cover
// every record the operation considered; Anomalies list recoverable
// per-record problems.
type Report struct {
	Operation string `json:"operation"`

	Contacts  Counts `json:"contacts"`
	Chats     Counts `json:"chats"`
	Messages  Counts `json:"messages"`
	Transfers Counts `json:"transfers"`

	ChatsApplied int  `json:"chats_applied"`
	Cancelled    bool `json:"cancelled"`
	DryRun       bool `json:"dry_run"`

	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// AddAnomaly appends an anomaly entry.
func (r *Report) AddAnomaly(kind, context string) {
	r.Anomalies = append(r.Anomalies, Anomaly{Kind: kind, Context: context})
}

// TotalInserted returns the number of records inserted across all kinds.
func (r *Report) TotalInserted() int {
	return r.Contacts.Inserted + r.Chats.Inserted + r.Messages.Inserted + r.Transfers.Inserted
}

// Progress is emitted after each fully scanned or applied chat. ChatsDone
// is monotonically non-decreasing within one operation.
type Progress struct {
	ChatsDone        int    `json:"chats_done"`
	ChatsTotal       int    `json:"chats_total"`
	MessagesCompared int    `json:"messages_compared"`
	CurrentChat      string `json:"current_chat"`
}
