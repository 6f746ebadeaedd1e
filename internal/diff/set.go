package diff

import (
	"github.com/chatvault/chatvault/internal/report"
	"github.com/chatvault/chatvault/internal/store"
)

// ContactDiff is a source contact with no identity match in the target.
type ContactDiff struct {
	Key     string        `json:"key"`
	Contact store.Contact `json:"contact"`
}

// ChatDiff is a source chat with no identity match in the target.
type ChatDiff struct {
	Key             string     `json:"key"`
	Chat            store.Chat `json:"chat"`
	ParticipantKeys []string   `json:"participant_keys"`
}

// MessageDiff is a source message with no identity match in the target,
// carrying its transfers so they can be applied with it.
type MessageDiff struct {
	Key       string           `json:"key"`
	AuthorKey string           `json:"author_key"`
	Message   store.Message    `json:"message"`
	Transfers []store.Transfer `json:"transfers,omitempty"`
}

// MessageGroup holds one chat's message differences in source scan
// order. Groups are the unit of merge checkpointing and of spooling.
type MessageGroup struct {
	ChatKey  string        `json:"chat_key"`
	ChatName string        `json:"chat_name"`
	NewChat  bool          `json:"new_chat"`
	Messages []MessageDiff `json:"messages"`
}

// Set is the computed difference between a source and a target archive.
// Contacts and chats are always held in memory (they are orders of
// magnitude fewer than messages); message groups spill to a temporary
// spool file once spoolThreshold message records are buffered. A Set is
// ephemeral: callers must Close it when done.
type Set struct {
	Contacts  []ContactDiff
	Chats     []ChatDiff
	Anomalies []report.Anomaly

	// Cancelled marks a comparison stopped at a chat boundary before
	// visiting every chat; counts cover only the chats scanned.
	Cancelled bool

	MessagesCompared int
	MessageCount     int
	TransferCount    int

	// ChatSummaries lists, in discovery order, each chat that
	// contributed at least one difference.
	ChatSummaries []ChatSummary

	groups         []MessageGroup
	groupCount     int
	buffered       int
	spoolThreshold int
	spool          *spool
}

// NewSet creates an empty difference set. spoolThreshold <= 0 disables
// spooling.
func NewSet(spoolThreshold int) *Set {
	return &Set{spoolThreshold: spoolThreshold}
}

// AddGroup appends a chat's message differences, spilling to the spool
// once the in-memory threshold is crossed. Discovery order is preserved:
// the spool only ever holds groups discovered after every in-memory one.
func (s *Set) AddGroup(g MessageGroup) error {
	s.groupCount++
	s.MessageCount += len(g.Messages)
	for i := range g.Messages {
		s.TransferCount += len(g.Messages[i].Transfers)
	}

	if s.spool == nil && (s.spoolThreshold <= 0 || s.buffered+len(g.Messages) <= s.spoolThreshold) {
		s.groups = append(s.groups, g)
		s.buffered += len(g.Messages)
		return nil
	}
	if s.spool == nil {
		sp, err := newSpool()
		if err != nil {
			return err
		}
		s.spool = sp
	}
	return s.spool.write(&g)
}

// GroupCount returns the number of message groups in the set.
func (s *Set) GroupCount() int { return s.groupCount }

// ForEachGroup visits every message group in discovery order: buffered
// groups first, then spooled ones. Stops early if fn returns an error.
func (s *Set) ForEachGroup(fn func(*MessageGroup) error) error {
	for i := range s.groups {
		if err := fn(&s.groups[i]); err != nil {
			return err
		}
	}
	if s.spool != nil {
		return s.spool.replay(fn)
	}
	return nil
}

// Close releases the spool file, if any.
func (s *Set) Close() error {
	if s.spool == nil {
		return nil
	}
	err := s.spool.close()
	s.spool = nil
	return err
}

// ChatSummary is the per-chat line of a diff summary.
type ChatSummary struct {
	ChatKey     string `json:"chat_key"`
	ChatName    string `json:"chat_name"`
	NewChat     bool   `json:"new_chat"`
	NewMessages int    `json:"new_messages"`
}

// Summary is the read-only result a diff operation returns to callers.
type Summary struct {
	Operation string `json:"operation"`

	NewContacts  int `json:"new_contacts"`
	NewChats     int `json:"new_chats"`
	NewMessages  int `json:"new_messages"`
	NewTransfers int `json:"new_transfers"`

	MessagesCompared int  `json:"messages_compared"`
	Cancelled        bool `json:"cancelled"`

	Chats     []ChatSummary    `json:"chats,omitempty"`
	Anomalies []report.Anomaly `json:"anomalies,omitempty"`
}

// Summarize collapses the set into a Summary. The spool, if any, is not
// read: per-chat message counts are accumulated during comparison.
func (s *Set) Summarize() *Summary {
	return &Summary{
		NewContacts:      len(s.Contacts),
		NewChats:         len(s.Chats),
		NewMessages:      s.MessageCount,
		NewTransfers:     s.TransferCount,
		MessagesCompared: s.MessagesCompared,
		Cancelled:        s.Cancelled,
		Chats:            s.ChatSummaries,
		Anomalies:        s.Anomalies,
	}
}
