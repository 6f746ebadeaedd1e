// Package merge applies a difference set to a target archive as a
// resumable, idempotent operation. Writes happen in dependency order
// (contacts, chats, then messages grouped per chat, each with its
// transfers) and commit at chat boundaries, so an interrupted merge can
// always be re-run safely: every insert is preceded by a fresh identity
// re-check against the target's current state.
package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatvault/chatvault/internal/diff"
	"github.com/chatvault/chatvault/internal/fingerprint"
	"github.com/chatvault/chatvault/internal/report"
	"github.com/chatvault/chatvault/internal/store"
	"go.uber.org/zap"
)

// Options control one merge run.
type Options struct {
	// Operation stamps the resulting report, typically an operation id.
	Operation string
	// DryRun computes the report without writing anything.
	DryRun bool
	// AnomalyThreshold is the per-batch count of constraint violations
	// tolerated before the batch escalates to a partial failure.
	AnomalyThreshold int
	// Checkpoint, if set, is called synchronously after each committed
	// chat batch.
	Checkpoint func(report.Progress)
}

// PartialError reports a merge aborted after zero or more checkpoints
// committed. Report reflects exactly what was committed; re-running the
// merge is safe and will skip everything already applied.
type PartialError struct {
	Report *report.Report
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("merge aborted after %d applied chats: %v", e.Report.ChatsApplied, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// counts accumulates tentative results for one uncommitted batch; they
// fold into the report only after the batch commits.
type counts struct {
	contacts, chats, messages, transfers report.Counts
	anomalies                            []report.Anomaly
}

func (c *counts) foldInto(rep *report.Report) {
	rep.Contacts.Inserted += c.contacts.Inserted
	rep.Contacts.Skipped += c.contacts.Skipped
	rep.Chats.Inserted += c.chats.Inserted
	rep.Chats.Skipped += c.chats.Skipped
	rep.Messages.Inserted += c.messages.Inserted
	rep.Messages.Skipped += c.messages.Skipped
	rep.Transfers.Inserted += c.transfers.Inserted
	rep.Transfers.Skipped += c.transfers.Skipped
	rep.Anomalies = append(rep.Anomalies, c.anomalies...)
}

// Apply merges set into target. It never deletes or mutates existing
// target records. On an unrecoverable write error everything since the
// last checkpoint rolls back and a PartialError carries the report of
// the committed prefix. Cancellation at a chat boundary is not an
// error: the report comes back with Cancelled set.
func Apply(ctx context.Context, set *diff.Set, target *store.DB, opts Options, logger *zap.Logger) (*report.Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rep := &report.Report{Operation: opts.Operation, DryRun: opts.DryRun}
	rep.Anomalies = append(rep.Anomalies, set.Anomalies...)

	if opts.DryRun {
		rep.Contacts.Inserted = len(set.Contacts)
		rep.Chats.Inserted = len(set.Chats)
		rep.Messages.Inserted = set.MessageCount
		rep.Transfers.Inserted = set.TransferCount
		rep.ChatsApplied = set.GroupCount()
		return rep, nil
	}

	contactIDs, err := targetContactIDs(target)
	if err != nil {
		return nil, &PartialError{Report: rep, Err: fmt.Errorf("index target contacts: %w", err)}
	}
	chatIDs, err := targetChatIDs(target)
	if err != nil {
		return nil, &PartialError{Report: rep, Err: fmt.Errorf("index target chats: %w", err)}
	}

	if err := applyContactsAndChats(set, target, contactIDs, chatIDs, rep, opts); err != nil {
		return nil, err
	}

	totalGroups := set.GroupCount()
	processed := 0
	iterErr := set.ForEachGroup(func(g *diff.MessageGroup) error {
		if ctx.Err() != nil {
			rep.Cancelled = true
			return errStop
		}
		n, err := applyGroup(target, g, contactIDs, chatIDs, rep, opts)
		processed += n
		if err != nil {
			return err
		}
		rep.ChatsApplied++
		if opts.Checkpoint != nil {
			opts.Checkpoint(report.Progress{
				ChatsDone:        rep.ChatsApplied,
				ChatsTotal:       totalGroups,
				MessagesCompared: processed,
				CurrentChat:      g.ChatName,
			})
		}
		return nil
	})
	if iterErr != nil && !errors.Is(iterErr, errStop) {
		var perr *PartialError
		if errors.As(iterErr, &perr) {
			return nil, iterErr
		}
		return nil, &PartialError{Report: rep, Err: iterErr}
	}

	logger.Info("merge finished",
		zap.String("target", target.Path()),
		zap.Int("chats_applied", rep.ChatsApplied),
		zap.Int("inserted", rep.TotalInserted()),
		zap.Bool("cancelled", rep.Cancelled),
	)
	return rep, nil
}

// errStop halts group iteration on cancellation without signalling
// failure.
var errStop = errors.New("stop iteration")

// applyContactsAndChats is the initial checkpoint: every contact and
// chat difference in one transaction, so no message batch ever runs
// before its referents exist.
func applyContactsAndChats(set *diff.Set, target *store.DB, contactIDs, chatIDs map[string]int64, rep *report.Report, opts Options) error {
	tx, err := target.Begin()
	if err != nil {
		return &PartialError{Report: rep, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var batch counts
	violations := 0
	for i := range set.Contacts {
		cd := &set.Contacts[i]
		if _, ok := contactIDs[cd.Key]; ok {
			batch.contacts.Skipped++
			continue
		}
		id, err := target.InsertContact(tx, &cd.Contact)
		if err != nil {
			if !errors.Is(err, store.ErrConstraint) {
				return &PartialError{Report: rep, Err: err}
			}
			violations++
			batch.anomalies = append(batch.anomalies, report.Anomaly{
				Kind:    report.AnomalyConstraint,
				Context: fmt.Sprintf("contact %q: %v", cd.Key, err),
			})
			if violations > opts.AnomalyThreshold {
				return &PartialError{Report: rep, Err: fmt.Errorf("%w: %d contact inserts failed", store.ErrConstraint, violations)}
			}
			continue
		}
		contactIDs[cd.Key] = id
		batch.contacts.Inserted++
	}

	for i := range set.Chats {
		cd := &set.Chats[i]
		if _, ok := chatIDs[cd.Key]; ok {
			batch.chats.Skipped++
			continue
		}
		id, err := target.InsertChat(tx, &cd.Chat)
		if err != nil {
			if !errors.Is(err, store.ErrConstraint) {
				return &PartialError{Report: rep, Err: err}
			}
			violations++
			batch.anomalies = append(batch.anomalies, report.Anomaly{
				Kind:    report.AnomalyConstraint,
				Context: fmt.Sprintf("chat %q: %v", cd.Key, err),
			})
			if violations > opts.AnomalyThreshold {
				return &PartialError{Report: rep, Err: fmt.Errorf("%w: %d inserts failed", store.ErrConstraint, violations)}
			}
			continue
		}
		for _, pk := range cd.ParticipantKeys {
			contactID, ok := contactIDs[pk]
			if !ok {
				batch.anomalies = append(batch.anomalies, report.Anomaly{
					Kind:    report.AnomalyMissingContact,
					Context: fmt.Sprintf("chat %q participant %q not present in target", cd.Key, pk),
				})
				continue
			}
			if err := target.InsertParticipant(tx, id, contactID); err != nil && !errors.Is(err, store.ErrConstraint) {
				return &PartialError{Report: rep, Err: err}
			}
		}
		chatIDs[cd.Key] = id
		batch.chats.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return &PartialError{Report: rep, Err: fmt.Errorf("commit contacts/chats: %w", err)}
	}
	batch.foldInto(rep)
	return nil
}

// applyGroup applies one chat's message differences in its own
// transaction. The target's current key set for the chat is re-read
// inside the transaction, not taken from comparison time: records
// inserted by a prior partial run or a concurrent writer are skipped,
// which is what makes the merge idempotent. Returns the number of
// difference messages processed.
func applyGroup(target *store.DB, g *diff.MessageGroup, contactIDs, chatIDs map[string]int64, rep *report.Report, opts Options) (int, error) {
	chatID, ok := chatIDs[g.ChatKey]
	if !ok {
		rep.AddAnomaly(report.AnomalyUnknownChat,
			fmt.Sprintf("chat %q absent from target, %d messages not applied", g.ChatKey, len(g.Messages)))
		return len(g.Messages), nil
	}

	tx, err := target.Begin()
	if err != nil {
		return 0, &PartialError{Report: rep, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	present, err := currentKeySet(target, tx, chatID, g.ChatKey)
	if err != nil {
		return 0, &PartialError{Report: rep, Err: err}
	}

	var batch counts
	violations := 0
	processed := 0
	for i := range g.Messages {
		md := &g.Messages[i]
		processed++
		if present[md.Key] {
			batch.messages.Skipped++
			batch.transfers.Skipped += len(md.Transfers)
			continue
		}

		m := md.Message
		m.ChatID = chatID
		m.AuthorID = contactIDs[md.AuthorKey]
		if m.AuthorID == 0 && md.AuthorKey != "" {
			batch.anomalies = append(batch.anomalies, report.Anomaly{
				Kind:    report.AnomalyMissingContact,
				Context: fmt.Sprintf("message %q author %q not present in target", md.Key, md.AuthorKey),
			})
		}
		msgID, err := target.InsertMessage(tx, &m)
		if err != nil {
			if !errors.Is(err, store.ErrConstraint) {
				return processed, &PartialError{Report: rep, Err: err}
			}
			violations++
			batch.anomalies = append(batch.anomalies, report.Anomaly{
				Kind:    report.AnomalyConstraint,
				Context: fmt.Sprintf("message %q: %v", md.Key, err),
			})
			if violations > opts.AnomalyThreshold {
				return processed, &PartialError{Report: rep,
					Err: fmt.Errorf("%w: %d inserts failed in chat %q", store.ErrConstraint, violations, g.ChatKey)}
			}
			continue
		}
		// Two source messages with identical content in the same second
		// collapse here: the first insert claims the key.
		present[md.Key] = true
		batch.messages.Inserted++

		for _, tr := range md.Transfers {
			t := tr
			t.MessageID = msgID
			if _, err := target.InsertTransfer(tx, &t); err != nil {
				if !errors.Is(err, store.ErrConstraint) {
					return processed, &PartialError{Report: rep, Err: err}
				}
				violations++
				batch.anomalies = append(batch.anomalies, report.Anomaly{
					Kind:    report.AnomalyConstraint,
					Context: fmt.Sprintf("transfer %q of message %q: %v", tr.Filename, md.Key, err),
				})
				continue
			}
			batch.transfers.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return processed, &PartialError{Report: rep, Err: fmt.Errorf("commit chat %q: %w", g.ChatKey, err)}
	}
	batch.foldInto(rep)
	return processed, nil
}

// currentKeySet reads the chat's message identity keys inside the batch
// transaction.
func currentKeySet(target *store.DB, tx *sql.Tx, chatID int64, chatKey string) (map[string]bool, error) {
	keys := make(map[string]bool)
	scanner := target.ScanMessagesIn(tx, chatID)
	for {
		m, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if m == nil {
			return keys, nil
		}
		authorKey := fingerprint.ContactKey(m.AuthorHandle, m.AuthorName)
		keys[fingerprint.MessageKey(chatKey, authorKey, m.Timestamp, m.Body)] = true
	}
}

// targetContactIDs indexes the target's contacts by identity key.
func targetContactIDs(target *store.DB) (map[string]int64, error) {
	ids := make(map[string]int64)
	scanner := target.ScanContacts()
	for {
		c, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			return ids, nil
		}
		key := fingerprint.ContactKey(c.Handle, c.DisplayName)
		if _, ok := ids[key]; !ok {
			ids[key] = c.ID
		}
	}
}

// targetChatIDs indexes the target's chats by identity key.
func targetChatIDs(target *store.DB) (map[string]int64, error) {
	ids := make(map[string]int64)
	scanner := target.ScanChats()
	for {
		c, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			return ids, nil
		}
		keys := make([]string, 0, len(c.Participants))
		for _, p := range c.Participants {
			keys = append(keys, fingerprint.ContactKey(p.Handle, p.DisplayName))
		}
		key := fingerprint.ChatKey(c.Kind, keys)
		if _, ok := ids[key]; !ok {
			ids[key] = c.ID
		}
	}
}
