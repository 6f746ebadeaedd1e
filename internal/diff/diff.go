// Package diff compares two chat archives by content identity and
// produces the difference set a merge applies. Identifiers are never
// compared across archives; only fingerprint keys are.
package diff

import (
	"context"
	"fmt"

	"github.com/chatvault/chatvault/internal/fingerprint"
	"github.com/chatvault/chatvault/internal/report"
	"github.com/chatvault/chatvault/internal/store"
	"go.uber.org/zap"
)

// Options control one comparison run.
type Options struct {
	// ChatKeys restricts the comparison to the given chat identity keys.
	// Empty means every chat.
	ChatKeys []string
	// SpoolThreshold bounds in-memory difference messages; above it the
	// set spills to temporary storage. <= 0 disables spooling.
	SpoolThreshold int
	// Progress, if set, is called synchronously after each fully
	// scanned chat.
	Progress func(report.Progress)
}

// targetChat is the bounded per-chat handle kept for the target index.
type targetChat struct {
	id int64
}

// Compare streams both archives and returns the records present in
// source but absent, by identity key, from target. Contacts and chats
// are indexed in memory; messages are compared per chat with the
// target's key window evicted after each chat, which is what keeps
// memory bounded on very large histories. Cancellation is observed at
// chat boundaries and yields a partial set with Cancelled true.
func Compare(ctx context.Context, source, target *store.DB, opts Options, logger *zap.Logger) (*Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := NewSet(opts.SpoolThreshold)

	srcContacts, err := contactIndex(source, "source", set)
	if err != nil {
		return nil, fmt.Errorf("scan source contacts: %w", err)
	}
	tgtContacts, err := contactIndex(target, "target", set)
	if err != nil {
		return nil, fmt.Errorf("scan target contacts: %w", err)
	}
	for _, cd := range srcContacts {
		if _, ok := tgtContacts[cd.Key]; !ok {
			set.Contacts = append(set.Contacts, *cd)
		}
	}

	srcChats, err := chatList(source, "source", set)
	if err != nil {
		return nil, fmt.Errorf("scan source chats: %w", err)
	}
	tgtChats, err := chatIndex(target, set)
	if err != nil {
		return nil, fmt.Errorf("scan target chats: %w", err)
	}

	if len(opts.ChatKeys) > 0 {
		want := make(map[string]bool, len(opts.ChatKeys))
		for _, k := range opts.ChatKeys {
			want[k] = true
		}
		kept := srcChats[:0]
		for _, c := range srcChats {
			if want[c.Key] {
				kept = append(kept, c)
			}
		}
		srcChats = kept
	}

	logger.Info("comparison started",
		zap.String("source", source.Path()),
		zap.String("target", target.Path()),
		zap.Int("chats", len(srcChats)),
	)

	for i, sc := range srcChats {
		if ctx.Err() != nil {
			set.Cancelled = true
			logger.Info("comparison cancelled", zap.Int("chats_done", i))
			break
		}

		tc, exists := tgtChats[sc.Key]
		if !exists {
			set.Chats = append(set.Chats, sc)
		}
		if err := compareChat(source, target, &sc, tc, exists, set); err != nil {
			return nil, fmt.Errorf("compare chat %q: %w", sc.Chat.DisplayName, err)
		}

		if opts.Progress != nil {
			opts.Progress(report.Progress{
				ChatsDone:        i + 1,
				ChatsTotal:       len(srcChats),
				MessagesCompared: set.MessagesCompared,
				CurrentChat:      sc.Chat.DisplayName,
			})
		}
	}

	logger.Info("comparison finished",
		zap.Int("new_contacts", len(set.Contacts)),
		zap.Int("new_chats", len(set.Chats)),
		zap.Int("new_messages", set.MessageCount),
		zap.Bool("cancelled", set.Cancelled),
	)
	return set, nil
}

// compareChat streams one source chat's messages against the target
// chat's identity-key window. A chat absent from the target is a
// wholesale difference: every message is new, no membership checks.
func compareChat(source, target *store.DB, sc *ChatDiff, tc targetChat, exists bool, set *Set) error {
	var tgtKeys map[string]bool
	if exists {
		var err error
		tgtKeys, err = messageKeySet(target, tc.id, sc.Key)
		if err != nil {
			return err
		}
	}

	group := MessageGroup{ChatKey: sc.Key, ChatName: sc.Chat.DisplayName, NewChat: !exists}
	scanner := source.ScanMessages(sc.Chat.ID)
	for {
		m, err := scanner.Next()
		if err != nil {
			return err
		}
		if m == nil {
			break
		}
		set.MessagesCompared++

		authorKey := fingerprint.ContactKey(m.AuthorHandle, m.AuthorName)
		key := fingerprint.MessageKey(sc.Key, authorKey, m.Timestamp, m.Body)
		if exists && tgtKeys[key] {
			continue
		}
		// Duplicate source keys are kept: de-duplication happens at
		// insert time, not here.
		md := MessageDiff{Key: key, AuthorKey: authorKey, Message: *m}
		if m.Kind == store.MessageTransfer {
			transfers, err := source.TransfersForMessage(m.ID)
			if err != nil {
				return err
			}
			md.Transfers = transfers
		}
		group.Messages = append(group.Messages, md)
	}

	if len(group.Messages) > 0 || !exists {
		set.ChatSummaries = append(set.ChatSummaries, ChatSummary{
			ChatKey:     sc.Key,
			ChatName:    sc.Chat.DisplayName,
			NewChat:     !exists,
			NewMessages: len(group.Messages),
		})
	}
	if len(group.Messages) > 0 {
		return set.AddGroup(group)
	}
	return nil
}

// messageKeySet loads one target chat's message identity keys. The map
// is released when the caller moves to the next chat.
func messageKeySet(db *store.DB, chatID int64, chatKey string) (map[string]bool, error) {
	keys := make(map[string]bool)
	scanner := db.ScanMessages(chatID)
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

// contactIndex scans an archive's contacts into a key index, recording
// identity collisions as anomalies (first record wins, never merged).
func contactIndex(db *store.DB, side string, set *Set) (map[string]*ContactDiff, error) {
	index := make(map[string]*ContactDiff)
	scanner := db.ScanContacts()
	for {
		c, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			return index, nil
		}
		key := fingerprint.ContactKey(c.Handle, c.DisplayName)
		if prev, ok := index[key]; ok {
			set.Anomalies = append(set.Anomalies, report.Anomaly{
				Kind: report.AnomalyKeyCollision,
				Context: fmt.Sprintf("%s contacts %d and %d share identity %q",
					side, prev.Contact.ID, c.ID, key),
			})
			continue
		}
		index[key] = &ContactDiff{Key: key, Contact: *c}
	}
}

// chatList scans an archive's chats in discovery order, computing keys
// and recording collisions.
func chatList(db *store.DB, side string, set *Set) ([]ChatDiff, error) {
	var chats []ChatDiff
	seen := make(map[string]int64)
	scanner := db.ScanChats()
	for {
		c, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			return chats, nil
		}
		keys := participantKeys(c)
		key := fingerprint.ChatKey(c.Kind, keys)
		if prevID, ok := seen[key]; ok {
			set.Anomalies = append(set.Anomalies, report.Anomaly{
				Kind: report.AnomalyKeyCollision,
				Context: fmt.Sprintf("%s chats %d and %d share identity %q",
					side, prevID, c.ID, key),
			})
			continue
		}
		seen[key] = c.ID
		chats = append(chats, ChatDiff{Key: key, Chat: *c, ParticipantKeys: keys})
	}
}

// chatIndex builds the target's chat key index, recording collisions.
func chatIndex(db *store.DB, set *Set) (map[string]targetChat, error) {
	chats, err := chatList(db, "target", set)
	if err != nil {
		return nil, err
	}
	index := make(map[string]targetChat, len(chats))
	for _, c := range chats {
		index[c.Key] = targetChat{id: c.Chat.ID}
	}
	return index, nil
}

func participantKeys(c *store.Chat) []string {
	keys := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		keys = append(keys, fingerprint.ContactKey(p.Handle, p.DisplayName))
	}
	return keys
}
