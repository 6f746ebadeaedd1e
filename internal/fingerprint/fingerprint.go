// Package fingerprint computes content-based identity keys for contacts,
// chats, messages, and transfers. Two archives captured at different times
// assign different internal row ids to the same logical record, so record
// identity is derived from normalized content only. All functions are pure:
// no I/O, no state, deterministic for absent optional fields.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
)

// Normalize lowercases s and collapses all runs of whitespace to single
// spaces, trimming the ends. The empty string normalizes to itself.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContactKey derives a contact identity key from the canonical handle,
// falling back to the display name when the handle is absent. A contact
// with neither yields the empty key; callers treat it like any other key
// (colliding empty keys are reported as anomalies, not merged silently).
func ContactKey(handle, displayName string) string {
	if h := Normalize(handle); h != "" {
		return h
	}
	if n := Normalize(displayName); n != "" {
		return "name:" + n
	}
	return ""
}

// ChatKey derives a chat identity key from the chat kind and the identity
// keys of its participants. The participant order in the store is
// irrelevant: keys are sorted and de-duplicated. The display name is
// deliberately not part of the identity, since the same chat may be
// renamed independently in two archives.
func ChatKey(kind string, participantKeys []string) string {
	keys := slices.Clone(participantKeys)
	slices.Sort(keys)
	keys = slices.Compact(keys)
	return Normalize(kind) + "|" + strings.Join(keys, ",")
}

// BodyHash returns a short hex content hash of the normalized message
// body. Editing a message changes its body and therefore its hash; an
// edited message is a new identity.
func BodyHash(body string) string {
	sum := sha256.Sum256([]byte(Normalize(body)))
	return hex.EncodeToString(sum[:8])
}

// MessageKey derives a message identity key. Timestamp (unix seconds)
// plus the body hash substitutes for a stable record id.
func MessageKey(chatKey, authorKey string, timestamp int64, body string) string {
	return chatKey + "|" + authorKey + "|" + strconv.FormatInt(timestamp, 10) + "|" + BodyHash(body)
}

// TransferKey derives a file-transfer identity key from the owning
// message key plus the file name and size.
func TransferKey(messageKey, filename string, size int64) string {
	return messageKey + "|" + Normalize(filename) + "|" + strconv.FormatInt(size, 10)
}
