package client

import (
	"sort"
	"strings"
	"time"

	"github.com/skillswap/chat-app/internal/protocol"
)

// TempIDPrefix marks optimistic message ids generated locally before the
// server assigns a real one.
const TempIDPrefix = "temp-"

// pushMatchWindow is the timestamp tolerance used when matching a pushed
// self-message against an optimistic entry without a correlation id.
const pushMatchWindow = 5 * time.Second

// IsTemp reports whether a message id belongs to an unconfirmed optimistic
// entry.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// MergeSnapshot merges an authoritative snapshot into the locally held
// message list. The result is exactly the server state plus any local
// contributions the server has not confirmed yet:
//
//  1. Optimistic entries are dropped; the snapshot or a later push supersedes
//     them.
//  2. Confirmed local entries present in the snapshot are replaced with the
//     snapshot's copy, which carries fresher read flags.
//  3. Confirmed local entries absent from the snapshot are kept; they were
//     pushed after the snapshot was captured server-side.
//  4. Snapshot entries not yet held locally are appended.
//
// The function is pure and order-independent over its inputs: applying the
// same snapshot to the same local state always yields the same list, no
// matter whether a push or the fetch resolved first.
func MergeSnapshot(local, snapshot []protocol.MessagePayload) []protocol.MessagePayload {
	byID := make(map[string]protocol.MessagePayload, len(snapshot))
	for _, m := range snapshot {
		byID[m.ID] = m
	}

	merged := make([]protocol.MessagePayload, 0, len(local)+len(snapshot))
	seen := make(map[string]struct{}, len(local)+len(snapshot))

	for _, m := range local {
		if IsTemp(m.ID) {
			continue
		}
		if fresh, ok := byID[m.ID]; ok {
			merged = append(merged, fresh)
		} else {
			merged = append(merged, m)
		}
		seen[m.ID] = struct{}{}
	}

	for _, m := range snapshot {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		merged = append(merged, m)
		seen[m.ID] = struct{}{}
	}

	sortMessages(merged)
	return merged
}

// ApplyPush folds one pushed message into the local list. The boolean result
// reports whether the push contributed a message that was not already
// represented locally (in confirmed or optimistic form), which is what unread
// accounting keys off.
//
// For the client's own messages, the optimistic entry is located by the
// round-tripped correlation id when present, falling back to matching body
// text within a small timestamp window. A self-message with no optimistic
// counterpart (sent from another connection) is appended like any other new
// message. Duplicate ids never produce a second entry; a duplicate refreshes
// the stored copy since the push may carry newer read state.
func ApplyPush(local []protocol.MessagePayload, incoming protocol.MessagePayload, selfID string) ([]protocol.MessagePayload, bool) {
	// Already confirmed: refresh in place.
	for i, m := range local {
		if m.ID == incoming.ID {
			out := append([]protocol.MessagePayload(nil), local...)
			out[i] = incoming
			return out, false
		}
	}

	if incoming.SenderID == selfID {
		if i := findOptimistic(local, incoming); i >= 0 {
			out := append([]protocol.MessagePayload(nil), local...)
			out[i] = incoming
			sortMessages(out)
			return out, false
		}
	}

	out := append([]protocol.MessagePayload(nil), local...)
	out = append(out, incoming)
	sortMessages(out)
	return out, true
}

// findOptimistic returns the index of the optimistic entry superseded by the
// incoming confirmed copy, or -1.
func findOptimistic(local []protocol.MessagePayload, incoming protocol.MessagePayload) int {
	if incoming.ClientRef != "" {
		for i, m := range local {
			if IsTemp(m.ID) && m.ClientRef == incoming.ClientRef {
				return i
			}
		}
	}
	for i, m := range local {
		if !IsTemp(m.ID) || m.Text != incoming.Text {
			continue
		}
		delta := incoming.CreatedAt.Sub(m.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= pushMatchWindow {
			return i
		}
	}
	return -1
}

// MarkAllRead flips the read flag on every message not sent by readerID.
// Receipts apply to messages whose sender differs from the reading user.
func MarkAllRead(local []protocol.MessagePayload, readerID string) []protocol.MessagePayload {
	out := append([]protocol.MessagePayload(nil), local...)
	for i := range out {
		if out[i].SenderID != readerID {
			out[i].Read = true
		}
	}
	return out
}

// CountUnread returns the number of confirmed messages not sent by selfID and
// not yet read.
func CountUnread(local []protocol.MessagePayload, selfID string) int {
	n := 0
	for _, m := range local {
		if IsTemp(m.ID) {
			continue
		}
		if m.SenderID != selfID && !m.Read {
			n++
		}
	}
	return n
}

func sortMessages(msgs []protocol.MessagePayload) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
