package client

import (
	"reflect"
	"testing"
	"time"

	"github.com/skillswap/chat-app/internal/protocol"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender, text string, offset time.Duration, read bool) protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:          id,
		ChatID:      "chat-1",
		SenderID:    sender,
		Text:        text,
		MessageType: "text",
		Read:        read,
		CreatedAt:   base.Add(offset),
	}
}

func ids(msgs []protocol.MessagePayload) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMergeDropsTempEntries(t *testing.T) {
	local := []protocol.MessagePayload{
		msg("m1", "bob", "hi", 0, true),
		msg("temp-x", "alice", "pending", time.Second, false),
	}
	snapshot := []protocol.MessagePayload{
		msg("m1", "bob", "hi", 0, true),
		msg("m2", "alice", "pending", time.Second, false),
	}

	merged := MergeSnapshot(local, snapshot)
	if !reflect.DeepEqual(ids(merged), []string{"m1", "m2"}) {
		t.Fatalf("unexpected ids: %v", ids(merged))
	}
}

func TestMergePrefersSnapshotReadFlags(t *testing.T) {
	local := []protocol.MessagePayload{msg("m1", "alice", "hi", 0, false)}
	snapshot := []protocol.MessagePayload{msg("m1", "alice", "hi", 0, true)}

	merged := MergeSnapshot(local, snapshot)
	if len(merged) != 1 || !merged[0].Read {
		t.Fatalf("snapshot copy with fresher read flag should win: %+v", merged)
	}
}

func TestMergeKeepsMessagesPushedAfterSnapshot(t *testing.T) {
	// m3 arrived by push after the snapshot was captured server-side.
	local := []protocol.MessagePayload{
		msg("m1", "bob", "one", 0, false),
		msg("m3", "bob", "three", 2*time.Second, false),
	}
	snapshot := []protocol.MessagePayload{
		msg("m1", "bob", "one", 0, false),
		msg("m2", "bob", "two", time.Second, false),
	}

	merged := MergeSnapshot(local, snapshot)
	if !reflect.DeepEqual(ids(merged), []string{"m1", "m2", "m3"}) {
		t.Fatalf("unexpected ids: %v", ids(merged))
	}
}

func TestMergeHasNoDuplicates(t *testing.T) {
	local := []protocol.MessagePayload{
		msg("m1", "bob", "one", 0, false),
		msg("m2", "bob", "two", time.Second, false),
	}
	snapshot := []protocol.MessagePayload{
		msg("m2", "bob", "two", time.Second, true),
		msg("m1", "bob", "one", 0, true),
	}

	merged := MergeSnapshot(local, snapshot)
	seen := map[string]bool{}
	for _, m := range merged {
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(merged))
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	local := []protocol.MessagePayload{
		msg("temp-a", "alice", "pending", 3*time.Second, false),
		msg("m1", "bob", "one", 0, false),
	}
	snapshot := []protocol.MessagePayload{
		msg("m1", "bob", "one", 0, true),
		msg("m2", "alice", "two", time.Second, false),
	}

	once := MergeSnapshot(local, snapshot)
	twice := MergeSnapshot(once, snapshot)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeCommutesWithPush(t *testing.T) {
	pushed := msg("m3", "bob", "three", 2*time.Second, false)
	local := []protocol.MessagePayload{
		msg("m1", "bob", "one", 0, false),
	}
	// Snapshot captured after the server persisted m3.
	snapshot := []protocol.MessagePayload{
		msg("m1", "bob", "one", 0, false),
		msg("m2", "alice", "two", time.Second, true),
		pushed,
	}

	// Push resolves first.
	afterPush, _ := ApplyPush(local, pushed, "alice")
	pushFirst := MergeSnapshot(afterPush, snapshot)

	// Fetch resolves first.
	afterMerge := MergeSnapshot(local, snapshot)
	fetchFirst, _ := ApplyPush(afterMerge, pushed, "alice")

	if !reflect.DeepEqual(pushFirst, fetchFirst) {
		t.Fatalf("merge order changed the result:\npush first:  %v\nfetch first: %v",
			ids(pushFirst), ids(fetchFirst))
	}
}

func TestApplyPushReplacesTempByClientRef(t *testing.T) {
	temp := msg("temp-ref1", "alice", "hello", 0, false)
	temp.ClientRef = "ref1"
	local := []protocol.MessagePayload{temp}

	confirmed := msg("m9", "alice", "hello", 500*time.Millisecond, false)
	confirmed.ClientRef = "ref1"

	out, added := ApplyPush(local, confirmed, "alice")
	if added {
		t.Fatal("replacing an optimistic entry is not a new message")
	}
	if len(out) != 1 || out[0].ID != "m9" {
		t.Fatalf("temp entry should be replaced in place: %v", ids(out))
	}
}

func TestApplyPushFallsBackToBodyAndWindow(t *testing.T) {
	// No correlation id round-tripped (e.g. an old server); match on body
	// text within the tolerance window.
	temp := msg("temp-x", "alice", "hello", 0, false)
	local := []protocol.MessagePayload{temp}

	confirmed := msg("m9", "alice", "hello", 3*time.Second, false)
	out, added := ApplyPush(local, confirmed, "alice")
	if added || len(out) != 1 || out[0].ID != "m9" {
		t.Fatalf("expected in-place replacement, got %v (added=%v)", ids(out), added)
	}

	// Outside the window no temp matches; the push appends instead.
	stale := msg("temp-y", "alice", "hello", 0, false)
	late := msg("m10", "alice", "hello", time.Minute, false)
	out, added = ApplyPush([]protocol.MessagePayload{stale}, late, "alice")
	if !added || len(out) != 2 {
		t.Fatalf("expected append for out-of-window push, got %v", ids(out))
	}
}

func TestApplyPushSelfFromAnotherConnection(t *testing.T) {
	// A message we sent from a different tab: no local temp entry exists.
	confirmed := msg("m5", "alice", "from other tab", 0, false)

	out, added := ApplyPush(nil, confirmed, "alice")
	if !added || len(out) != 1 {
		t.Fatalf("expected a single appended entry, got %v", ids(out))
	}

	// The same push delivered again must not duplicate.
	out, added = ApplyPush(out, confirmed, "alice")
	if added || len(out) != 1 {
		t.Fatalf("duplicate push created a second copy: %v", ids(out))
	}
}

func TestApplyPushFromPartnerAppendsOnce(t *testing.T) {
	incoming := msg("m1", "bob", "hi", 0, false)

	out, added := ApplyPush(nil, incoming, "alice")
	if !added {
		t.Fatal("first delivery should count as new")
	}
	out, added = ApplyPush(out, incoming, "alice")
	if added || len(out) != 1 {
		t.Fatalf("redelivery must not duplicate: %v", ids(out))
	}
}

func TestApplyPushKeepsTimestampOrder(t *testing.T) {
	local := []protocol.MessagePayload{
		msg("m1", "bob", "one", 0, false),
		msg("m3", "bob", "three", 2*time.Second, false),
	}
	out, _ := ApplyPush(local, msg("m2", "bob", "two", time.Second, false), "alice")
	if !reflect.DeepEqual(ids(out), []string{"m1", "m2", "m3"}) {
		t.Fatalf("unexpected order: %v", ids(out))
	}
}

func TestCountUnreadSkipsReadAndOwnMessages(t *testing.T) {
	local := []protocol.MessagePayload{
		msg("m1", "bob", "unread", 0, false),
		msg("m2", "bob", "read", time.Second, true),
		msg("m3", "alice", "own unread flag irrelevant", 2*time.Second, false),
		msg("temp-z", "alice", "optimistic", 3*time.Second, false),
		msg("m4", "bob", "unread too", 4*time.Second, false),
	}
	if got := CountUnread(local, "alice"); got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}
}
