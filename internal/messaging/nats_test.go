package messaging

import (
	"encoding/json"
	"testing"
)

// The room event envelope carries the excluded user as an id so receivers can
// compare it against the user bound to each connection.
func TestRoomEventExcludeFromCarriesUserID(t *testing.T) {
	event := RoomEvent{
		From:        "alice",
		ExcludeFrom: "alice",
		Payload:     json.RawMessage(`{"type":"user-typing"}`),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded RoomEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ExcludeFrom != "alice" {
		t.Errorf("ExcludeFrom = %q, want %q", decoded.ExcludeFrom, "alice")
	}
	if decoded.From != "alice" {
		t.Errorf("From = %q, want %q", decoded.From, "alice")
	}
}

func TestRoomEventExcludeFromOmittedWhenEmpty(t *testing.T) {
	event := RoomEvent{
		From:    "alice",
		Payload: json.RawMessage(`{"type":"new-message"}`),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["exclude_from"]; ok {
		t.Errorf("exclude_from present in %s, want omitted", data)
	}
}

func TestSubscribeUserIdempotent(t *testing.T) {
	client, err := NewClient(DefaultConfig())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer client.Close()

	handler := func(data []byte) {}
	if err := client.SubscribeUser("msg_test_user", handler); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := client.SubscribeUser("msg_test_user", handler); err != nil {
		t.Fatalf("repeated subscribe: %v", err)
	}

	client.mu.Lock()
	_, ok := client.subs["usersub:msg_test_user"]
	n := len(client.subs)
	client.mu.Unlock()
	if !ok {
		t.Fatal("personal channel subscription not registered")
	}
	if n != 1 {
		t.Errorf("registered %d subscriptions, want 1", n)
	}

	if err := client.UnsubscribeUser("msg_test_user"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
}
