package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send-message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send-message","chat_id":"chat-1","text":"hello","message_type":"text","client_ref":"temp-abc"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ChatID != "chat-1" {
		t.Errorf("expected chat_id %q, got %q", "chat-1", sm.ChatID)
	}
	if sm.Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", sm.Text)
	}
	if sm.ClientRef != "temp-abc" {
		t.Errorf("expected client_ref %q, got %q", "temp-abc", sm.ClientRef)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing join/leave/mark-as-read messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_RoomLifecycle(t *testing.T) {
	cases := []struct {
		input    string
		wantType string
	}{
		{`{"type":"join-chat","chat_id":"c1"}`, TypeJoinChat},
		{`{"type":"leave-chat","chat_id":"c1"}`, TypeLeaveChat},
		{`{"type":"load-chat","chat_id":"c1"}`, TypeLoadChat},
		{`{"type":"mark-as-read","chat_id":"c1"}`, TypeMarkAsRead},
		{`{"type":"typing","chat_id":"c1"}`, TypeTyping},
		{`{"type":"stop-typing","chat_id":"c1"}`, TypeStopTyping},
		{`{"type":"set-online"}`, TypeSetOnline},
		{`{"type":"get-online-users"}`, TypeGetOnlineUsers},
	}

	for _, tc := range cases {
		msgType, msg, err := ParseClientMessage([]byte(tc.input))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.wantType, err)
		}
		if msgType != tc.wantType {
			t.Errorf("expected type %q, got %q", tc.wantType, msgType)
		}
		if msg == nil {
			t.Errorf("%s: expected non-nil message", tc.wantType)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed messages are rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"frobnicate"}`))
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	// Server->client types must not parse as client messages.
	_, _, err := ParseClientMessage([]byte(`{"type":"new-message"}`))
	if err == nil {
		t.Fatal("expected error for server-only type, got nil")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"chat_id":"c1"}`))
	if err == nil {
		t.Fatal("expected error for missing type, got nil")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Server message round trip through NewServerMessage + ParseServerMessage
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := NewServerMessage(TypeNewMessage, NewMessageMsg{
		ChatID: "chat-1",
		Message: MessagePayload{
			ID:        "m1",
			ChatID:    "chat-1",
			SenderID:  "alice",
			Text:      "hi",
			CreatedAt: created,
			ClientRef: "temp-x",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	if decoded["type"] != TypeNewMessage {
		t.Errorf("expected injected type %q, got %v", TypeNewMessage, decoded["type"])
	}

	msgType, msg, err := ParseServerMessage(data)
	if err != nil {
		t.Fatalf("ParseServerMessage: %v", err)
	}
	if msgType != TypeNewMessage {
		t.Fatalf("expected type %q, got %q", TypeNewMessage, msgType)
	}
	nm, ok := msg.(NewMessageMsg)
	if !ok {
		t.Fatalf("expected NewMessageMsg, got %T", msg)
	}
	if nm.Message.ID != "m1" || nm.Message.ClientRef != "temp-x" {
		t.Errorf("message fields lost in round trip: %+v", nm.Message)
	}
	if !nm.Message.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, nm.Message.CreatedAt)
	}
}

func TestParseServerMessage_UserStatus(t *testing.T) {
	input := []byte(`{"type":"user-status","user_id":"bob","is_online":false,"last_active":"2026-03-01T12:00:00Z"}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeUserStatus {
		t.Fatalf("expected type %q, got %q", TypeUserStatus, msgType)
	}
	us, ok := msg.(UserStatusMsg)
	if !ok {
		t.Fatalf("expected UserStatusMsg, got %T", msg)
	}
	if us.UserID != "bob" || us.IsOnline {
		t.Errorf("unexpected payload: %+v", us)
	}
}
