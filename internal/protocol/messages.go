// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinChat       = "join-chat"
	TypeLeaveChat      = "leave-chat"
	TypeLoadChat       = "load-chat"
	TypeSendMessage    = "send-message"
	TypeTyping         = "typing"
	TypeStopTyping     = "stop-typing"
	TypeMarkAsRead     = "mark-as-read"
	TypeSetOnline      = "set-online"
	TypeGetOnlineUsers = "get-online-users"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeChatLoaded     = "chat-loaded"
	TypeNewMessage     = "new-message"
	TypeUserTyping     = "user-typing"
	TypeUserStopTyping = "user-stop-typing"
	TypeMessagesRead   = "messages-read"
	TypeUserStatus     = "user-status"
	TypeOnlineUsers    = "online-users"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared wire payloads
// ---------------------------------------------------------------------------

// MessagePayload is the wire representation of one persisted chat message.
// ClientRef carries the client-generated correlation id round-tripped through
// the server so the sender can replace its optimistic copy without guessing.
type MessagePayload struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	MessageType string    `json:"message_type"`
	FileData    string    `json:"file_data,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
	ClientRef   string    `json:"client_ref,omitempty"`
}

// ChatPayload is the wire representation of a chat session including its
// ordered message history. Participants always has exactly two entries.
type ChatPayload struct {
	ID              string           `json:"id"`
	Participants    []string         `json:"participants"`
	ExchangeID      string           `json:"exchange_id,omitempty"`
	ChatType        string           `json:"chat_type"`
	IsActive        bool             `json:"is_active"`
	LastMessageText string           `json:"last_message_text,omitempty"`
	LastMessageAt   *time.Time       `json:"last_message_at,omitempty"`
	Messages        []MessagePayload `json:"messages"`
}

// OnlineUser is one entry in the online-users listing.
type OnlineUser struct {
	UserID     string    `json:"user_id"`
	LastActive time.Time `json:"last_active"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinChatMsg subscribes the connection to a chat's broadcast room.
type JoinChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// LeaveChatMsg unsubscribes the connection from a chat's broadcast room.
type LeaveChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// LoadChatMsg requests an authoritative copy of the chat over the push
// channel. Loading a chat also marks its unread messages as read.
type LoadChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// SendMessageMsg is a new chat message from the client. ClientRef is the
// client-generated correlation id echoed back on the resulting new-message
// push. FileData is an opaque attachment reference stored as-is.
type SendMessageMsg struct {
	Type        string `json:"type"`
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	MessageType string `json:"message_type"`
	FileData    string `json:"file_data,omitempty"`
	ClientRef   string `json:"client_ref,omitempty"`
}

// TypingMsg signals that the user started typing in a chat.
type TypingMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// StopTypingMsg signals that the user stopped typing in a chat.
type StopTypingMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// MarkAsReadMsg asks the server to flip the chat's unread messages to read.
type MarkAsReadMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// SetOnlineMsg announces application-level visibility. Transport connection
// alone does not mark a user online.
type SetOnlineMsg struct {
	Type string `json:"type"`
}

// GetOnlineUsersMsg requests the current list of online users.
type GetOnlineUsersMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ChatLoadedMsg carries the authoritative chat state in response to load-chat.
type ChatLoadedMsg struct {
	Type string      `json:"type"`
	Chat ChatPayload `json:"chat"`
}

// NewMessageMsg announces a persisted message to every connection in the
// chat's room, including the sender's own connections, so all of a user's
// surfaces converge on the server-assigned id.
type NewMessageMsg struct {
	Type    string         `json:"type"`
	ChatID  string         `json:"chat_id"`
	Message MessagePayload `json:"message"`
}

// UserTypingMsg relays a typing indicator to the other participant.
type UserTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// UserStopTypingMsg relays a stop-typing indicator to the other participant.
type UserStopTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// MessagesReadMsg announces that userID has read the chat's messages. Sent to
// the whole room so the reader's other connections converge too.
type MessagesReadMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// UserStatusMsg announces an online/offline transition to all connected
// clients.
type UserStatusMsg struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastActive time.Time `json:"last_active"`
}

// OnlineUsersMsg is the response to get-online-users.
type OnlineUsersMsg struct {
	Type  string       `json:"type"`
	Users []OnlineUser `json:"users"`
}

// ErrorMsg is sent privately to the initiating connection when an action is
// rejected. It is never broadcast.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLoadChat:
		var m LoadChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkAsRead:
		var m MarkAsReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetOnline:
		var m SetOnlineMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetOnlineUsers:
		var m GetOnlineUsersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseServerMessage parses raw WebSocket bytes into a typed server message.
// It is the client-side counterpart of ParseClientMessage, used by the
// reconciliation engine's transport.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeChatLoaded:
		var m ChatLoadedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNewMessage:
		var m NewMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserTyping:
		var m UserTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserStopTyping:
		var m UserStopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessagesRead:
		var m MessagesReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserStatus:
		var m UserStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOnlineUsers:
		var m OnlineUsersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		var m PongMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
