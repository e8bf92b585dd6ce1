// Package client implements the chat client's reconciliation engine: the
// state machine that merges optimistic local sends, server pushes, and REST
// snapshots into one consistent per-chat message list. It is transport
// agnostic; the WebSocket transport in this package feeds it pushes, and any
// SnapshotAPI implementation supplies authoritative state.
package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillswap/chat-app/internal/protocol"
)

// loadCacheWindow is how long a completed load stays fresh. Reopening a chat
// within the window skips the snapshot fetch and just rejoins the room.
const loadCacheWindow = 3 * time.Second

// typingExpiry is how long a typing indicator survives without a refresh.
// Delivery of stop-typing is not guaranteed, so this timer is the actual
// correctness mechanism.
const typingExpiry = 3 * time.Second

// ChatState is the per-chat load lifecycle.
type ChatState int

const (
	StateNotLoaded ChatState = iota
	StateLoading
	StateLoaded
)

// SnapshotAPI pulls authoritative chat state over REST. It is also the send
// fallback while the live channel is down.
type SnapshotAPI interface {
	FetchChat(ctx context.Context, chatID string) (*protocol.ChatPayload, error)
	PostMessage(ctx context.Context, chatID string, msg protocol.SendMessageMsg) (*protocol.MessagePayload, error)
}

// Pusher is the live channel the engine transmits on when connected.
type Pusher interface {
	Send(msg interface{}) error
	Connected() bool
}

type chatCache struct {
	state    ChatState
	messages []protocol.MessagePayload
	unread   int
	loadedAt time.Time
}

// Engine is the client-side reconciliation engine. All methods are safe for
// concurrent use; the merge primitives it builds on are pure, so push and
// fetch resolution may race freely.
type Engine struct {
	selfID string
	api    SnapshotAPI
	push   Pusher

	mu         sync.Mutex
	chats      map[string]*chatCache
	activeChat string
	typing     map[string]map[string]*typingTimer // chat_id -> user_id -> expiry timer
	online     map[string]protocol.OnlineUser
}

// typingTimer pairs the expiry timer with a generation counter. A timer that
// fires while the indicator is being refreshed blocks on the engine mutex;
// the stale callback sees a newer generation and leaves the indicator alone.
type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

// NewEngine creates a reconciliation engine for the given user.
func NewEngine(selfID string, api SnapshotAPI, push Pusher) *Engine {
	return &Engine{
		selfID: selfID,
		api:    api,
		push:   push,
		chats:  make(map[string]*chatCache),
		typing: make(map[string]map[string]*typingTimer),
		online: make(map[string]protocol.OnlineUser),
	}
}

func (e *Engine) cache(chatID string) *chatCache {
	c, ok := e.chats[chatID]
	if !ok {
		c = &chatCache{}
		e.chats[chatID] = c
	}
	return c
}

// OpenChat makes chatID the active chat. If a load completed within the cache
// window and force is false, the network round trip is skipped: the engine
// just rejoins the room and runs the read flow. Otherwise it fetches an
// authoritative snapshot and merges it into whatever is already held.
func (e *Engine) OpenChat(ctx context.Context, chatID string, force bool) error {
	e.mu.Lock()
	e.activeChat = chatID
	c := e.cache(chatID)
	fresh := c.state == StateLoaded && time.Since(c.loadedAt) < loadCacheWindow
	if !fresh || force {
		c.state = StateLoading
	}
	e.mu.Unlock()

	e.sendBestEffort(protocol.JoinChatMsg{Type: protocol.TypeJoinChat, ChatID: chatID})

	if fresh && !force {
		e.completeReadFlow(chatID)
		return nil
	}

	snapshot, err := e.api.FetchChat(ctx, chatID)
	if err != nil {
		e.mu.Lock()
		c.state = StateNotLoaded
		e.mu.Unlock()
		return fmt.Errorf("client: load chat %s: %w", chatID, err)
	}

	e.mu.Lock()
	c.messages = MergeSnapshot(c.messages, snapshot.Messages)
	c.state = StateLoaded
	c.loadedAt = time.Now()
	e.mu.Unlock()

	e.completeReadFlow(chatID)
	return nil
}

// completeReadFlow resets the unread counter, marks held partner messages
// read locally, and asks the server to persist the receipt.
func (e *Engine) completeReadFlow(chatID string) {
	e.mu.Lock()
	c := e.cache(chatID)
	c.unread = 0
	c.messages = MarkAllRead(c.messages, e.selfID)
	e.mu.Unlock()

	e.sendBestEffort(protocol.MarkAsReadMsg{Type: protocol.TypeMarkAsRead, ChatID: chatID})
}

// CloseChat leaves the chat's room and clears the active marker.
func (e *Engine) CloseChat(chatID string) {
	e.mu.Lock()
	if e.activeChat == chatID {
		e.activeChat = ""
	}
	e.mu.Unlock()
	e.sendBestEffort(protocol.LeaveChatMsg{Type: protocol.TypeLeaveChat, ChatID: chatID})
}

// Send appends an optimistic entry and transmits the message, over the live
// channel when connected or the REST fallback otherwise. The returned id is
// the temporary local id; the confirmed copy arrives by push (or, on the
// REST path, from the response) carrying the same client_ref.
func (e *Engine) Send(ctx context.Context, chatID, text string) (string, error) {
	clientRef := uuid.New().String()
	temp := protocol.MessagePayload{
		ID:          TempIDPrefix + clientRef,
		ChatID:      chatID,
		SenderID:    e.selfID,
		Text:        text,
		MessageType: "text",
		CreatedAt:   time.Now(),
		ClientRef:   clientRef,
	}

	e.mu.Lock()
	c := e.cache(chatID)
	c.messages = append(c.messages, temp)
	e.mu.Unlock()

	msg := protocol.SendMessageMsg{
		Type:        protocol.TypeSendMessage,
		ChatID:      chatID,
		Text:        text,
		MessageType: "text",
		ClientRef:   clientRef,
	}

	if e.push != nil && e.push.Connected() {
		if err := e.push.Send(msg); err != nil {
			return temp.ID, fmt.Errorf("client: send over socket: %w", err)
		}
		return temp.ID, nil
	}

	confirmed, err := e.api.PostMessage(ctx, chatID, msg)
	if err != nil {
		return temp.ID, fmt.Errorf("client: send over rest: %w", err)
	}
	e.applyNewMessage(*confirmed)
	return temp.ID, nil
}

// HandlePush feeds one raw server frame into the engine.
func (e *Engine) HandlePush(data []byte) {
	msgType, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		log.Printf("client: drop unparseable push: %v", err)
		return
	}

	switch msgType {
	case protocol.TypeNewMessage:
		m := msg.(protocol.NewMessageMsg)
		e.applyNewMessage(m.Message)
	case protocol.TypeChatLoaded:
		m := msg.(protocol.ChatLoadedMsg)
		e.applySnapshot(m.Chat)
	case protocol.TypeMessagesRead:
		m := msg.(protocol.MessagesReadMsg)
		e.applyReadReceipt(m)
	case protocol.TypeUserTyping:
		m := msg.(protocol.UserTypingMsg)
		e.refreshTyping(m.ChatID, m.UserID)
	case protocol.TypeUserStopTyping:
		m := msg.(protocol.UserStopTypingMsg)
		e.clearTyping(m.ChatID, m.UserID)
	case protocol.TypeUserStatus:
		m := msg.(protocol.UserStatusMsg)
		e.applyUserStatus(m)
	case protocol.TypeOnlineUsers:
		m := msg.(protocol.OnlineUsersMsg)
		e.applyOnlineUsers(m.Users)
	case protocol.TypeError:
		m := msg.(protocol.ErrorMsg)
		log.Printf("client: server rejected action: %s: %s", m.Code, m.Message)
	case protocol.TypePong:
		// keepalive, nothing to do
	default:
		log.Printf("client: unhandled push type %q", msgType)
	}
}

// applyNewMessage folds a confirmed message into its chat and maintains the
// unread counter: it increments only for messages from others while their
// chat is not the open one.
func (e *Engine) applyNewMessage(m protocol.MessagePayload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.cache(m.ChatID)
	var added bool
	c.messages, added = ApplyPush(c.messages, m, e.selfID)
	if added && m.SenderID != e.selfID && e.activeChat != m.ChatID {
		c.unread++
	}
	if m.SenderID != e.selfID {
		e.clearTypingLocked(m.ChatID, m.SenderID)
	}
}

// applySnapshot merges a pushed chat-loaded payload exactly like a REST
// snapshot.
func (e *Engine) applySnapshot(chat protocol.ChatPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.cache(chat.ID)
	c.messages = MergeSnapshot(c.messages, chat.Messages)
	c.state = StateLoaded
	c.loadedAt = time.Now()
	c.unread = CountUnread(c.messages, e.selfID)
}

// applyReadReceipt handles messages-read. A receipt from the partner flips
// our sent messages to read; a receipt from ourselves (issued by another of
// our connections) resets the chat's unread counter.
func (e *Engine) applyReadReceipt(m protocol.MessagesReadMsg) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.cache(m.ChatID)
	if m.UserID == e.selfID {
		c.unread = 0
		c.messages = MarkAllRead(c.messages, e.selfID)
		return
	}
	c.messages = MarkAllRead(c.messages, m.UserID)
}

func (e *Engine) applyUserStatus(m protocol.UserStatusMsg) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.IsOnline {
		e.online[m.UserID] = protocol.OnlineUser{UserID: m.UserID, LastActive: m.LastActive}
	} else {
		delete(e.online, m.UserID)
	}
}

func (e *Engine) applyOnlineUsers(users []protocol.OnlineUser) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = make(map[string]protocol.OnlineUser, len(users))
	for _, u := range users {
		e.online[u.UserID] = u
	}
}

// refreshTyping starts or renews the expiry timer for a remote user's typing
// indicator in a chat. Each refresh bumps the generation and arms a fresh
// timer rather than resetting the old one, so a previous timer that already
// fired cannot kill the renewed indicator.
func (e *Engine) refreshTyping(chatID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byUser, ok := e.typing[chatID]
	if !ok {
		byUser = make(map[string]*typingTimer)
		e.typing[chatID] = byUser
	}
	tt, ok := byUser[userID]
	if !ok {
		tt = &typingTimer{}
		byUser[userID] = tt
	} else {
		tt.timer.Stop()
	}
	tt.gen++
	gen := tt.gen
	tt.timer = time.AfterFunc(typingExpiry, func() {
		e.expireTyping(chatID, userID, gen)
	})
}

// expireTyping clears the indicator only if no refresh happened after the
// firing timer was armed.
func (e *Engine) expireTyping(chatID, userID string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byUser, ok := e.typing[chatID]
	if !ok {
		return
	}
	tt, ok := byUser[userID]
	if !ok || tt.gen != gen {
		return
	}
	delete(byUser, userID)
	if len(byUser) == 0 {
		delete(e.typing, chatID)
	}
}

func (e *Engine) clearTyping(chatID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearTypingLocked(chatID, userID)
}

func (e *Engine) clearTypingLocked(chatID, userID string) {
	byUser, ok := e.typing[chatID]
	if !ok {
		return
	}
	if tt, ok := byUser[userID]; ok {
		tt.timer.Stop()
		delete(byUser, userID)
	}
	if len(byUser) == 0 {
		delete(e.typing, chatID)
	}
}

// NotifyTyping transmits a typing indicator for the active chat.
func (e *Engine) NotifyTyping(chatID string) {
	e.sendBestEffort(protocol.TypingMsg{Type: protocol.TypeTyping, ChatID: chatID})
}

// NotifyStopTyping transmits a stop-typing indicator.
func (e *Engine) NotifyStopTyping(chatID string) {
	e.sendBestEffort(protocol.StopTypingMsg{Type: protocol.TypeStopTyping, ChatID: chatID})
}

// OnReconnect restores server-side state after the live channel comes back:
// it re-announces presence and rejoins only the active chat's room.
// Background chats resynchronize lazily on next open, since their load cache
// has long expired by then.
func (e *Engine) OnReconnect() {
	e.sendBestEffort(protocol.SetOnlineMsg{Type: protocol.TypeSetOnline})

	e.mu.Lock()
	active := e.activeChat
	e.mu.Unlock()

	if active != "" {
		e.sendBestEffort(protocol.JoinChatMsg{Type: protocol.TypeJoinChat, ChatID: active})
	}
}

// GoOnline announces application-level visibility.
func (e *Engine) GoOnline() {
	e.sendBestEffort(protocol.SetOnlineMsg{Type: protocol.TypeSetOnline})
}

// Messages returns a copy of the chat's current message list.
func (e *Engine) Messages(chatID string) []protocol.MessagePayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.cache(chatID)
	return append([]protocol.MessagePayload(nil), c.messages...)
}

// Unread returns the chat's current unread counter.
func (e *Engine) Unread(chatID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache(chatID).unread
}

// State returns the chat's load state.
func (e *Engine) State(chatID string) ChatState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache(chatID).state
}

// TypingUsers returns the remote users currently typing in the chat.
func (e *Engine) TypingUsers(chatID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	byUser := e.typing[chatID]
	out := make([]string, 0, len(byUser))
	for userID := range byUser {
		out = append(out, userID)
	}
	return out
}

// OnlineUsers returns the users last reported online.
func (e *Engine) OnlineUsers() []protocol.OnlineUser {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.OnlineUser, 0, len(e.online))
	for _, u := range e.online {
		out = append(out, u)
	}
	return out
}

// sendBestEffort transmits over the live channel when connected and silently
// drops otherwise. Join, read, presence, and typing events are all recovered
// through other paths (reconnect, snapshot fetch, typing expiry), so losing
// one is harmless.
func (e *Engine) sendBestEffort(msg interface{}) {
	if e.push == nil || !e.push.Connected() {
		return
	}
	if err := e.push.Send(msg); err != nil {
		log.Printf("client: best-effort send failed: %v", err)
	}
}
