package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/skillswap/chat-app/internal/protocol"
)

// fakeAPI serves canned snapshots and confirms posted messages the way the
// server would: assigning an id and echoing the client_ref.
type fakeAPI struct {
	mu        sync.Mutex
	snapshots map[string]*protocol.ChatPayload
	fetches   int
	posted    []protocol.SendMessageMsg
	nextID    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{snapshots: make(map[string]*protocol.ChatPayload)}
}

func (a *fakeAPI) FetchChat(_ context.Context, chatID string) (*protocol.ChatPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if snap, ok := a.snapshots[chatID]; ok {
		cp := *snap
		cp.Messages = append([]protocol.MessagePayload(nil), snap.Messages...)
		return &cp, nil
	}
	return &protocol.ChatPayload{ID: chatID, Participants: []string{"alice", "bob"}}, nil
}

func (a *fakeAPI) PostMessage(_ context.Context, chatID string, msg protocol.SendMessageMsg) (*protocol.MessagePayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posted = append(a.posted, msg)
	a.nextID++
	confirmed := protocol.MessagePayload{
		ID:          "srv-" + string(rune('0'+a.nextID)),
		ChatID:      chatID,
		SenderID:    "alice",
		Text:        msg.Text,
		MessageType: "text",
		CreatedAt:   time.Now(),
		ClientRef:   msg.ClientRef,
	}
	snap, ok := a.snapshots[chatID]
	if !ok {
		snap = &protocol.ChatPayload{ID: chatID, Participants: []string{"alice", "bob"}}
		a.snapshots[chatID] = snap
	}
	snap.Messages = append(snap.Messages, confirmed)
	return &confirmed, nil
}

// fakePusher records live-channel sends.
type fakePusher struct {
	mu        sync.Mutex
	connected bool
	sent      []interface{}
}

func (p *fakePusher) Send(msg interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePusher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePusher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *fakePusher) sentOfType(msgType string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []interface{}
	for _, m := range p.sent {
		data, _ := json.Marshal(m)
		var env struct {
			Type string `json:"type"`
		}
		json.Unmarshal(data, &env)
		if env.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func pushFrame(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	data, err := protocol.NewServerMessage(eventType, payload)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	return data
}

func TestOfflineSendRoundTripYieldsOneCopy(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: false}
	e := NewEngine("alice", api, push)
	ctx := context.Background()

	// Offline: the send takes the REST fallback.
	tempID, err := e.Send(ctx, "chat-1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !IsTemp(tempID) {
		t.Fatalf("expected a temp id, got %q", tempID)
	}
	if len(api.posted) != 1 {
		t.Fatalf("expected 1 REST post, got %d", len(api.posted))
	}

	msgs := e.Messages("chat-1")
	if len(msgs) != 1 || IsTemp(msgs[0].ID) {
		t.Fatalf("REST confirmation should replace the temp entry: %+v", msgs)
	}
	confirmedID := msgs[0].ID

	// Reconnect: the same message arrives again as a push, then the chat is
	// reopened and the snapshot (which also contains it) is merged.
	push.setConnected(true)
	e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  "chat-1",
		Message: msgs[0],
	}))
	if err := e.OpenChat(ctx, "chat-1", true); err != nil {
		t.Fatalf("OpenChat: %v", err)
	}

	final := e.Messages("chat-1")
	if len(final) != 1 {
		t.Fatalf("expected exactly one copy after round trip, got %v", ids(final))
	}
	if final[0].ID != confirmedID {
		t.Fatalf("expected %s, got %s", confirmedID, final[0].ID)
	}
}

func TestUnreadCounterLifecycle(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)
	ctx := context.Background()

	// Messages for a chat that is not open count as unread.
	for i, text := range []string{"one", "two"} {
		e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
			ChatID:  "chat-1",
			Message: msg("m"+string(rune('1'+i)), "bob", text, time.Duration(i)*time.Second, false),
		}))
	}
	if got := e.Unread("chat-1"); got != 2 {
		t.Fatalf("expected unread 2, got %d", got)
	}

	// Own messages never count, regardless of focus.
	e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  "chat-1",
		Message: msg("m3", "alice", "mine", 3*time.Second, false),
	}))
	if got := e.Unread("chat-1"); got != 2 {
		t.Fatalf("self message changed unread count: %d", got)
	}

	// Opening the chat resets the counter and sends mark-as-read.
	if err := e.OpenChat(ctx, "chat-1", false); err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if got := e.Unread("chat-1"); got != 0 {
		t.Fatalf("expected unread 0 after open, got %d", got)
	}
	if got := len(push.sentOfType(protocol.TypeMarkAsRead)); got != 1 {
		t.Fatalf("expected 1 mark-as-read, got %d", got)
	}

	// While the chat is open, incoming messages do not increment.
	e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  "chat-1",
		Message: msg("m4", "bob", "while open", 4*time.Second, false),
	}))
	if got := e.Unread("chat-1"); got != 0 {
		t.Fatalf("open chat accumulated unread: %d", got)
	}

	// A duplicate delivery of an already-held message never increments.
	e.CloseChat("chat-1")
	e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  "chat-1",
		Message: msg("m4", "bob", "while open", 4*time.Second, false),
	}))
	if got := e.Unread("chat-1"); got != 0 {
		t.Fatalf("duplicate push incremented unread: %d", got)
	}
}

func TestOpenChatCacheWindowSkipsFetch(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)
	ctx := context.Background()

	if err := e.OpenChat(ctx, "chat-1", false); err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	if err := e.OpenChat(ctx, "chat-1", false); err != nil {
		t.Fatalf("second OpenChat: %v", err)
	}
	if api.fetches != 1 {
		t.Fatalf("expected 1 snapshot fetch inside the cache window, got %d", api.fetches)
	}

	// force bypasses the window.
	if err := e.OpenChat(ctx, "chat-1", true); err != nil {
		t.Fatalf("forced OpenChat: %v", err)
	}
	if api.fetches != 2 {
		t.Fatalf("expected forced reload to fetch, got %d", api.fetches)
	}
}

func TestReadReceiptFromPartnerFlipsOwnMessages(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)

	e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  "chat-1",
		Message: msg("m1", "alice", "sent by me", 0, false),
	}))
	e.HandlePush(pushFrame(t, protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		ChatID: "chat-1",
		UserID: "bob",
	}))

	msgs := e.Messages("chat-1")
	if len(msgs) != 1 || !msgs[0].Read {
		t.Fatalf("partner receipt should mark my message read: %+v", msgs)
	}
}

func TestReadReceiptFromOwnOtherConnectionResetsUnread(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)

	e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  "chat-1",
		Message: msg("m1", "bob", "hi", 0, false),
	}))
	if got := e.Unread("chat-1"); got != 1 {
		t.Fatalf("expected unread 1, got %d", got)
	}

	// We read the chat on another tab; its receipt comes back to this one.
	e.HandlePush(pushFrame(t, protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		ChatID: "chat-1",
		UserID: "alice",
	}))
	if got := e.Unread("chat-1"); got != 0 {
		t.Fatalf("expected unread 0 after own receipt, got %d", got)
	}
}

func TestTypingIndicatorLifecycle(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)

	e.HandlePush(pushFrame(t, protocol.TypeUserTyping, protocol.UserTypingMsg{
		ChatID: "chat-1", UserID: "bob",
	}))
	if got := e.TypingUsers("chat-1"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected bob typing, got %v", got)
	}

	e.HandlePush(pushFrame(t, protocol.TypeUserStopTyping, protocol.UserStopTypingMsg{
		ChatID: "chat-1", UserID: "bob",
	}))
	if got := e.TypingUsers("chat-1"); len(got) != 0 {
		t.Fatalf("expected nobody typing, got %v", got)
	}

	// A delivered message clears the sender's indicator even without
	// stop-typing.
	e.HandlePush(pushFrame(t, protocol.TypeUserTyping, protocol.UserTypingMsg{
		ChatID: "chat-1", UserID: "bob",
	}))
	e.HandlePush(pushFrame(t, protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  "chat-1",
		Message: msg("m1", "bob", "done typing", 0, false),
	}))
	if got := e.TypingUsers("chat-1"); len(got) != 0 {
		t.Fatalf("message should clear typing indicator, got %v", got)
	}
}

// A timer armed by an earlier typing event may fire just as the indicator is
// refreshed. Its expiry callback carries a stale generation and must not
// clear the renewed indicator; only the current generation may.
func TestStaleExpiryDoesNotClearRefreshedTyping(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)

	e.HandlePush(pushFrame(t, protocol.TypeUserTyping, protocol.UserTypingMsg{
		ChatID: "chat-1", UserID: "bob",
	}))
	e.HandlePush(pushFrame(t, protocol.TypeUserTyping, protocol.UserTypingMsg{
		ChatID: "chat-1", UserID: "bob",
	}))

	e.expireTyping("chat-1", "bob", 1)
	if got := e.TypingUsers("chat-1"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("stale expiry cleared the indicator, got %v", got)
	}

	e.expireTyping("chat-1", "bob", 2)
	if got := e.TypingUsers("chat-1"); len(got) != 0 {
		t.Fatalf("current-generation expiry should clear, got %v", got)
	}
}

func TestReconnectRejoinsOnlyActiveChat(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)
	ctx := context.Background()

	if err := e.OpenChat(ctx, "chat-2", false); err != nil {
		t.Fatalf("OpenChat chat-2: %v", err)
	}
	if err := e.OpenChat(ctx, "chat-1", false); err != nil {
		t.Fatalf("OpenChat chat-1: %v", err)
	}

	push.mu.Lock()
	push.sent = nil
	push.mu.Unlock()

	e.OnReconnect()

	if got := len(push.sentOfType(protocol.TypeSetOnline)); got != 1 {
		t.Fatalf("expected presence re-announcement, got %d", got)
	}
	joins := push.sentOfType(protocol.TypeJoinChat)
	if len(joins) != 1 {
		t.Fatalf("expected exactly one rejoin, got %d", len(joins))
	}
	if join := joins[0].(protocol.JoinChatMsg); join.ChatID != "chat-1" {
		t.Fatalf("expected rejoin of the active chat, got %s", join.ChatID)
	}
}

func TestConnectedSendUsesLiveChannel(t *testing.T) {
	api := newFakeAPI()
	push := &fakePusher{connected: true}
	e := NewEngine("alice", api, push)

	if _, err := e.Send(context.Background(), "chat-1", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.posted) != 0 {
		t.Fatal("connected send must not hit the REST fallback")
	}

	sends := push.sentOfType(protocol.TypeSendMessage)
	if len(sends) != 1 {
		t.Fatalf("expected 1 live send, got %d", len(sends))
	}
	sm := sends[0].(protocol.SendMessageMsg)
	if sm.ClientRef == "" {
		t.Fatal("live send must carry a client_ref")
	}

	// The optimistic entry is present until the push confirms it.
	msgs := e.Messages("chat-1")
	if len(msgs) != 1 || !IsTemp(msgs[0].ID) {
		t.Fatalf("expected a single optimistic entry, got %+v", msgs)
	}
}
