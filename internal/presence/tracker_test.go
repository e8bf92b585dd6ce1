package presence

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skillswap/chat-app/internal/auth"
	"github.com/skillswap/chat-app/internal/protocol"
	"github.com/skillswap/chat-app/internal/ws"
)

// fakeBus records published presence payloads and loops them back to the
// subscribed handler, standing in for NATS.
type fakeBus struct {
	mu       sync.Mutex
	payloads [][]byte
	handler  func(data []byte)
}

func (b *fakeBus) PublishPresence(payload []byte) error {
	b.mu.Lock()
	b.payloads = append(b.payloads, payload)
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
	return nil
}

func (b *fakeBus) SubscribePresence(handler func(data []byte)) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) statuses(t *testing.T) []protocol.UserStatusMsg {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]protocol.UserStatusMsg, 0, len(b.payloads))
	for _, raw := range b.payloads {
		var msg protocol.UserStatusMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal status: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func newConn(userID string) *ws.Connection {
	server, _ := net.Pipe()
	return &ws.Connection{
		ID:       uuid.New().String(),
		User:     auth.Identity{ID: userID},
		Conn:     server,
		LastPing: time.Now(),
	}
}

func TestOnlineUntilLastConnectionGone(t *testing.T) {
	bus := &fakeBus{}
	tracker := NewTracker(bus, nil, nil, ws.NewConnectionManager())
	ctx := context.Background()

	tab1 := newConn("alice")
	tab2 := newConn("alice")

	tracker.MarkOnline(ctx, tab1)
	tracker.MarkOnline(ctx, tab2)
	if !tracker.IsOnline("alice") {
		t.Fatal("alice should be online")
	}

	// Closing one of two tabs must not flip the user offline.
	tracker.MarkOffline(ctx, tab1)
	if !tracker.IsOnline("alice") {
		t.Fatal("alice should still be online with one tab open")
	}

	tracker.MarkOffline(ctx, tab2)
	if tracker.IsOnline("alice") {
		t.Fatal("alice should be offline after last tab closed")
	}

	statuses := bus.statuses(t)
	if len(statuses) != 2 {
		t.Fatalf("expected exactly one online and one offline broadcast, got %d", len(statuses))
	}
	if !statuses[0].IsOnline || statuses[0].UserID != "alice" {
		t.Fatalf("first broadcast should be alice online, got %+v", statuses[0])
	}
	if statuses[1].IsOnline {
		t.Fatalf("second broadcast should be offline, got %+v", statuses[1])
	}
}

func TestRepeatedSetOnlineIsIdempotent(t *testing.T) {
	bus := &fakeBus{}
	tracker := NewTracker(bus, nil, nil, ws.NewConnectionManager())
	ctx := context.Background()

	conn := newConn("bob")
	tracker.MarkOnline(ctx, conn)
	tracker.MarkOnline(ctx, conn)
	tracker.MarkOnline(ctx, conn)

	if got := len(bus.statuses(t)); got != 1 {
		t.Fatalf("expected a single online broadcast, got %d", got)
	}

	tracker.MarkOffline(ctx, conn)
	if tracker.IsOnline("bob") {
		t.Fatal("bob should be offline")
	}
}

func TestOfflineWithoutOnlineIsNoop(t *testing.T) {
	bus := &fakeBus{}
	tracker := NewTracker(bus, nil, nil, ws.NewConnectionManager())

	// A connection that never announced visibility disconnects.
	tracker.MarkOffline(context.Background(), newConn("carol"))

	if got := len(bus.statuses(t)); got != 0 {
		t.Fatalf("expected no broadcasts, got %d", got)
	}
}

func TestOnlineUsersSnapshot(t *testing.T) {
	bus := &fakeBus{}
	tracker := NewTracker(bus, nil, nil, ws.NewConnectionManager())
	ctx := context.Background()

	tracker.MarkOnline(ctx, newConn("carol"))
	tracker.MarkOnline(ctx, newConn("alice"))
	tracker.MarkOnline(ctx, newConn("bob"))

	users := tracker.OnlineUsers()
	if len(users) != 3 {
		t.Fatalf("expected 3 online users, got %d", len(users))
	}
	want := []string{"alice", "bob", "carol"}
	for i, u := range users {
		if u.UserID != want[i] {
			t.Fatalf("expected %s at position %d, got %s", want[i], i, u.UserID)
		}
		if u.LastActive.IsZero() {
			t.Fatalf("last_active should be set for %s", u.UserID)
		}
	}
}

func TestLastSeenReflectsOnlineState(t *testing.T) {
	bus := &fakeBus{}
	tracker := NewTracker(bus, nil, nil, ws.NewConnectionManager())
	ctx := context.Background()

	online, lastActive, err := tracker.LastSeen(ctx, "dave")
	if err != nil {
		t.Fatalf("LastSeen: %v", err)
	}
	if online || !lastActive.IsZero() {
		t.Fatalf("never-seen user reported online=%v last_active=%v", online, lastActive)
	}

	tracker.MarkOnline(ctx, newConn("dave"))
	online, lastActive, err = tracker.LastSeen(ctx, "dave")
	if err != nil {
		t.Fatalf("LastSeen: %v", err)
	}
	if !online {
		t.Fatal("announced user should be online")
	}
	if lastActive.IsZero() {
		t.Fatal("online user should carry a last_active timestamp")
	}
}

func TestPresenceHandler(t *testing.T) {
	bus := &fakeBus{}
	tracker := NewTracker(bus, nil, nil, ws.NewConnectionManager())
	tracker.MarkOnline(context.Background(), newConn("erin"))

	mux := http.NewServeMux()
	mux.Handle("GET /api/presence/{user_id}", tracker.Handler())

	req := httptest.NewRequest(http.MethodGet, "/api/presence/erin", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		UserID   string `json:"user_id"`
		IsOnline bool   `json:"is_online"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UserID != "erin" || !resp.IsOnline {
		t.Fatalf("response = %+v, want erin online", resp)
	}
}
