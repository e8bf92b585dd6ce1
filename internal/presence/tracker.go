package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/skillswap/chat-app/internal/metrics"
	"github.com/skillswap/chat-app/internal/profile"
	"github.com/skillswap/chat-app/internal/protocol"
	"github.com/skillswap/chat-app/internal/session"
	"github.com/skillswap/chat-app/internal/ws"
)

// Bus is the slice of the messaging client the tracker needs: publishing
// status transitions to every server instance and receiving the ones other
// instances publish.
type Bus interface {
	PublishPresence(payload []byte) error
	SubscribePresence(handler func(data []byte)) error
}

// Tracker maintains application-level online state. A transport connection
// alone does not make a user online; the client announces visibility with an
// explicit set-online message. A user stays online until their last announced
// connection goes away, so closing one of two tabs changes nothing.
//
// The in-memory map is the single source of truth for online/offline. Redis
// only carries the last-active snapshot so that a restarted server can still
// report when a user was last seen.
type Tracker struct {
	bus      Bus
	sessions *session.Store
	profiles *profile.Store
	conns    *ws.ConnectionManager

	mu     sync.Mutex
	online map[string]*userState // user_id -> state
}

type userState struct {
	conns      map[string]struct{} // connection ids that announced set-online
	lastActive time.Time
}

// NewTracker creates a presence tracker. The session and profile stores may
// be nil, in which case last-active snapshots are kept in memory only.
func NewTracker(bus Bus, sessions *session.Store, profiles *profile.Store, conns *ws.ConnectionManager) *Tracker {
	return &Tracker{
		bus:      bus,
		sessions: sessions,
		profiles: profiles,
		conns:    conns,
		online:   make(map[string]*userState),
	}
}

// Start subscribes to the global presence subject and relays every status
// event to all local connections. Status events fan out to every connected
// client, not just chat partners.
func (t *Tracker) Start() error {
	return t.bus.SubscribePresence(func(data []byte) {
		t.conns.Broadcast(data)
	})
}

// MarkOnline records that the connection's user announced visibility. The
// first connection for a user triggers a global user-status broadcast;
// repeated announcements from the same connection and additional connections
// of an already-online user update state silently.
func (t *Tracker) MarkOnline(ctx context.Context, conn *ws.Connection) {
	userID := conn.UserID()
	now := time.Now()

	t.mu.Lock()
	state, wasOnline := t.online[userID]
	if !wasOnline {
		state = &userState{conns: make(map[string]struct{})}
		t.online[userID] = state
	}
	state.conns[conn.ID] = struct{}{}
	state.lastActive = now
	count := len(t.online)
	t.mu.Unlock()

	metrics.OnlineUsers.Set(float64(count))
	t.snapshotLastActive(ctx, userID, now)

	if !wasOnline {
		t.publishStatus(userID, true, now)
	}
}

// MarkOffline removes a connection from its user's announced set. When the
// last connection is gone the user transitions offline: a user-status
// broadcast goes out and the last-active timestamp is persisted.
func (t *Tracker) MarkOffline(ctx context.Context, conn *ws.Connection) {
	userID := conn.UserID()
	now := time.Now()

	t.mu.Lock()
	state, wasOnline := t.online[userID]
	if !wasOnline {
		t.mu.Unlock()
		return
	}
	delete(state.conns, conn.ID)
	stillOnline := len(state.conns) > 0
	if !stillOnline {
		delete(t.online, userID)
	}
	count := len(t.online)
	t.mu.Unlock()

	metrics.OnlineUsers.Set(float64(count))
	if stillOnline {
		return
	}

	t.snapshotLastActive(ctx, userID, now)
	if t.profiles != nil {
		if err := t.profiles.TouchLastActive(ctx, userID, now); err != nil {
			log.Printf("presence: touch last_active user=%s: %v", userID, err)
		}
	}
	t.publishStatus(userID, false, now)
}

// LastSeen reports whether the user is online right now and their most recent
// activity. Offline users fall back to the Redis snapshot, which survives
// server restarts; the zero time means the user was never seen.
func (t *Tracker) LastSeen(ctx context.Context, userID string) (bool, time.Time, error) {
	t.mu.Lock()
	if state, ok := t.online[userID]; ok {
		lastActive := state.lastActive
		t.mu.Unlock()
		return true, lastActive, nil
	}
	t.mu.Unlock()

	if t.sessions == nil {
		return false, time.Time{}, nil
	}
	lastActive, err := t.sessions.LastActive(ctx, userID)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("presence: last active user=%s: %w", userID, err)
	}
	return false, lastActive, nil
}

// Handler returns the HTTP endpoint for presence lookups, mounted at
// GET /api/presence/{user_id}. Clients use it to render "last seen" for an
// offline chat partner.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user_id")
		if userID == "" {
			http.Error(w, `{"error":"user_id required"}`, http.StatusBadRequest)
			return
		}

		online, lastActive, err := t.LastSeen(r.Context(), userID)
		if err != nil {
			log.Printf("presence: lookup user=%s: %v", userID, err)
			http.Error(w, `{"error":"presence lookup failed"}`, http.StatusInternalServerError)
			return
		}

		resp := presenceResponse{UserID: userID, IsOnline: online}
		if !lastActive.IsZero() {
			resp.LastActive = &lastActive
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

type presenceResponse struct {
	UserID     string     `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastActive *time.Time `json:"last_active,omitempty"`
}

// IsOnline reports whether the user currently has at least one announced
// connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers returns a snapshot of all currently online users, sorted by
// user id for stable output.
func (t *Tracker) OnlineUsers() []protocol.OnlineUser {
	t.mu.Lock()
	users := make([]protocol.OnlineUser, 0, len(t.online))
	for userID, state := range t.online {
		users = append(users, protocol.OnlineUser{
			UserID:     userID,
			LastActive: state.lastActive,
		})
	}
	t.mu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func (t *Tracker) publishStatus(userID string, isOnline bool, lastActive time.Time) {
	data, err := protocol.NewServerMessage(protocol.TypeUserStatus, protocol.UserStatusMsg{
		UserID:     userID,
		IsOnline:   isOnline,
		LastActive: lastActive,
	})
	if err != nil {
		log.Printf("presence: build user-status user=%s: %v", userID, err)
		return
	}
	if err := t.bus.PublishPresence(data); err != nil {
		log.Printf("presence: publish user-status user=%s: %v", userID, err)
	}
}

func (t *Tracker) snapshotLastActive(ctx context.Context, userID string, at time.Time) {
	if t.sessions == nil {
		return
	}
	if err := t.sessions.SnapshotLastActive(ctx, userID, at); err != nil {
		log.Printf("presence: snapshot last_active user=%s: %v", userID, err)
	}
}
