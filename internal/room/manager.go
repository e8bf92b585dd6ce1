package room

import (
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/skillswap/chat-app/internal/messaging"
	"github.com/skillswap/chat-app/internal/ws"
)

// Manager tracks which chat rooms each WebSocket connection has joined and
// owns the NATS subscription that fans room events out to that connection.
// Membership is per connection, not per user: a user with two tabs open joins
// a room once per tab, and closing one tab only tears down that tab's
// subscriptions.
type Manager struct {
	bus *messaging.Client

	mu    sync.Mutex
	rooms map[string]map[string]*nats.Subscription // connID -> chatID -> subscription
}

// NewManager creates a room manager backed by the given messaging client.
func NewManager(bus *messaging.Client) *Manager {
	return &Manager{
		bus:   bus,
		rooms: make(map[string]map[string]*nats.Subscription),
	}
}

// Join subscribes the connection to the chat room's fanout subject. Joining a
// room the connection is already in is a no-op, so clients can re-send joins
// after a reconnect without stacking duplicate subscriptions. Room events
// carry an optional exclusion: events whose ExcludeFrom matches the
// connection's bound user (typing relays) are dropped before delivery, while
// everything else (new messages, read receipts) reaches every member
// connection including the sender's.
func (m *Manager) Join(conn *ws.Connection, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChat, ok := m.rooms[conn.ID]
	if !ok {
		byChat = make(map[string]*nats.Subscription)
		m.rooms[conn.ID] = byChat
	}
	if _, joined := byChat[chatID]; joined {
		return nil
	}

	userID := conn.UserID()
	sub, err := m.bus.SubscribeRoom(chatID, func(event messaging.RoomEvent) {
		if event.ExcludeFrom != "" && event.ExcludeFrom == userID {
			return
		}
		if err := conn.WriteMessage(event.Payload); err != nil {
			log.Printf("room: deliver failed chat=%s conn=%s: %v", chatID, conn.ID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("room: join chat %s: %w", chatID, err)
	}

	byChat[chatID] = sub
	log.Printf("room: joined chat=%s conn=%s user=%s", chatID, conn.ID, userID)
	return nil
}

// Leave unsubscribes the connection from the chat room. Leaving a room the
// connection never joined is a no-op.
func (m *Manager) Leave(conn *ws.Connection, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChat, ok := m.rooms[conn.ID]
	if !ok {
		return
	}
	sub, joined := byChat[chatID]
	if !joined {
		return
	}

	if err := sub.Unsubscribe(); err != nil {
		log.Printf("room: unsubscribe failed chat=%s conn=%s: %v", chatID, conn.ID, err)
	}
	delete(byChat, chatID)
	if len(byChat) == 0 {
		delete(m.rooms, conn.ID)
	}
	log.Printf("room: left chat=%s conn=%s", chatID, conn.ID)
}

// CleanupConn tears down every room subscription held by a connection. Called
// from the server's disconnect path so a dropped socket never leaks
// subscriptions.
func (m *Manager) CleanupConn(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChat, ok := m.rooms[connID]
	if !ok {
		return
	}
	for chatID, sub := range byChat {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("room: cleanup unsubscribe failed chat=%s conn=%s: %v", chatID, connID, err)
		}
	}
	delete(m.rooms, connID)
}

// Rooms returns the chat ids the connection is currently joined to.
func (m *Manager) Rooms(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChat := m.rooms[connID]
	out := make([]string, 0, len(byChat))
	for chatID := range byChat {
		out = append(out, chatID)
	}
	return out
}
