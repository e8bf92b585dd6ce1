// Package session manages the Redis-backed registry of live WebSocket
// connections. Each connection gets a hash keyed by its connection id holding
// the bound user, the server instance, and activity timestamps. Entries are
// transport-level state: they are created on handshake, deleted on disconnect,
// and expire on their own if a server dies without cleaning up.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for connection hashes.
	ConnPrefix = "conn:"

	// LastActivePrefix is the Redis key prefix for per-user lastActive
	// snapshots written when presence transitions offline.
	LastActivePrefix = "lastactive:"

	// ConnTTL is the time-to-live for connection keys in Redis.
	ConnTTL = 1 * time.Hour
)

// Conn is a connection registry entry.
type Conn struct {
	ID          string `redis:"id"`
	UserID      string `redis:"user_id"`
	Server      string `redis:"server"`      // which chat server instance
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
	LastActive  int64  `redis:"last_active"`  // unix timestamp
}

// Store manages connection registry state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates a new connection registry connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create registers a connection bound to userID with a 1h TTL.
func (s *Store) Create(ctx context.Context, connID, userID string) error {
	key := ConnPrefix + connID
	now := time.Now().Unix()

	entry := map[string]interface{}{
		"id":           connID,
		"user_id":      userID,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, entry)
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a connection entry. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Conn, error) {
	key := ConnPrefix + connID
	var entry Conn
	err := s.client.HGetAll(ctx, key).Scan(&entry)
	if err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, nil // not found
	}
	return &entry, nil
}

// Touch refreshes the connection's last_active stamp and TTL.
func (s *Store) Touch(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a connection entry.
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.client.Del(ctx, ConnPrefix+connID).Err()
}

// SnapshotLastActive records the user's lastActive timestamp. The in-process
// presence map is the source of truth while the process lives; this snapshot
// survives restarts.
func (s *Store) SnapshotLastActive(ctx context.Context, userID string, at time.Time) error {
	return s.client.Set(ctx, LastActivePrefix+userID, at.Unix(), 0).Err()
}

// LastActive reads the user's last recorded activity. Returns the zero time
// if no snapshot exists.
func (s *Store) LastActive(ctx context.Context, userID string) (time.Time, error) {
	v, err := s.client.Get(ctx, LastActivePrefix+userID).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0), nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
