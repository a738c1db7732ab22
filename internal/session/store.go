package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Presence is the Redis view of one connection.
type Presence struct {
	ID         string `redis:"id"`
	CompanyID  string `redis:"company_id"` // empty when not in a room
	TicketID   string `redis:"ticket_id"`  // empty when not in a room
	Role       string `redis:"role"`       // empty when not in a room
	Server     string `redis:"server"` // which supportd instance holds the socket
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store mirrors connection presence into Redis. It is informational only;
// the Registry stays authoritative.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a presence store on an existing Redis client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return client, nil
}

// Create stores a new presence record with no room and a 1h TTL.
func (s *Store) Create(ctx context.Context, connID string) error {
	key := SessionPrefix + connID
	now := time.Now().Unix()

	presence := map[string]interface{}{
		"id":          connID,
		"company_id":  "",
		"ticket_id":   "",
		"role":        "",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, presence)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a presence record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Presence, error) {
	key := SessionPrefix + connID
	var p Presence
	if err := s.client.HGetAll(ctx, key).Scan(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, nil
	}
	return &p, nil
}

// SetRoom records the connection's current room and refreshes the TTL.
func (s *Store) SetRoom(ctx context.Context, conn Connection) error {
	key := SessionPrefix + conn.ID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"company_id", conn.CompanyID,
		"ticket_id", conn.TicketID,
		"role", string(conn.Role),
		"last_active", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearRoom removes the room fields after a leave.
func (s *Store) ClearRoom(ctx context.Context, connID string) error {
	key := SessionPrefix + connID
	return s.client.HSet(ctx, key,
		"company_id", "",
		"ticket_id", "",
		"role", "",
		"last_active", time.Now().Unix(),
	).Err()
}

// Touch extends the TTL of every given record in one round trip. Records
// that already expired are not recreated.
func (s *Store) Touch(ctx context.Context, connIDs ...string) error {
	if len(connIDs) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, id := range connIDs {
		pipe.Expire(ctx, SessionPrefix+id, SessionTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a presence record from Redis.
func (s *Store) Delete(ctx context.Context, connID string) error {
	key := SessionPrefix + connID
	return s.client.Del(ctx, key).Err()
}
