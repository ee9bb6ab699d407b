package chat

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// Presence records who currently has at least one open connection. It is
// advisory state: a failed update is logged and forgotten, never allowed
// to interfere with connection handling.
type Presence interface {
	Online(userID string)
	Offline(userID string)
}

const (
	onlineSetKey  = "presence:online"
	connCountsKey = "presence:conns"
)

// RedisPresence keeps a per-user connection count in a Redis hash and
// mirrors users with a positive count into a set. The count handles a
// user with several tabs open: the user goes offline only when the last
// connection drops.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) Online(userID string) {
	ctx := context.Background()
	if err := p.client.HIncrBy(ctx, connCountsKey, userID, 1).Err(); err != nil {
		log.Printf("presence online error: %v", err)
		return
	}
	if err := p.client.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		log.Printf("presence online error: %v", err)
	}
}

func (p *RedisPresence) Offline(userID string) {
	ctx := context.Background()
	count, err := p.client.HIncrBy(ctx, connCountsKey, userID, -1).Result()
	if err != nil {
		log.Printf("presence offline error: %v", err)
		return
	}
	if count <= 0 {
		if err := p.client.HDel(ctx, connCountsKey, userID).Err(); err != nil {
			log.Printf("presence offline error: %v", err)
		}
		if err := p.client.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
			log.Printf("presence offline error: %v", err)
		}
	}
}

// ListOnline returns the ids of users with at least one open connection.
func (p *RedisPresence) ListOnline(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, onlineSetKey).Result()
}
