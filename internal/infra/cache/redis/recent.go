package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	domainchat "bizlink/internal/domain/chat"
)

// RecentCache keeps the hot tail of each conversation in a redis sorted set
// keyed by sequence number, so first-page reads skip the primary store.
type RecentCache struct {
	client *redis.Client
	size   int
}

func NewRecentCache(client *redis.Client, size int) *RecentCache {
	if size <= 0 {
		size = 50
	}
	return &RecentCache{client: client, size: size}
}

func key(id domainchat.ConversationID) string {
	return "chat:recent:" + string(id)
}

// Append adds the message and evicts entries beyond the window.
func (c *RecentCache) Append(ctx context.Context, msg *domainchat.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("recent cache: encode message: %w", err)
	}
	k := key(msg.ConversationID)
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(msg.Seq), Member: raw})
	pipe.ZRemRangeByRank(ctx, k, 0, int64(-c.size-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recent cache: append: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest cached messages, oldest first.
func (c *RecentCache) Recent(ctx context.Context, id domainchat.ConversationID, limit int) ([]*domainchat.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := c.client.ZRange(ctx, key(id), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent cache: read: %w", err)
	}
	out := make([]*domainchat.Message, 0, len(raws))
	for _, raw := range raws {
		var msg domainchat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("recent cache: decode message: %w", err)
		}
		out = append(out, &msg)
	}
	return out, nil
}

// Invalidate drops the cached window for a conversation. Called after edits
// and deletions so stale content never serves from the fast path.
func (c *RecentCache) Invalidate(ctx context.Context, id domainchat.ConversationID) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("recent cache: invalidate: %w", err)
	}
	return nil
}
