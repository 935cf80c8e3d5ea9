package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
)

// RedisStore keeps one list per user, newest at the head. The whole list
// expires once no notification has been added for the retention period.
type RedisStore struct {
	client *redis.Client
	opts   Options
	prefix string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   opts.normalized(),
		prefix: "notifications:",
		now:    time.Now,
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) Add(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = util.NewID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return Notification{}, fmt.Errorf("marshal notification: %w", err)
	}

	key := s.key(n.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, int64(s.opts.Cap-1))
		pipe.Expire(ctx, key, s.opts.Retention)
		return nil
	})
	if err != nil {
		return Notification{}, fmt.Errorf("add notification: %w", err)
	}
	return n, nil
}

func (s *RedisStore) load(ctx context.Context, userID string) ([]Notification, error) {
	raw, err := s.client.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	cutoff := s.now().Add(-s.opts.Retention)
	items := make([]Notification, 0, len(raw))
	for _, entry := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(entry), &n); err != nil {
			continue
		}
		if n.CreatedAt.Before(cutoff) {
			continue
		}
		items = append(items, n)
	}
	return items, nil
}

func (s *RedisStore) List(ctx context.Context, userID string, limit int) ([]Notification, int, error) {
	items, err := s.load(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	unread := countUnread(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, unread, nil
}

// MarkRead rewrites the matching list element in place.
func (s *RedisStore) MarkRead(ctx context.Context, userID, id string) error {
	key := s.key(userID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	for i, entry := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(entry), &n); err != nil || n.ID != id {
			continue
		}
		if n.Read {
			return nil
		}
		n.Read = true
		updated, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		if err := s.client.LSet(ctx, key, int64(i), updated).Err(); err != nil {
			return fmt.Errorf("mark notification read: %w", err)
		}
		return nil
	}
	return ErrNotFound
}

func (s *RedisStore) MarkAllRead(ctx context.Context, userID string) error {
	key := s.key(userID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, entry := range raw {
			var n Notification
			if err := json.Unmarshal([]byte(entry), &n); err != nil || n.Read {
				continue
			}
			n.Read = true
			updated, err := json.Marshal(n)
			if err != nil {
				return err
			}
			pipe.LSet(ctx, key, int64(i), updated)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
