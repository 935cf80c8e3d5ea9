package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func stores(t *testing.T, opts Options, c *clock) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rs := NewRedisStore(client, opts)
	rs.now = c.now
	ms := NewMemoryStore(opts)
	ms.now = c.now
	return map[string]Store{"redis": rs, "memory": ms}
}

func TestAddListNewestFirst(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	for name, s := range stores(t, Options{}, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := s.Add(ctx, Notification{UserID: "usr_a", Kind: KindCommentReply, Title: fmt.Sprintf("n%d", i)})
				require.NoError(t, err)
			}
			_, err := s.Add(ctx, Notification{UserID: "usr_b", Title: "other"})
			require.NoError(t, err)

			items, unread, err := s.List(ctx, "usr_a", 0)
			require.NoError(t, err)
			require.Equal(t, 3, unread)
			require.Len(t, items, 3)
			require.Equal(t, "n2", items[0].Title)
			require.Equal(t, "n0", items[2].Title)
			require.NotEmpty(t, items[0].ID)

			limited, unread, err := s.List(ctx, "usr_a", 2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			require.Equal(t, 3, unread)
		})
	}
}

func TestCapKeepsNewest(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	for name, s := range stores(t, Options{Cap: 5}, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 8; i++ {
				_, err := s.Add(ctx, Notification{UserID: "usr_a", Title: fmt.Sprintf("n%d", i)})
				require.NoError(t, err)
			}
			items, _, err := s.List(ctx, "usr_a", 0)
			require.NoError(t, err)
			require.Len(t, items, 5)
			require.Equal(t, "n7", items[0].Title)
			require.Equal(t, "n3", items[4].Title)
		})
	}
}

func TestMarkRead(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	for name, s := range stores(t, Options{}, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Add(ctx, Notification{UserID: "usr_a", Title: "first"})
			require.NoError(t, err)
			_, err = s.Add(ctx, Notification{UserID: "usr_a", Title: "second"})
			require.NoError(t, err)

			require.NoError(t, s.MarkRead(ctx, "usr_a", first.ID))
			items, unread, err := s.List(ctx, "usr_a", 0)
			require.NoError(t, err)
			require.Equal(t, 1, unread)
			require.True(t, items[1].Read)
			require.False(t, items[0].Read)

			err = s.MarkRead(ctx, "usr_a", "ntf_missing")
			require.True(t, errors.Is(err, ErrNotFound))
			err = s.MarkRead(ctx, "usr_b", first.ID)
			require.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, s.MarkAllRead(ctx, "usr_a"))
			_, unread, err = s.List(ctx, "usr_a", 0)
			require.NoError(t, err)
			require.Zero(t, unread)
		})
	}
}

func TestRetentionDropsOldEntries(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	for name, s := range stores(t, Options{Retention: 24 * time.Hour}, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := c.t
			_, err := s.Add(ctx, Notification{UserID: "usr_a", Title: "old", CreatedAt: start.Add(-48 * time.Hour)})
			require.NoError(t, err)
			_, err = s.Add(ctx, Notification{UserID: "usr_a", Title: "fresh"})
			require.NoError(t, err)

			items, unread, err := s.List(ctx, "usr_a", 0)
			require.NoError(t, err)
			require.Len(t, items, 1)
			require.Equal(t, 1, unread)
			require.Equal(t, "fresh", items[0].Title)
		})
	}
}

func TestRedisListExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStore(client, Options{Retention: time.Hour})

	_, err := s.Add(context.Background(), Notification{UserID: "usr_a", Title: "x"})
	require.NoError(t, err)
	require.True(t, mr.Exists("notifications:usr_a"))
	mr.FastForward(2 * time.Hour)
	require.False(t, mr.Exists("notifications:usr_a"))
}
