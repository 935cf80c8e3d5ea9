package notify

import (
	"context"
	"sync"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
)

// MemoryStore is the single-process notification store.
type MemoryStore struct {
	mu    sync.Mutex
	opts  Options
	items map[string][]Notification
	now   func() time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:  opts.normalized(),
		items: make(map[string][]Notification),
		now:   time.Now,
	}
}

// live drops expired entries for userID. Callers hold mu.
func (s *MemoryStore) live(userID string) []Notification {
	cutoff := s.now().Add(-s.opts.Retention)
	current := s.items[userID]
	kept := current[:0]
	for _, n := range current {
		if !n.CreatedAt.Before(cutoff) {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		delete(s.items, userID)
		return nil
	}
	s.items[userID] = kept
	return kept
}

func (s *MemoryStore) Add(_ context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = util.NewID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.live(n.UserID)
	next := make([]Notification, 0, len(current)+1)
	next = append(next, n)
	next = append(next, current...)
	if len(next) > s.opts.Cap {
		next = next[:s.opts.Cap]
	}
	s.items[n.UserID] = next
	return n, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, limit int) ([]Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.live(userID)
	unread := countUnread(current)
	if limit > 0 && len(current) > limit {
		current = current[:limit]
	}
	out := make([]Notification, len(current))
	copy(out, current)
	return out, unread, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.live(userID)
	for i := range current {
		if current[i].ID == id {
			current[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.live(userID)
	for i := range current {
		current[i].Read = true
	}
	return nil
}
