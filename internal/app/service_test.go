package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
)

func chainLookup(items map[string]store.ThreadItem) func(context.Context, string) (store.ThreadItem, error) {
	return func(_ context.Context, id string) (store.ThreadItem, error) {
		item, ok := items[id]
		if !ok {
			return store.ThreadItem{}, sql.ErrNoRows
		}
		return item, nil
	}
}

func chain(n int) map[string]store.ThreadItem {
	items := make(map[string]store.ThreadItem, n)
	for i := 1; i <= n; i++ {
		item := store.ThreadItem{ID: fmt.Sprintf("c%d", i)}
		if i > 1 {
			parent := fmt.Sprintf("c%d", i-1)
			item.ParentID = &parent
		}
		items[item.ID] = item
	}
	return items
}

func TestThreadDepth(t *testing.T) {
	ctx := context.Background()
	items := chain(5)

	depth, err := threadDepth(ctx, items["c5"], chainLookup(items))
	if err != nil || depth != 5 {
		t.Fatalf("depth = %d err = %v, want 5", depth, err)
	}

	// A deleted ancestor makes the remaining subtree a root.
	delete(items, "c2")
	depth, err = threadDepth(ctx, items["c5"], chainLookup(items))
	if err != nil || depth != 3 {
		t.Fatalf("depth after delete = %d err = %v, want 3", depth, err)
	}
}

func TestThreadDepthStopsPastLimit(t *testing.T) {
	items := chain(maxThreadDepth * 3)
	calls := 0
	lookup := chainLookup(items)
	depth, err := threadDepth(context.Background(), items[fmt.Sprintf("c%d", maxThreadDepth*3)], func(ctx context.Context, id string) (store.ThreadItem, error) {
		calls++
		return lookup(ctx, id)
	})
	if err != nil || depth <= maxThreadDepth {
		t.Fatalf("depth = %d err = %v, want more than %d", depth, err, maxThreadDepth)
	}
	if calls > maxThreadDepth {
		t.Fatalf("lookups = %d, want at most %d", calls, maxThreadDepth)
	}
}

func TestThreadDepthPropagatesErrors(t *testing.T) {
	items := chain(2)
	boom := errors.New("connection reset")
	_, err := threadDepth(context.Background(), items["c2"], func(context.Context, string) (store.ThreadItem, error) {
		return store.ThreadItem{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
