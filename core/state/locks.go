package state

import (
	"context"
	"sort"
	"sync"
)

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// lockTable hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits on them.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

func (t *lockTable) ref(key string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		t.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (t *lockTable) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(t.entries, key)
	}
}

// acquire locks every key in ascending order so two callers sharing any subset
// of keys cannot deadlock. Duplicate keys are collapsed. On cancellation the
// keys already taken are released and ctx.Err() is returned.
func (t *lockTable) acquire(ctx context.Context, keys []string) ([]string, error) {
	ordered := normalizeKeys(keys)
	for i, key := range ordered {
		entry := t.ref(key)
		select {
		case entry.ch <- struct{}{}:
		case <-ctx.Done():
			t.unref(key)
			t.release(ordered[:i])
			return nil, ctx.Err()
		}
	}
	return ordered, nil
}

func (t *lockTable) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		t.mu.Lock()
		entry, ok := t.entries[key]
		t.mu.Unlock()
		if !ok {
			continue
		}
		<-entry.ch
		t.unref(key)
	}
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	ordered := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)
	return ordered
}
