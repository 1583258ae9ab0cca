package lock

import (
	"context"
	"sync"
)

// KeyedMutex is an in-process Locker. Entries are dropped once no goroutine
// holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (Lease, error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return &keyedLease{owner: k, key: key, entry: entry}, nil
	case <-ctx.Done():
		k.unref(key, entry)
		return nil, waitInterrupted(key, ctx.Err())
	}
}

func (k *KeyedMutex) unref(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && k.entries[key] == entry {
		delete(k.entries, key)
	}
}

// size reports tracked keys; used by tests to assert cleanup.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

type keyedLease struct {
	owner *KeyedMutex
	key   string
	entry *keyedEntry
	once  sync.Once
}

func (l *keyedLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.entry.ch
		l.owner.unref(l.key, l.entry)
	})
	return nil
}
