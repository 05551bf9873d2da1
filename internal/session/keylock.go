package session

import (
	"sort"
	"sync"
)

// keyLocks hands out mutexes by string key. Entries are reference counted
// and dropped when the last holder unlocks.
type keyLocks struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: make(map[string]*keyEntry)}
}

// lock acquires every key in sorted order and returns the matching unlock.
func (l *keyLocks) lock(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	sorted = dedupe(sorted)

	held := make([]*keyEntry, 0, len(sorted))
	for _, k := range sorted {
		l.mu.Lock()
		e, ok := l.entries[k]
		if !ok {
			e = &keyEntry{}
			l.entries[k] = e
		}
		e.refs++
		l.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.entries, sorted[i])
			}
			l.mu.Unlock()
		}
	}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			out = append(out, k)
		}
	}
	return out
}
