package compaction

import "sync"

// LockManager provides exclusive, non-blocking locks scoped to a partition
// path. Failing to acquire is a recoverable per-partition condition, never
// fatal to a run. A distributed deployment substitutes an implementation
// over its coordination service.
type LockManager interface {
	// TryLock attempts to acquire the lock for path without blocking.
	// On success it returns a release function and true.
	TryLock(path string) (release func(), ok bool)
}

// keyedLocks is the in-process LockManager.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockManager creates an in-process keyed lock manager.
func NewLockManager() LockManager {
	return &keyedLocks{held: make(map[string]struct{})}
}

func (l *keyedLocks) TryLock(path string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[path]; taken {
		return nil, false
	}
	l.held[path] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, path)
			l.mu.Unlock()
		})
	}
	return release, true
}
