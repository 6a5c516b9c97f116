package txn

import "sync"

// VersionTracker caches the last observed version per database. It is a plain
// cache: Set overwrites unconditionally and entries are never removed. The
// monotonic policy lives in Builder.ApplyVersion.
type VersionTracker struct {
	mu       sync.RWMutex
	versions map[string]int64
}

// NewVersionTracker returns an empty tracker.
func NewVersionTracker() *VersionTracker {
	return &VersionTracker{versions: make(map[string]int64)}
}

// Get returns the cached version for db, or 0 when none was observed.
func (t *VersionTracker) Get(db string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.versions[db]
}

// Set overwrites the cached version for db.
func (t *VersionTracker) Set(db string, version int64) {
	t.mu.Lock()
	t.versions[db] = version
	t.mu.Unlock()
}

// Len returns the number of databases with a cached version.
func (t *VersionTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.versions)
}

// Snapshot copies the cache.
func (t *VersionTracker) Snapshot() map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int64, len(t.versions))
	for k, v := range t.versions {
		out[k] = v
	}
	return out
}
