package execution

import "sync"

// KeyedLocks is a set of non-blocking per-candidate locks.
type KeyedLocks struct {
	mu    sync.Mutex
	owner map[string]string
}

// NewKeyedLocks creates an empty lock set.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{owner: make(map[string]string)}
}

// TryLock acquires key for owner, returning false if already held.
func (k *KeyedLocks) TryLock(key, owner string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, held := k.owner[key]; held {
		return false
	}
	k.owner[key] = owner
	return true
}

// Unlock releases key if owner holds it.
func (k *KeyedLocks) Unlock(key, owner string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.owner[key] == owner {
		delete(k.owner, key)
	}
}

// Held reports whether key is locked.
func (k *KeyedLocks) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	_, held := k.owner[key]
	return held
}

// Len returns the number of held locks.
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.owner)
}
