package paths

import "sync"

// KeyedLocks serializes access to the set of files belonging to one video.
// Mutexes are created on first use and intentionally never removed; removal
// would race against a goroutine still holding a reference.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedLocks) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

// WithLock runs fn while holding the mutex for key. The mutex is released
// even when fn panics.
func (k *KeyedLocks) WithLock(key string, fn func()) {
	lock := k.lockFor(key)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// WithLockE is WithLock for functions that return an error
func (k *KeyedLocks) WithLockE(key string, fn func() error) error {
	lock := k.lockFor(key)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
