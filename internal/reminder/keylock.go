package reminder

import "sync"

// KeyLocks hands out one mutex per Key. Entries are refcounted and removed
// when the last holder unlocks, so the table only holds keys in flight.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until k is held and returns its unlock func. Unlocking twice
// is a no-op.
func (l *KeyLocks) Lock(k Key) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[Key]*keyLock)
	}
	kl := l.locks[k]
	if kl == nil {
		kl = &keyLock{}
		l.locks[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()
			l.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(l.locks, k)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports the number of keys currently locked or waited on.
func (l *KeyLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
