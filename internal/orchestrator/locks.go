package orchestrator

import "sync"

// instanceLocks serializes mutation per instance. Human-facing operations
// use tryAcquire so a second concurrent submission fails fast instead of
// queueing behind the first; the background driver blocks with acquire.
type instanceLocks struct {
	locks sync.Map // instanceID -> *sync.Mutex
}

func (l *instanceLocks) get(instanceID string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(instanceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// acquire blocks until the instance lock is held and returns the release
// function.
func (l *instanceLocks) acquire(instanceID string) func() {
	mu := l.get(instanceID)
	mu.Lock()
	return mu.Unlock
}

// tryAcquire takes the instance lock without blocking. The second value is
// false when another operation is already in flight for the instance.
func (l *instanceLocks) tryAcquire(instanceID string) (func(), bool) {
	mu := l.get(instanceID)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

// forget drops the lock entry for a deleted instance.
func (l *instanceLocks) forget(instanceID string) {
	l.locks.Delete(instanceID)
}
