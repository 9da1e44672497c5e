// Package rwlock provides a reader/writer lock that prefers writers: while a
// writer is queued, a release wakes it instead of the waiting readers.
// Sustained write pressure can starve readers.
package rwlock

import "sync"

// RWLock is a monitor over one mutex and two condition variables.
// The zero value is not usable; call New.
type RWLock struct {
	mu         sync.Mutex
	readReady  *sync.Cond
	writeReady *sync.Cond

	// >0 active readers, -1 active writer, 0 idle
	activeCount    int
	waitingWriters int
}

func New() *RWLock {
	l := &RWLock{}
	l.readReady = sync.NewCond(&l.mu)
	l.writeReady = sync.NewCond(&l.mu)
	return l
}

func (l *RWLock) RLock() {
	l.mu.Lock()
	for l.activeCount < 0 {
		l.readReady.Wait()
	}
	l.activeCount++
	l.mu.Unlock()
}

func (l *RWLock) RUnlock() {
	l.mu.Lock()
	if l.activeCount <= 0 {
		l.mu.Unlock()
		panic("rwlock: RUnlock of unlocked RWLock")
	}
	l.activeCount--
	l.release()
}

func (l *RWLock) Lock() {
	l.mu.Lock()
	for l.activeCount != 0 {
		l.waitingWriters++
		l.writeReady.Wait()
		l.waitingWriters--
	}
	l.activeCount = -1
	l.mu.Unlock()
}

func (l *RWLock) Unlock() {
	l.mu.Lock()
	if l.activeCount != -1 {
		l.mu.Unlock()
		panic("rwlock: Unlock of unlocked RWLock")
	}
	l.activeCount++
	l.release()
}

// release is called with mu held and unlocks it.
func (l *RWLock) release() {
	active, waiting := l.activeCount, l.waitingWriters
	l.mu.Unlock()

	switch {
	case waiting == 0:
		l.readReady.Broadcast()
	case active == 0:
		l.writeReady.Signal()
	}
}
