package rwlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRWLock_ReadersShare(t *testing.T) {
	l := New()
	l.RLock()
	l.RLock()

	done := make(chan struct{})
	go func() {
		l.RLock()
		l.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader blocked by other readers")
	}
	l.RUnlock()
	l.RUnlock()
}

func TestRWLock_WriterExcludesAll(t *testing.T) {
	l := New()
	l.Lock()

	var entered atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.RLock()
		entered.Add(1)
		l.RUnlock()
	}()
	go func() {
		defer wg.Done()
		l.Lock()
		entered.Add(1)
		l.Unlock()
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), entered.Load())

	l.Unlock()
	wg.Wait()
	assert.Equal(t, int32(2), entered.Load())
}

func TestRWLock_WriterWaitsForReaders(t *testing.T) {
	l := New()
	l.RLock()

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
		l.Unlock()
	}()

	waitForWriters(t, l, 1)

	select {
	case <-acquired:
		t.Fatal("writer entered while a reader held the lock")
	default:
	}

	l.RUnlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer not woken after last reader left")
	}
}

func waitForWriters(t *testing.T, l *RWLock, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.waitingWriters == n
	}, time.Second, time.Millisecond)
}

func TestRWLock_UnlockPrefersQueuedWriter(t *testing.T) {
	l := New()
	l.Lock()

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	record := func(who string) {
		mu.Lock()
		order = append(order, who)
		mu.Unlock()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		l.RLock()
		record("reader")
		l.RUnlock()
	}()
	// let the reader block on readReady before the writer queues up
	time.Sleep(50 * time.Millisecond)

	go func() {
		defer wg.Done()
		l.Lock()
		record("writer")
		l.Unlock()
	}()
	waitForWriters(t, l, 1)

	l.Unlock()
	wg.Wait()
	assert.Equal(t, []string{"writer", "reader"}, order)
}

func TestRWLock_UnlockWakesAllReaders(t *testing.T) {
	l := New()
	l.Lock()

	const readers = 3
	var (
		inside atomic.Int32
		wg     sync.WaitGroup
	)
	leave := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RLock()
			inside.Add(1)
			<-leave
			l.RUnlock()
		}()
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, inside.Load())

	l.Unlock()
	require.Eventually(t, func() bool {
		return inside.Load() == readers
	}, time.Second, time.Millisecond)

	close(leave)
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Zero(t, l.activeCount)
}

func TestRWLock_MutualExclusion(t *testing.T) {
	l := New()
	var (
		wg      sync.WaitGroup
		readers atomic.Int32
		writers atomic.Int32
		counter int
	)

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.Lock()
				if writers.Add(1) != 1 || readers.Load() != 0 {
					t.Error("writer overlapped another holder")
				}
				counter++
				writers.Add(-1)
				l.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.RLock()
				readers.Add(1)
				if writers.Load() != 0 {
					t.Error("reader overlapped a writer")
				}
				readers.Add(-1)
				l.RUnlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8*200, counter)
}

func TestRWLock_UnlockPanics(t *testing.T) {
	assert.Panics(t, func() { New().Unlock() })
	assert.Panics(t, func() { New().RUnlock() })
}
