package indexer

import "sync/atomic"

// IndexLock guards an ingestion run within one process.
// The database ingest lock extends the guarantee across processes.
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Held reports whether a run currently holds the lock.
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}
