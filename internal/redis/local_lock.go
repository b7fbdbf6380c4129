package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker serializes doctors within one process. It is used when the API
// runs as a single replica without Redis, and in tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*localLock
	ttl   time.Duration
	wait  time.Duration
}

type localLock struct {
	sem     chan struct{}
	waiters int
}

func NewLocalLocker(ttl, wait time.Duration) *LocalLocker {
	return &LocalLocker{
		locks: make(map[uuid.UUID]*localLock),
		ttl:   ttl,
		wait:  wait,
	}
}

func (l *LocalLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	lk := l.ref(doctorID)
	defer l.unref(doctorID, lk)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case lk.sem <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lk.sem }()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *LocalLocker) ref(id uuid.UUID) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[id]
	if !ok {
		lk = &localLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.waiters++
	return lk
}

func (l *LocalLocker) unref(id uuid.UUID, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.waiters--
	if lk.waiters == 0 {
		delete(l.locks, id)
	}
}
