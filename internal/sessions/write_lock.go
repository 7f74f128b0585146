package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// SessionLock tracks the holder of a single session's write lock.
type SessionLock struct {
	sessionID string
	holder    string
	acquired  time.Time

	mu     sync.Mutex
	cond   *sync.Cond
	locked bool
}

// SessionLockManager hands out per-session write locks so that concurrent
// requests touching the same session (two agent turns, an API edit racing
// a running turn) serialize instead of interleaving writes. Locks for
// sessions that go quiet are reclaimed by a background sweep.
type SessionLockManager struct {
	mu    sync.RWMutex
	locks map[string]*SessionLock

	defaultTTL time.Duration

	stop chan struct{}
}

// NewSessionLockManager starts a manager whose idle locks are swept every
// five minutes.
func NewSessionLockManager(defaultTTL time.Duration) *SessionLockManager {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	m := &SessionLockManager{
		locks:      make(map[string]*SessionLock),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *SessionLockManager) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stop:
			return
		}
	}
}

func (m *SessionLockManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.defaultTTL)
	for id, l := range m.locks {
		l.mu.Lock()
		idle := !l.locked && l.acquired.Before(cutoff)
		l.mu.Unlock()
		if idle {
			delete(m.locks, id)
		}
	}
}

// Stop halts the background sweep. Safe to call once.
func (m *SessionLockManager) Stop() { close(m.stop) }

func (m *SessionLockManager) getOrCreate(sessionID string) *SessionLock {
	m.mu.RLock()
	l, ok := m.locks[sessionID]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[sessionID]; ok {
		return l
	}
	l = &SessionLock{sessionID: sessionID}
	l.cond = sync.NewCond(&l.mu)
	m.locks[sessionID] = l
	return l
}

// Acquire blocks until the session's lock is free, ctx is cancelled, or
// timeout elapses (0 means wait indefinitely, bounded only by ctx), then
// returns a release function. The caller must call the release function
// exactly once.
func (m *SessionLockManager) Acquire(ctx context.Context, sessionID, holder string, timeout time.Duration) (func(), error) {
	l := m.getOrCreate(sessionID)

	done := make(chan struct{})
	var timedOut bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			l.mu.Lock()
			timedOut = true
			l.cond.Broadcast()
			l.mu.Unlock()
		})
		defer timer.Stop()
	}

	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-done:
		}
	}()

	l.mu.Lock()
	for l.locked {
		if ctx.Err() != nil {
			l.mu.Unlock()
			close(done)
			return nil, ctx.Err()
		}
		if timedOut {
			l.mu.Unlock()
			close(done)
			return nil, fmt.Errorf("session %s: lock timeout waiting on holder %s", sessionID, l.holder)
		}
		l.cond.Wait()
	}
	l.locked = true
	l.holder = holder
	l.acquired = time.Now()
	l.mu.Unlock()
	close(done)

	release := func() {
		l.mu.Lock()
		l.locked = false
		l.holder = ""
		l.cond.Broadcast()
		l.mu.Unlock()
	}
	return release, nil
}

// TryAcquire attempts to acquire the lock without blocking.
func (m *SessionLockManager) TryAcquire(sessionID, holder string) (func(), bool) {
	l := m.getOrCreate(sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return nil, false
	}
	l.locked = true
	l.holder = holder
	l.acquired = time.Now()
	return func() {
		l.mu.Lock()
		l.locked = false
		l.holder = ""
		l.cond.Broadcast()
		l.mu.Unlock()
	}, true
}

// IsLocked reports whether a session currently has its lock held.
func (m *SessionLockManager) IsLocked(sessionID string) bool {
	l := m.getOrCreate(sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// LockingStore wraps a Store so that every write to a given session
// serializes against concurrent writes to the same session.
type LockingStore struct {
	Store
	locks  *SessionLockManager
	holder string
}

// NewLockingStore wraps store with per-session locking. holder identifies
// this process/worker in lock-contention errors.
func NewLockingStore(store Store, locks *SessionLockManager, holder string) *LockingStore {
	return &LockingStore{Store: store, locks: locks, holder: holder}
}

func (s *LockingStore) withLock(ctx context.Context, sessionID string, fn func() error) error {
	release, err := s.locks.Acquire(ctx, sessionID, s.holder, 0)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *LockingStore) Create(ctx context.Context, session *models.Session) error {
	return s.withLock(ctx, session.ID, func() error { return s.Store.Create(ctx, session) })
}

func (s *LockingStore) Update(ctx context.Context, session *models.Session) error {
	return s.withLock(ctx, session.ID, func() error { return s.Store.Update(ctx, session) })
}

func (s *LockingStore) Delete(ctx context.Context, id string) error {
	return s.withLock(ctx, id, func() error { return s.Store.Delete(ctx, id) })
}

func (s *LockingStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	return s.withLock(ctx, sessionID, func() error { return s.Store.AppendMessage(ctx, sessionID, msg) })
}

func (s *LockingStore) DeleteMessage(ctx context.Context, sessionID, messageID string, includeFollowing bool) error {
	return s.withLock(ctx, sessionID, func() error {
		return s.Store.DeleteMessage(ctx, sessionID, messageID, includeFollowing)
	})
}

func (s *LockingStore) ClearMessages(ctx context.Context, sessionID string) error {
	return s.withLock(ctx, sessionID, func() error { return s.Store.ClearMessages(ctx, sessionID) })
}

// WithLock runs fn while holding sessionID's write lock, for callers that
// need several Store operations to appear atomic to other writers.
func (s *LockingStore) WithLock(ctx context.Context, sessionID string, fn func(Store) error) error {
	return s.withLock(ctx, sessionID, func() error { return fn(s.Store) })
}
