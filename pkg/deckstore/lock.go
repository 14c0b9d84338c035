package deckstore

import (
	"context"
	"fmt"
	"hash/crc32"
	"sync"

	"gorm.io/gorm"
)

// commitLock serializes commit-phase writes per user. Two items of one bulk
// job (or two jobs) racing to create the same folder or deck name must not
// interleave. PostgreSQL gets a session advisory lock held on a pinned
// connection so the discipline holds across processes; other dialects fall
// back to an in-process keyed mutex, which is sufficient for the
// single-process SQLite and test configurations they are used in.
type commitLock struct {
	db *gorm.DB

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func newCommitLock(db *gorm.DB) *commitLock {
	return &commitLock{db: db, users: map[string]*sync.Mutex{}}
}

// WithLock executes fn while holding the commit lock for userID.
func (l *commitLock) WithLock(ctx context.Context, userID string, fn func() error) error {
	if l.db != nil && l.db.Dialector.Name() == "postgres" {
		return l.withAdvisoryLock(ctx, userID, fn)
	}
	return l.withLocalLock(userID, fn)
}

func (l *commitLock) withAdvisoryLock(ctx context.Context, userID string, fn func() error) error {
	lockID := int64(crc32.ChecksumIEEE([]byte("deck-commit:" + userID)))

	// Advisory locks are session-scoped: lock and unlock must run on the
	// same connection, not whichever one the pool hands out next.
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("acquire commit lock: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire commit lock: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return fmt.Errorf("acquire commit lock: %w", err)
	}
	defer func() {
		// Release even when ctx was cancelled mid-commit; a leaked lock
		// blocks every later commit for this user.
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", lockID)
	}()

	return fn()
}

func (l *commitLock) withLocalLock(userID string, fn func() error) error {
	l.mu.Lock()
	m, ok := l.users[userID]
	if !ok {
		m = &sync.Mutex{}
		l.users[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn()
}
