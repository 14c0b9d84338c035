package deckstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitLockSerializesPerUser(t *testing.T) {
	l := newCommitLock(nil)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "u1", func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive, "two commits for one user must never overlap")
}

func TestCommitLockUsersAreIndependent(t *testing.T) {
	l := newCommitLock(nil)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "u1", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	done := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "u2", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("another user's commit lock must not block u2")
	}
}

func TestCommitLockPropagatesError(t *testing.T) {
	l := newCommitLock(nil)

	wantErr := errors.New("commit exploded")
	err := l.WithLock(context.Background(), "u1", func() error { return wantErr })
	require.ErrorIs(t, err, wantErr)

	// The lock must be free again afterwards.
	require.NoError(t, l.WithLock(context.Background(), "u1", func() error { return nil }))
}
