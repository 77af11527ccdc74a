package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrPushBusy is returned when another push of the organization holds the
// lock for longer than the caller is willing to wait
var ErrPushBusy = errors.New("push already in progress for organization")

// PushLock serializes pushes of one organization.
type PushLock interface {
	Acquire(ctx context.Context, orgID string) (release func(), err error)
}

// LocalPushLock is an in-process PushLock for a single server instance.
type LocalPushLock struct {
	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

// NewLocalPushLock creates an in-process push lock
func NewLocalPushLock() *LocalPushLock {
	return &LocalPushLock{locks: make(map[string]*gosync.Mutex)}
}

// Acquire blocks until the organization's lock is free.
func (l *LocalPushLock) Acquire(ctx context.Context, orgID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[orgID]
	if !ok {
		m = &gosync.Mutex{}
		l.locks[orgID] = m
	}
	l.mu.Unlock()

	m.Lock()
	if err := ctx.Err(); err != nil {
		m.Unlock()
		return nil, err
	}
	return m.Unlock, nil
}

// RedisPushLock shares the push lock between server instances through Redis.
type RedisPushLock struct {
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisPushLock creates a push lock on top of a Redis client. ttl bounds
// how long a crashed holder can block others; wait bounds how long Acquire
// retries.
func NewRedisPushLock(rdb *redis.Client, ttl, wait time.Duration) *RedisPushLock {
	return &RedisPushLock{locker: redislock.New(rdb), ttl: ttl, wait: wait}
}

// Acquire obtains "sync:push:<org>" with linear backoff until wait elapses.
// The lock is refreshed every ttl/2 until released, so a push that outlives
// ttl keeps it.
func (l *RedisPushLock) Acquire(ctx context.Context, orgID string) (func(), error) {
	key := fmt.Sprintf("sync:push:%s", orgID)
	lockCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lock, err := l.locker.Obtain(lockCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(100 * time.Millisecond),
	})
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("%w: %s", ErrPushBusy, orgID)
	} else if err != nil {
		return nil, fmt.Errorf("obtain push lock: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, orgID, stop, done)

	var once gosync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := lock.Release(context.Background()); err != nil && err != redislock.ErrLockNotHeld {
				log.WithError(err).WithField("org", orgID).Warn("Failed to release push lock")
			}
		})
	}, nil
}

func (l *RedisPushLock) keepAlive(lock *redislock.Lock, orgID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := lock.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				log.WithError(err).WithField("org", orgID).Error("Failed to refresh push lock")
				return
			}
		}
	}
}
