package store

import (
	"context"
	"errors"
	"time"

	"twpm/internal/twerr"
)

// lockPollInterval is how often a waiting Acquire retries.
const lockPollInterval = 100 * time.Millisecond

// Acquire takes the exclusive manifest lock at path. With wait <= 0 it
// fails fast with Locked when another process holds it; otherwise it polls
// until wait elapses or ctx is done.
func Acquire(ctx context.Context, path string, wait time.Duration) (*Lock, error) {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	for {
		lock, err := tryLock(path)
		if err == nil {
			return lock, nil
		}
		if !isHeld(err) || wait <= 0 || time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(lockPollInterval):
		}
	}
}

func isHeld(err error) bool {
	return errors.Is(err, twerr.ErrLocked)
}
