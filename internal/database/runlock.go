package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// LockHolder identifies this process in run lock bookkeeping.
func LockHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// WithRunLock runs fn while holding the single-writer run lock.
func WithRunLock(ctx context.Context, locker RunLocker, holder string, fn func(ctx context.Context) error) (err error) {
	release, err := locker.TryLockRun(ctx, holder)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			slog.Warn("failed to release run lock", "holder", holder, "error", rerr)
			err = errors.Join(err, rerr)
		}
	}()
	return fn(ctx)
}
