package redis

import "errors"

var (
	// ErrLockHeld is returned by TryLock when another holder owns the key.
	ErrLockHeld = errors.New("redis: lock held by another holder")

	// ErrLockLost is returned by Release when the lock expired before release.
	ErrLockLost = errors.New("redis: lock expired before release")
)
