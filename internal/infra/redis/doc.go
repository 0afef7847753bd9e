// Package redis provides the Redis connection shared with the task queue and a
// SET NX PX lock that keeps the repository sweep to one running instance.
//
// # Usage
//
//	client, err := redis.New(&cfg.Redis, log)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	lock, err := client.TryLock(ctx, "scangate:lock:repository-sweep", 5*time.Minute)
//	if errors.Is(err, redis.ErrLockHeld) {
//		return nil // another process is sweeping
//	}
//	defer lock.Release(ctx)
package redis
