// Package lock serializes work per user. A held lock is never waited on:
// callers learn immediately that the user is busy.
package lock

import "context"

// Release frees a lock obtained from TryLock. It is safe to call more than once.
type Release func()

type Locker interface {
	TryLock(ctx context.Context, key string) (Release, bool, error)
}
