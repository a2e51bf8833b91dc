// Package cache implements the TTL-checked, lock-guarded "ensure" pattern
// envrec uses in two places: the channel index's repodata refresh (§4.3,
// one-hour TTL) and the package cache's tarball extraction (§4.4, content-
// addressed, no TTL — once extracted, a {name}-{version}-{build} tree never
// goes stale). Both callers want the same shape: check if the expensive work
// already happened, and if not, make sure only one process does it.
package cache

import (
	"os"
	"time"
)

// IsFresh reports whether target exists and, when ttl is nonzero, was
// modified within ttl. A zero ttl means "fresh forever once it exists" —
// the policy an extracted package directory or a conda-meta record wants,
// since those are content-addressed and never need re-deriving.
func IsFresh(target string, ttl time.Duration) bool {
	info, err := os.Stat(target)
	if err != nil {
		return false
	}
	if ttl == 0 {
		return true
	}
	return time.Since(info.ModTime()) < ttl
}

// Ensure runs fn to produce target if it doesn't yet exist, serialized by a
// file lock so two envrec processes racing against the same pkgs dir don't
// both extract (or both download) the same package.
func Ensure(target string, fn func() error) error {
	return EnsureWithTTL(target, 0, fn)
}

// EnsureWithTTL runs fn to (re)produce target if it's missing or older than
// ttl, after acquiring a lock scoped to target. The freshness check is
// repeated after the lock is held, since another process may have just
// finished the same work while this one was waiting.
func EnsureWithTTL(target string, ttl time.Duration, fn func() error) error {
	if IsFresh(target, ttl) {
		return nil
	}

	unlock, err := Lock(target)
	if err != nil {
		return err
	}
	defer unlock()

	if IsFresh(target, ttl) {
		return nil
	}

	return fn()
}
