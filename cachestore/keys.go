package cachestore

import "fmt"

// Key formats. Projections of different kinds are namespaced so that they
// never collide within a shared store.
const (
	projectionKeyFmt = "projection:%s:{%s}"
	lockKeyFmt       = "lock:" + projectionKeyFmt
	delayKeyFmt      = "delay:%s:%s"
	delayMaxKeyFmt   = delayKeyFmt + ":max"
)

// ProjectionKey returns the key of the projection of the given kind for the
// entity with the given ID.
func ProjectionKey(kind, id string) string {
	return fmt.Sprintf(projectionKeyFmt, kind, id)
}

// LockKey returns the key of the lock that serializes writers of the
// projection of the given kind for the entity with the given ID.
func LockKey(kind, id string) string {
	return fmt.Sprintf(lockKeyFmt, kind, id)
}

// DelayKey returns the key of the latest delay sample for a consumer group.
func DelayKey(stream, group string) string {
	return fmt.Sprintf(delayKeyFmt, stream, group)
}

// DelayMaxKey returns the key of the rolling maximum delay sample for a
// consumer group.
func DelayMaxKey(stream, group string) string {
	return fmt.Sprintf(delayMaxKeyFmt, stream, group)
}
