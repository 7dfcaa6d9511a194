package projection

import (
	"errors"
	"fmt"
	"time"
)

// CacheUnavailableError indicates that the cache store could not be reached
// or failed to perform an operation.
type CacheUnavailableError struct {
	Op    string
	Key   string
	Cause error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("cache store is unavailable (%s %s): %s", e.Op, e.Key, e.Cause)
}

func (e *CacheUnavailableError) Unwrap() error {
	return e.Cause
}

// LockTimeoutError indicates that the lock on an entity's projection could
// not be acquired in time, or that another writer modified the projection
// while this writer believed it held the lock.
type LockTimeoutError struct {
	Kind    Kind
	ID      string
	Timeout time.Duration

	// Conflict is true if the lock was acquired but the projection changed
	// before it could be saved, which happens when the lock expires while it
	// is held.
	Conflict bool
}

func (e *LockTimeoutError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("%s projection of %s was modified concurrently", e.Kind, e.ID)
	}

	return fmt.Sprintf("timed out after %s waiting for the lock on the %s projection of %s", e.Timeout, e.Kind, e.ID)
}

// FoldError indicates that a fold function rejected an event.
type FoldError struct {
	Kind     Kind
	ID       string
	Position uint64
	Cause    error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf(
		"unable to apply event at position %d to the %s projection of %s: %s",
		e.Position,
		e.Kind,
		e.ID,
		e.Cause,
	)
}

func (e *FoldError) Unwrap() error {
	return e.Cause
}

// IsTransient returns true if err may succeed if the operation is retried.
//
// Fold errors and errors that are not produced by this package are never
// transient.
func IsTransient(err error) bool {
	var (
		unavailable *CacheUnavailableError
		timeout     *LockTimeoutError
		fold        *FoldError
	)

	if errors.As(err, &fold) {
		return false
	}

	return errors.As(err, &unavailable) || errors.As(err, &timeout)
}
