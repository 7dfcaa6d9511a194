package bboltx

import (
	"context"
	"errors"
	"os"

	"github.com/dogmatiq/linger"
	"go.etcd.io/bbolt"
)

// Open opens the database file at path, creating it if necessary.
//
// bbolt holds an exclusive file lock on the database while it is open. Open
// waits for that lock until ctx is canceled or its deadline passes, whichever
// is sooner than opts.Timeout.
func Open(
	ctx context.Context,
	path string,
	opts *bbolt.Options,
) (*bbolt.DB, error) {
	// bbolt treats a non-positive timeout as "wait forever".
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		clone := *bbolt.DefaultOptions
		if opts != nil {
			clone = *opts
		}

		if clone.Timeout == 0 || clone.Timeout > timeout {
			clone.Timeout = timeout
		}

		opts = &clone
	}

	db, err := bbolt.Open(path, os.FileMode(0600), opts)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, context.DeadlineExceeded
	}

	return db, err
}
