package bboltx

import "go.etcd.io/bbolt"

// PanicSentinel wraps errors raised by Must() so that Recover() can tell them
// apart from other panics.
type PanicSentinel struct {
	Cause error
}

// Must panics with a PanicSentinel if err is non-nil.
func Must(err error) {
	if err != nil {
		panic(PanicSentinel{err})
	}
}

// Recover recovers from a panic raised by Must() and assigns its cause to
// *err. Any other panic is re-raised.
//
// It must be called directly in a defer statement.
func Recover(err *error) {
	if err == nil {
		panic("err must be a non-nil pointer")
	}

	switch v := recover().(type) {
	case nil:
	case PanicSentinel:
		*err = v.Cause
	default:
		panic(v)
	}
}

// Update runs fn within a read-write transaction. Errors raised by Must()
// within fn roll the transaction back and are returned.
func Update(db *bbolt.DB, fn func(tx *bbolt.Tx)) error {
	return db.Update(func(tx *bbolt.Tx) (err error) {
		defer Recover(&err)
		fn(tx)
		return nil
	})
}

// View runs fn within a read-only transaction.
func View(db *bbolt.DB, fn func(tx *bbolt.Tx)) error {
	return db.View(func(tx *bbolt.Tx) (err error) {
		defer Recover(&err)
		fn(tx)
		return nil
	})
}
