package boltdbtest

import (
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// TempPath returns the path of a not-yet-existing database file within a new
// temporary directory.
//
// The returned function removes the directory and everything in it.
func TempPath() (string, func()) {
	dir, err := os.MkdirTemp("", "vista-boltdb-")
	if err != nil {
		panic(err)
	}

	return filepath.Join(dir, "cache.db"), func() {
		os.RemoveAll(dir)
	}
}

// Open opens a BoltDB database in a temporary directory.
//
// The returned function must be used to close the database, instead of
// DB.Close().
func Open() (*bbolt.DB, func()) {
	path, remove := TempPath()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		remove()
		panic(err)
	}

	return db, func() {
		db.Close()
		remove()
	}
}
